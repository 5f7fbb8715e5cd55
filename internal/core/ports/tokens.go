package ports

// TokenCounter estimates the number of tokens in a piece of text for a model.
type TokenCounter interface {
	CountText(model, text string) int
}
