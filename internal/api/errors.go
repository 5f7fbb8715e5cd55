package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/theory-council/internal/core/domain"
	"github.com/tjfontaine/theory-council/internal/server"
)

// ErrorResponse is the body of every non-streaming error.
type ErrorResponse struct {
	Error *domain.APIError `json:"error"`
}

// writeError writes err as a JSON error body with the matching status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	server.AddError(r.Context(), err)

	var apiErr *domain.APIError
	if errors.Is(err, context.DeadlineExceeded) && !errors.As(err, &apiErr) {
		apiErr = domain.ErrServer("request timed out").WithStatusCode(http.StatusGatewayTimeout)
	} else {
		apiErr = domain.AsAPIError(err)
	}

	writeJSON(w, apiErr.HTTPStatusCode(), ErrorResponse{Error: apiErr})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Default().Error("failed to encode response", slog.String("error", err.Error()))
	}
}
