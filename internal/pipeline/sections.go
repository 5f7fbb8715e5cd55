package pipeline

import "strings"

// SectionHeader maps a literal header marker to a section key.
type SectionHeader struct {
	Marker string
	Key    string
}

// ParseSections splits text into the sections named by headers. Every key
// is present in the result. A line is a boundary when, after trimming, it
// starts with a marker; the first matching header in declaration order wins.
// Text before the first boundary is discarded and each body is trimmed.
func ParseSections(text string, headers []SectionHeader) map[string]string {
	sections := make(map[string]string, len(headers))
	for _, h := range headers {
		sections[h.Key] = ""
	}
	if strings.TrimSpace(text) == "" {
		return sections
	}

	var (
		current string
		active  bool
		buffer  []string
	)
	flush := func() {
		if active {
			sections[current] = strings.TrimSpace(strings.Join(buffer, "\n"))
		}
	}

	for _, line := range splitLines(text) {
		if key, ok := matchHeader(strings.TrimSpace(line), headers); ok {
			flush()
			current, active, buffer = key, true, buffer[:0]
			continue
		}
		if active {
			buffer = append(buffer, line)
		}
	}
	flush()

	return sections
}

// RenderSections joins sections back into text using the header markers in
// declaration order. Empty sections are rendered as a bare header.
func RenderSections(sections map[string]string, headers []SectionHeader) string {
	parts := make([]string, 0, len(headers))
	for _, h := range headers {
		body := sections[h.Key]
		if body == "" {
			parts = append(parts, h.Marker)
			continue
		}
		parts = append(parts, h.Marker+"\n"+body)
	}
	return strings.Join(parts, "\n\n")
}

func matchHeader(line string, headers []SectionHeader) (string, bool) {
	for _, h := range headers {
		if h.Marker != "" && strings.HasPrefix(line, h.Marker) {
			return h.Key, true
		}
	}
	return "", false
}

func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.Split(text, "\n")
}
