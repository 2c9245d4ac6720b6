package keyword

import (
	"slices"
	"strings"
)

// Helper to check a single token against a list of tokens
func TokenInSet(tok string, set []string) bool {
	return slices.Contains(set, tok)
}

// Normalizes a user-supplied content tag (eg, "Graphic-Violence ") for comparison against catalog tags.
func NormalizeTag(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Normalizes a list of content tags, dropping empty values.
func NormalizeTags(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if n := NormalizeTag(t); n != "" {
			out = append(out, n)
		}
	}
	return out
}
