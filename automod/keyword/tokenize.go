package keyword

import (
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

func foldString(text string) string {
	// the transformer is stateful, so it can't be shared between goroutines
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(normFunc, text)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return text
	}
	return out
}

// Folds free-form text for pattern matching: lower-case, unicode normalized, with combining marks (accents) removed.
//
// Punctuation and whitespace are kept as-is, because rule catalog patterns match on word boundaries and separators.
func FoldText(text string) string {
	return strings.ToLower(foldString(text))
}
