package helpers

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"github.com/spaolacci/murmur3"
)

func DedupeStrings(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range in {
		if !seen[v] {
			out = append(out, v)
			seen[v] = true
		}
	}
	return out
}

// returns a fast, compact hash of a string
//
// current implementation uses murmur3, default seed, and hex encoding
func HashOfString(s string) string {
	val := murmur3.Sum64([]byte(s))
	return fmt.Sprintf("%016x", val)
}

// based on: https://stackoverflow.com/a/48769624, with no trailing period allowed
var urlRegex = regexp.MustCompile(`(?:(?:https?|ftp):\/\/)?[\w/\-?=%.]+\.[\w/\-&?=%.]*[\w/\-&?=%]+`)

func ExtractTextURLs(raw string) []string {
	return urlRegex.FindAllString(raw, -1)
}

// Like ExtractTextURLs, but returns absolute URLs: bare hostnames get an "https://" scheme, and duplicates are dropped.
func ExtractTextLinks(raw string) []string {
	var out []string
	for _, u := range ExtractTextURLs(raw) {
		if !strings.Contains(u, "://") {
			u = "https://" + u
		}
		out = append(out, u)
	}
	return DedupeStrings(out)
}

// Trims whitespace and truncates to at most n grapheme clusters, so multi-rune characters (eg, flag emoji) are never split.
func Truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return s[:graphemePrefix(s, n)]
}

// Collapses whitespace and shortens to at most n grapheme clusters, marking truncation with an ellipsis.
func Excerpt(s string, n int) string {
	t := strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(t) <= n || graphemePrefix(t, n) == len(t) {
		return t
	}
	return t[:graphemePrefix(t, n-1)] + "…"
}

// byte offset just past the first n grapheme clusters of s
func graphemePrefix(s string, n int) int {
	end := 0
	gr := uniseg.NewGraphemes(s)
	for i := 0; i < n && gr.Next(); i++ {
		_, end = gr.Positions()
	}
	return end
}
