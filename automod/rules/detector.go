// Pattern-based rule detection over submitted text, content tags, and media descriptors.
//
// Detection is pure and deterministic: no network or store access happens here, and a Detector is safe for concurrent use.
package rules

import (
	"strings"

	"github.com/commonsforum/sieve/automod/helpers"
	"github.com/commonsforum/sieve/automod/keyword"
)

const (
	// media item with explicit alt-text
	MediaFlagNSFW = "nsfw"
	// media URL matched the known-bad media blocklist
	MediaFlagHashMatch = "hash_match"
)

// Rule ids which fired, grouped by severity. Both lists are always non-nil, so they serialize as JSON arrays.
type Hits struct {
	P0 []string `json:"P0"`
	P1 []string `json:"P1"`
}

func NewHits() Hits {
	return Hits{P0: []string{}, P1: []string{}}
}

func (h Hits) HasP0() bool {
	return len(h.P0) > 0
}

func (h Hits) HasP1() bool {
	return len(h.P1) > 0
}

// Media descriptor attached to a submission.
type Media struct {
	URL     string `json:"url,omitempty"`
	Mime    string `json:"mime,omitempty"`
	AltText string `json:"alt_text,omitempty"`
}

type Result struct {
	Hits       Hits     `json:"rule_hits"`
	MediaFlags []string `json:"media_flags"`
}

func (r Result) HasMediaFlag(flag string) bool {
	return keyword.TokenInSet(flag, r.MediaFlags)
}

type Detector struct {
	Catalog *Catalog
	// murmur3 hashes of known-bad media URLs
	blockedMedia map[string]bool
}

func NewDetector(cat *Catalog, blockedMediaHashes []string) *Detector {
	if cat == nil {
		cat = DefaultCatalog()
	}
	blocked := make(map[string]bool, len(blockedMediaHashes))
	for _, h := range blockedMediaHashes {
		blocked[h] = true
	}
	return &Detector{
		Catalog:      cat,
		blockedMedia: blocked,
	}
}

func (d *Detector) Detect(text string, tags []string, media []Media) Result {
	hits := NewHits()
	folded := keyword.FoldText(text)
	for _, r := range d.Catalog.Rules {
		if !r.re.MatchString(folded) {
			continue
		}
		switch r.Severity {
		case SeverityP0:
			hits.P0 = append(hits.P0, r.ID)
		case SeverityP1:
			hits.P1 = append(hits.P1, r.ID)
		}
	}

	// explicit tags add hits even when the text doesn't match anything
	normTags := keyword.NormalizeTags(tags)
	for _, t := range d.Catalog.Tags {
		if keyword.TokenInSet(t.Tag, normTags) {
			hits.P1 = append(hits.P1, t.ID)
		}
	}

	flags := []string{}
	for _, m := range media {
		if d.explicitMedia(m) {
			flags = append(flags, MediaFlagNSFW)
		}
		if m.URL != "" && len(d.blockedMedia) > 0 && d.blockedMedia[helpers.HashOfString(strings.TrimSpace(m.URL))] {
			flags = append(flags, MediaFlagHashMatch)
		}
	}

	return Result{Hits: hits, MediaFlags: flags}
}

func (d *Detector) explicitMedia(m Media) bool {
	policy := d.Catalog.Media
	if policy.re == nil {
		return false
	}
	mime := strings.ToLower(strings.TrimSpace(m.Mime))
	eligible := false
	for _, p := range policy.MimePrefixes {
		if strings.HasPrefix(mime, p) {
			eligible = true
			break
		}
	}
	return eligible && policy.re.MatchString(m.AltText)
}
