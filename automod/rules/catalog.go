package rules

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

type Severity string

const (
	// hard violation; forces blocking regardless of other signals
	SeverityP0 Severity = "P0"
	// soft flag; contributes to the risk score
	SeverityP1 Severity = "P1"
)

// A single text pattern rule. Patterns are RE2 syntax, matched case-insensitively against folded text.
type Rule struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Category string   `json:"category"`
	Pattern  string   `json:"pattern"`

	re *regexp.Regexp
}

// Maps an explicit content tag attached by the submitter to a P1 hit.
type TagRule struct {
	Tag      string `json:"tag"`
	ID       string `json:"id"`
	Category string `json:"category"`
}

type MediaPolicy struct {
	// declared MIME type prefixes which are eligible for the explicit-content check
	MimePrefixes []string `json:"mime_prefixes"`
	// pattern matched against media alt-text
	ExplicitAltPattern string `json:"explicit_alt_pattern"`

	re *regexp.Regexp
}

// Ordered, versionable rule data. Rules fire in catalog order, which is also the order of rule ids in results.
type Catalog struct {
	Version string      `json:"version"`
	Rules   []Rule      `json:"rules"`
	Tags    []TagRule   `json:"tags"`
	Media   MediaPolicy `json:"media"`
}

//go:embed catalog.json
var defaultCatalogJSON []byte

// Returns the built-in rule catalog.
func DefaultCatalog() *Catalog {
	cat, err := ParseCatalog(defaultCatalogJSON)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in rule catalog: %v", err))
	}
	return cat
}

// Loads a rule catalog from a JSON file, in the same format as the built-in catalog.
func LoadCatalogFile(p string) (*Catalog, error) {
	raw, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	cat, err := ParseCatalog(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return cat, nil
}

// Parses and compiles a rule catalog.
func ParseCatalog(raw []byte) (*Catalog, error) {
	var cat Catalog
	if err := json.Unmarshal(raw, &cat); err != nil {
		return nil, fmt.Errorf("parsing rule catalog: %w", err)
	}
	if err := cat.compile(); err != nil {
		return nil, err
	}
	return &cat, nil
}

func (cat *Catalog) compile() error {
	seen := make(map[string]bool)
	for i := range cat.Rules {
		r := &cat.Rules[i]
		if r.ID == "" {
			return fmt.Errorf("rule %d: missing id", i)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %s: duplicate id", r.ID)
		}
		seen[r.ID] = true
		if r.Severity != SeverityP0 && r.Severity != SeverityP1 {
			return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
		r.re = re
	}
	for _, t := range cat.Tags {
		if t.Tag == "" || t.ID == "" {
			return fmt.Errorf("tag rule missing tag or id")
		}
	}
	if cat.Media.ExplicitAltPattern != "" {
		re, err := regexp.Compile("(?i)" + cat.Media.ExplicitAltPattern)
		if err != nil {
			return fmt.Errorf("media alt-text pattern: %w", err)
		}
		cat.Media.re = re
	}
	return nil
}

// Returns the rule with the given id, if present.
func (cat *Catalog) Rule(id string) (Rule, bool) {
	for _, r := range cat.Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}
