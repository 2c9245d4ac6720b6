package engine

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/commonsforum/sieve/automod/linkrisk"
	"github.com/commonsforum/sieve/automod/risk"
	"github.com/commonsforum/sieve/automod/rules"
)

var ErrInvalidSubmission = errors.New("invalid submission")

const (
	// longer text is truncated before scoring
	MaxTextLen   = 50_000
	MaxUserIDLen = 100
	MaxItemIDLen = 128
	MaxLinks     = 200
	MaxMedia     = 50
	MaxTags      = 50

	DefaultPreviewLen = 400
)

// item ids become parts of storage keys, so the alphabet is restricted
var itemIDRegex = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Content to be scored.
type Submission struct {
	// generated if empty
	ItemID string
	// parent post, for replies
	PostID string
	UserID string
	Text   string
	Tags   []string
	Links  []string
	Media  []rules.Media
	// raw trust tier; unknown values are treated as the least-trusted tier
	TrustTier string
	// if nil, read from per-user counters (when available)
	Velocity *risk.Velocity
	// text used for the queue preview, if different from Text
	Preview    string
	PreviewLen int
}

func ValidItemID(id string) bool {
	return len(id) <= MaxItemIDLen && itemIDRegex.MatchString(id)
}

func (s *Submission) Validate() error {
	if s.ItemID != "" && !ValidItemID(s.ItemID) {
		return fmt.Errorf("%w: malformed item_id", ErrInvalidSubmission)
	}
	if s.PostID != "" && !ValidItemID(s.PostID) {
		return fmt.Errorf("%w: malformed post_id", ErrInvalidSubmission)
	}
	if len(s.UserID) > MaxUserIDLen {
		return fmt.Errorf("%w: user_id too long", ErrInvalidSubmission)
	}
	if len(s.Links) > MaxLinks {
		return fmt.Errorf("%w: too many links", ErrInvalidSubmission)
	}
	if len(s.Media) > MaxMedia {
		return fmt.Errorf("%w: too many media items", ErrInvalidSubmission)
	}
	if len(s.Tags) > MaxTags {
		return fmt.Errorf("%w: too many tags", ErrInvalidSubmission)
	}
	return nil
}

// Outcome of scoring a single submission.
type Result struct {
	ItemID       string   `json:"item_id"`
	RiskScore    int      `json:"risk_score"`
	PolicyLabels []string `json:"policy_labels"`
	// reserved for per-label model scores; always empty
	LabelScores map[string]float64 `json:"label_scores"`
	RuleHits    rules.Hits         `json:"rule_hits"`
	LinkRisk    linkrisk.Level     `json:"link_risk"`
	MediaFlags  []string           `json:"media_flags"`
	Routing     risk.Routing       `json:"routing"`
	// whether a review queue record was written
	Queued bool `json:"queued"`
}
