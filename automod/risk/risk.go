// Combines detector output, link risk, trust tier, and submission velocity in to a bounded risk score, and routes a scored submission to a visibility state.
//
// Everything in this package is pure: the same signals always produce the same score and routing.
package risk

import (
	"fmt"
	"strings"

	"github.com/commonsforum/sieve/automod/linkrisk"
	"github.com/commonsforum/sieve/automod/rules"
)

// Coarse reputation bucket for a submitter.
type TrustTier string

const (
	// unverified
	TierT0 TrustTier = "T0"
	// intermediate
	TierT1 TrustTier = "T1"
	// trusted
	TierT2 TrustTier = "T2"
)

// Parses a trust tier. Unknown or empty values are treated as the least-trusted tier.
func ParseTrustTier(raw string) TrustTier {
	switch TrustTier(strings.ToUpper(strings.TrimSpace(raw))) {
	case TierT1:
		return TierT1
	case TierT2:
		return TierT2
	default:
		return TierT0
	}
}

// Recent submission rate for a submitter.
type Velocity struct {
	PostsLastHour int `json:"posts_last_hour"`
}

// Everything the aggregator and router look at.
type Signals struct {
	Hits       rules.Hits
	MediaFlags []string
	LinkRisk   linkrisk.Level
	Tier       TrustTier
	Velocity   Velocity
}

func (s Signals) hasMediaFlag(flag string) bool {
	for _, f := range s.MediaFlags {
		if f == flag {
			return true
		}
	}
	return false
}

const (
	// fixed score for any submission with a P0 hit
	P0Score  = 95
	MinScore = 0
	MaxScore = 100
)

// Computes the 0-100 risk score for a submission.
func Aggregate(sig Signals) int {
	if sig.Hits.HasP0() {
		return P0Score
	}

	score := min(30, 12*len(sig.Hits.P1))
	if sig.hasMediaFlag(rules.MediaFlagNSFW) {
		score += 10
	}

	switch sig.LinkRisk {
	case linkrisk.High:
		score += 25
	case linkrisk.Medium:
		score += 10
	}

	switch sig.Tier {
	case TierT2:
	case TierT1:
		score += 3
	default:
		score += 8
	}

	if sig.Velocity.PostsLastHour > 5 {
		score += 10
	}
	if sig.Velocity.PostsLastHour > 10 {
		score += 20
	}

	return max(MinScore, min(MaxScore, score))
}

// Derives the coarse policy label list for a set of rule hits.
func PolicyLabels(hits rules.Hits) []string {
	switch {
	case hits.HasP0():
		return []string{"P0"}
	case hits.HasP1():
		return []string{"P1"}
	default:
		return []string{"P2"}
	}
}

// Score boundaries for routing. Scores below PublishBelow are eligible for publishing; scores at or above LimitedBelow are quarantined.
type Thresholds struct {
	PublishBelow int
	LimitedBelow int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		PublishBelow: 20,
		LimitedBelow: 50,
	}
}

func (th Thresholds) Validate() error {
	if th.PublishBelow < MinScore || th.LimitedBelow > MaxScore+1 {
		return fmt.Errorf("routing thresholds out of range: %d, %d", th.PublishBelow, th.LimitedBelow)
	}
	if th.PublishBelow > th.LimitedBelow {
		return fmt.Errorf("publish threshold (%d) above limited threshold (%d)", th.PublishBelow, th.LimitedBelow)
	}
	return nil
}
