package risk

import (
	"github.com/commonsforum/sieve/automod/rules"
)

// Visibility state of a content item.
type State string

const (
	StatePublish     State = "publish"
	StateLimited     State = "limited"
	StateQuarantine  State = "quarantine"
	StateBlocked     State = "blocked"
	StateUnpublished State = "unpublished"
)

func (s State) Valid() bool {
	switch s {
	case StatePublish, StateLimited, StateQuarantine, StateBlocked, StateUnpublished:
		return true
	}
	return false
}

// Whether content in this state must be held for human review.
func (s State) NeedsReview() bool {
	return s != StatePublish
}

const (
	ReasonP0Rule           = "p0_rule"
	ReasonMediaHash        = "media_hash"
	ReasonT0DefaultLimited = "t0_default_limited"
	ReasonNeedsReview      = "needs_review"
	ReasonHighRisk         = "high_risk"
)

type Routing struct {
	State   State    `json:"state"`
	Reasons []string `json:"reasons"`
}

func newRouting(state State, reasons ...string) Routing {
	if reasons == nil {
		reasons = []string{}
	}
	return Routing{State: state, Reasons: reasons}
}

// Maps a risk score and signals to an initial visibility state. Rules are evaluated in order: P0 hits, known-bad media, then score bands. The least-trusted tier is never published directly.
func Route(score int, sig Signals, th Thresholds) Routing {
	if sig.Hits.HasP0() {
		return newRouting(StateBlocked, ReasonP0Rule)
	}
	if sig.hasMediaFlag(rules.MediaFlagHashMatch) {
		return newRouting(StateQuarantine, ReasonMediaHash)
	}

	switch {
	case score >= th.LimitedBelow:
		return newRouting(StateQuarantine, ReasonHighRisk)
	case score >= th.PublishBelow:
		return newRouting(StateLimited, ReasonNeedsReview)
	case sig.Tier != TierT1 && sig.Tier != TierT2:
		return newRouting(StateLimited, ReasonT0DefaultLimited)
	default:
		return newRouting(StatePublish)
	}
}
