// Applies reviewer decisions to queued content, and keeps an append-only audit log of them.
//
// A decision is three writes with no transaction: the audit record, the content visibility update, and removal of the queue record, always in that order. A failure part way through leaves an auditable decision and, at worst, a queue record which can be decided again. Re-applying a macro yields the same content state and a new audit record.
package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/commonsforum/sieve/automod/kvstore"
	"github.com/commonsforum/sieve/automod/queue"
	"github.com/commonsforum/sieve/automod/risk"

	"github.com/google/uuid"
)

var (
	ErrUnknownMacro    = errors.New("unknown macro")
	ErrInvalidDecision = errors.New("invalid decision")
	ErrNotQueued       = queue.ErrNotQueued
)

const (
	logPrefix       = "modlog:"
	defaultReviewer = "system"
	// upper bound on audit records returned for a single item
	maxHistory = 1000
)

// The content collaborator: updates the visibility of a post or reply by item id, reporting whether anything was found.
type ContentStore interface {
	SetVisibility(ctx context.Context, itemID string, state risk.State, at time.Time) (bool, error)
}

// Immutable audit record of a single decision.
type Record struct {
	ItemID     string `json:"item_id"`
	MacroID    Macro  `json:"macro_id"`
	ReviewerID string `json:"reviewer_id"`
	// unix milliseconds
	DecisionTS   int64          `json:"decision_ts"`
	Fields       map[string]any `json:"fields"`
	ResultState  risk.State     `json:"result_state"`
	PriorRouting risk.Routing   `json:"prior_routing"`
}

type Decision struct {
	ItemID     string
	MacroID    string
	ReviewerID string
	Fields     map[string]any
}

type Processor struct {
	Queue   *queue.Queue
	Log     kvstore.Store
	Content ContentStore
	Logger  *slog.Logger
	// clock for decision timestamps; defaults to time.Now
	Now func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// Audit keys sort by item, then by decision time. The random suffix keeps two decisions in the same millisecond from overwriting each other.
func logKey(itemID string, ts int64) string {
	return fmt.Sprintf("%s%s:%016d:%s", logPrefix, itemID, ts, uuid.NewString()[:8])
}

func logItemPrefix(itemID string) string {
	return logPrefix + itemID + ":"
}

// Applies a macro to a queued item.
func (p *Processor) Decide(ctx context.Context, d Decision) (*Record, error) {
	if d.ItemID == "" || d.MacroID == "" {
		return nil, fmt.Errorf("%w: missing item_id/macro_id", ErrInvalidDecision)
	}
	// reject unknown macros before touching any state
	macro, err := ParseMacro(d.MacroID)
	if err != nil {
		return nil, err
	}

	qrec, err := p.Queue.Get(ctx, d.ItemID)
	if err != nil {
		return nil, err
	}

	reviewer := d.ReviewerID
	if reviewer == "" {
		reviewer = defaultReviewer
	}
	fields := d.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	now := p.now()
	rec := Record{
		ItemID:       d.ItemID,
		MacroID:      macro,
		ReviewerID:   reviewer,
		DecisionTS:   now.UnixMilli(),
		Fields:       fields,
		ResultState:  macro.ResultState(),
		PriorRouting: qrec.Routing,
	}
	logger := p.logger().With("item_id", rec.ItemID, "macro", rec.MacroID, "reviewer", rec.ReviewerID)

	// 1. audit record
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := p.Log.Put(ctx, logKey(rec.ItemID, rec.DecisionTS), raw, 0); err != nil {
		return nil, fmt.Errorf("writing decision record: %w", err)
	}

	// 2. content
	found, err := p.Content.SetVisibility(ctx, rec.ItemID, rec.ResultState, now)
	if err != nil {
		logger.Error("decision recorded but content update failed", "err", err)
		return nil, fmt.Errorf("updating content visibility: %w", err)
	}
	if !found {
		// eg, scored via the standalone endpoint, with no stored content
		logger.Info("no stored content for decided item")
	}

	// 3. queue
	if err := p.Queue.Dequeue(ctx, rec.ItemID); err != nil {
		logger.Error("decision applied but dequeue failed", "err", err)
		return nil, err
	}

	decisionCount.WithLabelValues(string(rec.MacroID), string(rec.ResultState)).Inc()
	logger.Info("moderation decision applied", "resultState", rec.ResultState, "priorState", rec.PriorRouting.State)
	return &rec, nil
}

// Returns all decisions recorded for an item, oldest first.
func (p *Processor) History(ctx context.Context, itemID string) ([]Record, error) {
	if itemID == "" {
		return nil, fmt.Errorf("%w: missing item_id", ErrInvalidDecision)
	}
	entries, err := p.Log.List(ctx, logItemPrefix(itemID), maxHistory)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		var rec Record
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			p.logger().Warn("skipping malformed decision record", "key", e.Key, "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
