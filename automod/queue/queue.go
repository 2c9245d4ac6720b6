// Moderation queue: a TTL-bounded holding area for submissions which were not published immediately.
//
// Records are keyed by item id, so enqueueing is an idempotent upsert. The queue only references content by id and never owns it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/commonsforum/sieve/automod/kvstore"
	"github.com/commonsforum/sieve/automod/linkrisk"
	"github.com/commonsforum/sieve/automod/risk"
	"github.com/commonsforum/sieve/automod/rules"
)

var (
	// No pending record for the item: never queued, already decided, or expired.
	ErrNotQueued = errors.New("item not in queue")
	// Backing store failed. Callers should treat this as retryable.
	ErrUnavailable = errors.New("moderation queue unavailable")
)

const (
	keyPrefix = "modq:"

	DefaultTTL     = 14 * 24 * time.Hour
	DefaultMaxList = 1000
)

type Record struct {
	ItemID string `json:"item_id"`
	// parent post, for replies
	PostID       string         `json:"post_id,omitempty"`
	UserID       string         `json:"user_id"`
	RiskScore    int            `json:"risk_score"`
	PolicyLabels []string       `json:"policy_labels"`
	RuleHits     rules.Hits     `json:"rule_hits"`
	MediaFlags   []string       `json:"media_flags"`
	LinkRisk     linkrisk.Level `json:"link_risk"`
	Routing      risk.Routing   `json:"routing"`
	// unix milliseconds
	CreatedAt   int64  `json:"created_at"`
	TextPreview string `json:"text_preview"`
}

type Queue struct {
	Store kvstore.Store
	// lifetime of a queue record, independent of the content item
	TTL time.Duration
	// upper bound on records returned by List
	MaxList int
	Logger  *slog.Logger
}

func New(store kvstore.Store, ttl time.Duration, maxList int, logger *slog.Logger) *Queue {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxList <= 0 {
		maxList = DefaultMaxList
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		Store:   store,
		TTL:     ttl,
		MaxList: maxList,
		Logger:  logger.With("component", "queue"),
	}
}

func recordKey(itemID string) string {
	return keyPrefix + itemID
}

// Writes (or replaces) the record for rec.ItemID.
func (q *Queue) Enqueue(ctx context.Context, rec Record) error {
	if rec.ItemID == "" {
		return fmt.Errorf("queue record missing item id")
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := q.Store.Put(ctx, recordKey(rec.ItemID), raw, q.TTL); err != nil {
		return fmt.Errorf("%w: enqueue %s: %w", ErrUnavailable, rec.ItemID, err)
	}
	return nil
}

func (q *Queue) Get(ctx context.Context, itemID string) (*Record, error) {
	raw, err := q.Store.Get(ctx, recordKey(itemID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrNotQueued
	} else if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding queue record %s: %w", itemID, err)
	}
	return &rec, nil
}

// Returns pending records in triage order: highest risk first, then oldest first. All pending records are read, and the result is cut to the MaxList highest-risk records after sorting.
func (q *Queue) List(ctx context.Context) ([]Record, error) {
	entries, err := q.Store.List(ctx, keyPrefix, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		var rec Record
		if err := json.Unmarshal(e.Value, &rec); err != nil {
			q.Logger.Warn("skipping malformed queue record", "key", e.Key, "err", err)
			continue
		}
		out = append(out, rec)
	}
	SortForTriage(out)
	if q.MaxList > 0 && len(out) > q.MaxList {
		q.Logger.Warn("moderation queue listing truncated", "pending", len(out), "limit", q.MaxList)
		out = out[:q.MaxList]
	}
	return out, nil
}

func SortForTriage(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].RiskScore != recs[j].RiskScore {
			return recs[i].RiskScore > recs[j].RiskScore
		}
		if recs[i].CreatedAt != recs[j].CreatedAt {
			return recs[i].CreatedAt < recs[j].CreatedAt
		}
		return recs[i].ItemID < recs[j].ItemID
	})
}

func (q *Queue) Dequeue(ctx context.Context, itemID string) error {
	if err := q.Store.Delete(ctx, recordKey(itemID)); err != nil {
		return fmt.Errorf("%w: dequeue %s: %w", ErrUnavailable, itemID, err)
	}
	return nil
}
