package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/commonsforum/sieve/automod/kvstore"
	"github.com/commonsforum/sieve/automod/linkrisk"
	"github.com/commonsforum/sieve/automod/risk"
	"github.com/commonsforum/sieve/automod/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(id string, score int, created int64) Record {
	return Record{
		ItemID:       id,
		UserID:       "user1",
		RiskScore:    score,
		PolicyLabels: []string{"P2"},
		RuleHits:     rules.NewHits(),
		MediaFlags:   []string{},
		LinkRisk:     linkrisk.Low,
		Routing:      risk.Routing{State: risk.StateLimited, Reasons: []string{risk.ReasonT0DefaultLimited}},
		CreatedAt:    created,
		TextPreview:  "hello",
	}
}

func TestQueueBasics(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	q := New(kvstore.NewMemStore(), 0, 0, nil)
	assert.Equal(DefaultTTL, q.TTL)
	assert.Equal(DefaultMaxList, q.MaxList)

	_, err := q.Get(ctx, "a")
	assert.ErrorIs(err, ErrNotQueued)

	require.NoError(q.Enqueue(ctx, testRecord("a", 8, 100)))
	rec, err := q.Get(ctx, "a")
	require.NoError(err)
	assert.Equal(8, rec.RiskScore)
	assert.Equal(risk.StateLimited, rec.Routing.State)

	// upsert keeps a single record per item
	require.NoError(q.Enqueue(ctx, testRecord("a", 30, 200)))
	recs, err := q.List(ctx)
	require.NoError(err)
	require.Len(recs, 1)
	assert.Equal(30, recs[0].RiskScore)

	require.NoError(q.Dequeue(ctx, "a"))
	_, err = q.Get(ctx, "a")
	assert.ErrorIs(err, ErrNotQueued)
	recs, err = q.List(ctx)
	require.NoError(err)
	assert.Empty(recs)

	assert.Error(q.Enqueue(ctx, Record{}))
}

func TestQueueOrder(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	q := New(kvstore.NewMemStore(), time.Hour, 10, nil)
	require.NoError(q.Enqueue(ctx, testRecord("low", 8, 100)))
	require.NoError(q.Enqueue(ctx, testRecord("high-new", 95, 300)))
	require.NoError(q.Enqueue(ctx, testRecord("high-old", 95, 200)))
	require.NoError(q.Enqueue(ctx, testRecord("mid", 40, 50)))

	recs, err := q.List(ctx)
	require.NoError(err)
	ids := []string{}
	for _, r := range recs {
		ids = append(ids, r.ItemID)
	}
	assert.Equal([]string{"high-old", "high-new", "mid", "low"}, ids)
}

func TestQueueExpiry(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store := kvstore.NewMemStore()
	store.Now = func() time.Time { return now }
	q := New(store, 14*24*time.Hour, 0, nil)

	require.NoError(q.Enqueue(ctx, testRecord("a", 8, 100)))
	now = now.Add(13 * 24 * time.Hour)
	_, err := q.Get(ctx, "a")
	assert.NoError(err)
	now = now.Add(2 * 24 * time.Hour)
	_, err = q.Get(ctx, "a")
	assert.ErrorIs(err, ErrNotQueued)
}

func TestQueueMaxList(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	q := New(kvstore.NewMemStore(), 0, 2, nil)
	require.NoError(q.Enqueue(ctx, testRecord("aaa", 28, 1)))
	require.NoError(q.Enqueue(ctx, testRecord("bbb", 30, 2)))

	// exactly at the bound, nothing is dropped
	recs, err := q.List(ctx)
	require.NoError(err)
	require.Len(recs, 2)

	// the highest-risk record survives truncation, wherever its id sorts
	require.NoError(q.Enqueue(ctx, testRecord("zzz", 95, 3)))
	recs, err = q.List(ctx)
	require.NoError(err)
	require.Len(recs, 2)
	assert.Equal("zzz", recs[0].ItemID)
	assert.Equal("bbb", recs[1].ItemID)
}

type brokenStore struct {
	kvstore.Store
}

var errOutage = errors.New("connection refused")

func (brokenStore) Put(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return errOutage
}

func (brokenStore) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errOutage
}

func (brokenStore) List(ctx context.Context, prefix string, limit int) ([]kvstore.Entry, error) {
	return nil, errOutage
}

func TestQueueUnavailable(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	q := New(brokenStore{}, 0, 0, nil)
	err := q.Enqueue(ctx, testRecord("a", 8, 1))
	assert.ErrorIs(err, ErrUnavailable)
	assert.ErrorIs(err, errOutage)

	_, err = q.List(ctx)
	assert.ErrorIs(err, ErrUnavailable)

	_, err = q.Get(ctx, "a")
	assert.ErrorIs(err, ErrUnavailable)
	assert.False(errors.Is(err, ErrNotQueued))
}
