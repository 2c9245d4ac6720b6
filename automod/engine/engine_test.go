package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/commonsforum/sieve/automod/countstore"
	"github.com/commonsforum/sieve/automod/kvstore"
	"github.com/commonsforum/sieve/automod/linkrisk"
	"github.com/commonsforum/sieve/automod/queue"
	"github.com/commonsforum/sieve/automod/risk"
	"github.com/commonsforum/sieve/automod/rules"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineThreat(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	sub := Submission{
		ItemID:    "threat1",
		UserID:    "user1",
		Text:      "I will kill you all",
		Tags:      []string{},
		Links:     []string{},
		TrustTier: "T2",
	}
	res, err := eng.Process(ctx, &sub)
	require.NoError(err)
	assert.Contains(res.RuleHits.P0, "p0_threats")
	assert.Equal(95, res.RiskScore)
	assert.Equal(risk.Routing{State: risk.StateBlocked, Reasons: []string{"p0_rule"}}, res.Routing)
	assert.Equal([]string{"P0"}, res.PolicyLabels)
	assert.True(res.Queued)

	recs, err := eng.Queue.List(ctx)
	require.NoError(err)
	require.Len(recs, 1)
	assert.Equal("threat1", recs[0].ItemID)
	assert.Equal(95, recs[0].RiskScore)
	assert.Equal(res.Routing, recs[0].Routing)
}

func TestEngineUnverifiedClean(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	sub := Submission{
		ItemID:    "hello1",
		Text:      "hello world",
		TrustTier: "T0",
		Velocity:  &risk.Velocity{PostsLastHour: 0},
	}
	res, err := eng.Process(ctx, &sub)
	require.NoError(err)
	assert.Less(res.RiskScore, 20)
	assert.Equal(risk.Routing{State: risk.StateLimited, Reasons: []string{"t0_default_limited"}}, res.Routing)
	assert.Equal([]string{"P2"}, res.PolicyLabels)
	assert.Equal(linkrisk.Low, res.LinkRisk)
	assert.Equal(map[string]float64{}, res.LabelScores)

	// held back, so queued exactly once
	rec, err := eng.Queue.Get(ctx, "hello1")
	require.NoError(err)
	assert.Equal(res.RiskScore, rec.RiskScore)
	assert.Equal("hello world", rec.TextPreview)
}

func TestEngineTrustedClean(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	sub := Submission{Text: "a friendly note about gardening", TrustTier: "T2", Links: []string{"https://example.com/roses"}}
	res, err := eng.Process(ctx, &sub)
	require.NoError(err)
	assert.NotEmpty(res.ItemID)
	assert.Equal(res.ItemID, sub.ItemID)
	assert.Equal(0, res.RiskScore)
	assert.Equal(risk.StatePublish, res.Routing.State)
	assert.Equal([]string{}, res.Routing.Reasons)
	assert.False(res.Queued)

	_, err = eng.Queue.Get(ctx, res.ItemID)
	assert.ErrorIs(err, queue.ErrNotQueued)
}

// scoring must not depend on which call site submitted the content
func TestEngineDeterministic(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	v := risk.Velocity{PostsLastHour: 7}
	mk := func(id string) *Submission {
		return &Submission{
			ItemID:    id,
			UserID:    "user1",
			Text:      "guaranteed returns, see https://bit.ly/abc",
			Tags:      []string{"medical-or-financial-claims"},
			Links:     []string{"https://bit.ly/abc", "https://example.ru/x"},
			Media:     []rules.Media{{Mime: "image/jpeg", AltText: "explicit"}},
			TrustTier: "T1",
			Velocity:  &v,
		}
	}
	a, err := eng.Evaluate(ctx, mk("a"))
	assert.NoError(err)
	b, err := eng.Evaluate(ctx, mk("b"))
	assert.NoError(err)

	// 24 (two p1 hits) + 10 (nsfw) + 25 (high links) + 3 (T1) + 10 (velocity)
	assert.Equal(72, a.RiskScore)
	assert.Equal(a.RiskScore, b.RiskScore)
	assert.Equal(a.Routing, b.Routing)
	assert.Equal(a.RuleHits, b.RuleHits)
	assert.Equal(risk.StateQuarantine, a.Routing.State)
	assert.Equal(linkrisk.High, a.LinkRisk)
}

func TestEngineVelocityFromCounters(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	counters := countstore.NewMemCountStore()
	counters.Now = func() time.Time { return time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC) }
	eng.Counters = counters

	var last *Result
	for i := 0; i < 8; i++ {
		res, err := eng.Evaluate(ctx, &Submission{UserID: "busy", Text: "hi", TrustTier: "T2"})
		assert.NoError(err)
		last = res
	}
	// seven prior submissions in the current hour
	assert.Equal(10, last.RiskScore)

	// explicit velocity wins over counters
	res, err := eng.Evaluate(ctx, &Submission{UserID: "busy", Text: "hi", TrustTier: "T2", Velocity: &risk.Velocity{}})
	assert.NoError(err)
	assert.Equal(0, res.RiskScore)
}

func TestEngineMediaHash(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	res, err := eng.Evaluate(ctx, &Submission{
		Text:      "look at this",
		TrustTier: "T2",
		Media:     []rules.Media{{URL: TestBlockedMediaURL, Mime: "image/jpeg"}},
	})
	assert.NoError(err)
	assert.Equal([]string{"hash_match"}, res.MediaFlags)
	assert.Equal(risk.Routing{State: risk.StateQuarantine, Reasons: []string{"media_hash"}}, res.Routing)
}

func TestEngineTruncatesText(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	// threat beyond the scoring window is not seen
	text := strings.Repeat("a", MaxTextLen) + " I will kill you all"
	res, err := eng.Evaluate(ctx, &Submission{Text: text, TrustTier: "T2"})
	assert.NoError(err)
	assert.Empty(res.RuleHits.P0)
}

func TestEngineInvalid(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()

	_, err := eng.Process(ctx, nil)
	assert.ErrorIs(err, ErrInvalidSubmission)
	_, err = eng.Process(ctx, &Submission{ItemID: "modq:../x"})
	assert.ErrorIs(err, ErrInvalidSubmission)
	_, err = eng.Process(ctx, &Submission{UserID: strings.Repeat("u", MaxUserIDLen+1)})
	assert.ErrorIs(err, ErrInvalidSubmission)
	_, err = eng.Process(ctx, &Submission{Links: make([]string, MaxLinks+1)})
	assert.ErrorIs(err, ErrInvalidSubmission)
}

type failingStore struct {
	kvstore.Store
}

func (failingStore) Put(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return errors.New("store offline")
}

func TestEngineEnqueueFailureSurfaced(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	eng, _ := EngineTestFixture()
	eng.Queue = queue.New(failingStore{}, time.Hour, 10, nil)

	res, err := eng.Process(ctx, &Submission{Text: "hello", TrustTier: "T0"})
	assert.ErrorIs(err, queue.ErrUnavailable)
	assert.NotNil(res)
	assert.False(res.Queued)

	// published content never touches the queue
	res, err = eng.Process(ctx, &Submission{Text: "hello", TrustTier: "T2"})
	assert.NoError(err)
	assert.Equal(risk.StatePublish, res.Routing.State)
}
