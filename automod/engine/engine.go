package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/commonsforum/sieve/automod/countstore"
	"github.com/commonsforum/sieve/automod/helpers"
	"github.com/commonsforum/sieve/automod/linkrisk"
	"github.com/commonsforum/sieve/automod/queue"
	"github.com/commonsforum/sieve/automod/risk"
	"github.com/commonsforum/sieve/automod/rules"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("sieve/engine")

// runtime for scoring submissions and holding back risky content for review.
//
// Detector, Links, and Queue are required. Counters is optional: without it, velocity is only what callers supply.
type Engine struct {
	Logger     *slog.Logger
	Detector   *rules.Detector
	Links      *linkrisk.Classifier
	Thresholds risk.Thresholds
	Counters   countstore.CountStore
	Queue      *queue.Queue
	// clock for queue record timestamps; defaults to time.Now
	Now func() time.Time
}

func (eng *Engine) now() time.Time {
	if eng.Now == nil {
		return time.Now()
	}
	return eng.Now()
}

func (eng *Engine) thresholds() risk.Thresholds {
	if eng.Thresholds == (risk.Thresholds{}) {
		return risk.DefaultThresholds()
	}
	return eng.Thresholds
}

func (eng *Engine) logger() *slog.Logger {
	if eng.Logger == nil {
		return slog.Default()
	}
	return eng.Logger
}

// Scores a submission without enqueueing it. Per-user counters are read and then incremented.
//
// Fills in sub.ItemID if it was empty.
func (eng *Engine) Evaluate(ctx context.Context, sub *Submission) (res *Result, err error) {
	ctx, span := tracer.Start(ctx, "Evaluate")
	defer span.End()

	if sub == nil {
		return nil, fmt.Errorf("%w: empty submission", ErrInvalidSubmission)
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	if sub.ItemID == "" {
		sub.ItemID = uuid.NewString()
	}
	span.SetAttributes(attribute.String("item_id", sub.ItemID))
	logger := eng.logger().With("item_id", sub.ItemID, "user_id", sub.UserID)

	// rule patterns come from operator-supplied data; don't let a bad one take down the request
	defer func() {
		if r := recover(); r != nil {
			logger.Error("scoring exception", "err", r)
			res = nil
			err = fmt.Errorf("scoring %s: %v", sub.ItemID, r)
		}
	}()

	start := time.Now()
	text := helpers.Truncate(sub.Text, MaxTextLen)
	detected := eng.Detector.Detect(text, sub.Tags, sub.Media)
	sig := risk.Signals{
		Hits:       detected.Hits,
		MediaFlags: detected.MediaFlags,
		LinkRisk:   eng.Links.Classify(sub.Links),
		Tier:       risk.ParseTrustTier(sub.TrustTier),
		Velocity:   eng.velocity(ctx, logger, sub),
	}
	score := risk.Aggregate(sig)
	routing := risk.Route(score, sig, eng.thresholds())

	res = &Result{
		ItemID:       sub.ItemID,
		RiskScore:    score,
		PolicyLabels: risk.PolicyLabels(sig.Hits),
		LabelScores:  map[string]float64{},
		RuleHits:     sig.Hits,
		LinkRisk:     sig.LinkRisk,
		MediaFlags:   sig.MediaFlags,
		Routing:      routing,
	}

	eng.countSubmission(ctx, logger, sub)

	scoreDuration.Observe(time.Since(start).Seconds())
	submissionsScored.WithLabelValues(string(routing.State)).Inc()
	for _, id := range sig.Hits.P0 {
		ruleHitCount.WithLabelValues(id).Inc()
	}
	for _, id := range sig.Hits.P1 {
		ruleHitCount.WithLabelValues(id).Inc()
	}

	logger.Info("canonical-score-line",
		"tier", sig.Tier,
		"riskScore", score,
		"state", routing.State,
		"reasons", routing.Reasons,
		"ruleHitsP0", sig.Hits.P0,
		"ruleHitsP1", sig.Hits.P1,
		"mediaFlags", sig.MediaFlags,
		"linkRisk", sig.LinkRisk,
	)
	return res, nil
}

// Writes a review queue record for an already-scored submission.
func (eng *Engine) Enqueue(ctx context.Context, sub *Submission, res *Result) error {
	ctx, span := tracer.Start(ctx, "Enqueue")
	defer span.End()

	preview := sub.Preview
	if preview == "" {
		preview = sub.Text
	}
	previewLen := sub.PreviewLen
	if previewLen <= 0 {
		previewLen = DefaultPreviewLen
	}
	rec := queue.Record{
		ItemID:       res.ItemID,
		PostID:       sub.PostID,
		UserID:       sub.UserID,
		RiskScore:    res.RiskScore,
		PolicyLabels: res.PolicyLabels,
		RuleHits:     res.RuleHits,
		MediaFlags:   res.MediaFlags,
		LinkRisk:     res.LinkRisk,
		Routing:      res.Routing,
		CreatedAt:    eng.now().UnixMilli(),
		TextPreview:  helpers.Truncate(preview, previewLen),
	}
	if err := eng.Queue.Enqueue(ctx, rec); err != nil {
		queueEnqueueErrors.Inc()
		eng.logger().Error("failed to enqueue held-back submission", "item_id", res.ItemID, "state", res.Routing.State, "err", err)
		return err
	}
	res.Queued = true
	return nil
}

// Scores a submission, and enqueues it for review unless it was published. An enqueue failure is returned (along with the result), since an un-queued held-back item would be invisible to reviewers.
func (eng *Engine) Process(ctx context.Context, sub *Submission) (*Result, error) {
	res, err := eng.Evaluate(ctx, sub)
	if err != nil {
		return nil, err
	}
	if !res.Routing.State.NeedsReview() {
		return res, nil
	}
	if err := eng.Enqueue(ctx, sub, res); err != nil {
		return res, err
	}
	return res, nil
}

func (eng *Engine) velocity(ctx context.Context, logger *slog.Logger, sub *Submission) risk.Velocity {
	if sub.Velocity != nil {
		return *sub.Velocity
	}
	var v risk.Velocity
	if eng.Counters == nil || sub.UserID == "" {
		return v
	}
	// counter failures degrade to zero velocity rather than failing the submission
	posts, err := eng.Counters.GetCount(ctx, countstore.CounterSubmissions, sub.UserID, countstore.PeriodHour)
	if err != nil {
		logger.Warn("failed to read submission counter", "err", err)
	}
	v.PostsLastHour = posts
	return v
}

// Anonymous submissions (no user id) are not counted, since they can't be attributed to one submitter.
func (eng *Engine) countSubmission(ctx context.Context, logger *slog.Logger, sub *Submission) {
	if eng.Counters == nil || sub.UserID == "" {
		return
	}
	if err := eng.Counters.Increment(ctx, countstore.CounterSubmissions, sub.UserID); err != nil {
		logger.Warn("failed to increment submission counter", "err", err)
	}
}
