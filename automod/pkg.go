package automod

import (
	"github.com/commonsforum/sieve/automod/countstore"
	"github.com/commonsforum/sieve/automod/engine"
	"github.com/commonsforum/sieve/automod/linkrisk"
	"github.com/commonsforum/sieve/automod/queue"
	"github.com/commonsforum/sieve/automod/review"
	"github.com/commonsforum/sieve/automod/risk"
	"github.com/commonsforum/sieve/automod/rules"
)

type Engine = engine.Engine
type Submission = engine.Submission
type Result = engine.Result

type Hits = rules.Hits
type Media = rules.Media
type LinkRisk = linkrisk.Level

type TrustTier = risk.TrustTier
type State = risk.State
type Routing = risk.Routing
type Velocity = risk.Velocity
type Thresholds = risk.Thresholds

type QueueRecord = queue.Record
type DecisionRecord = review.Record
type Macro = review.Macro

var (
	StatePublish     = risk.StatePublish
	StateLimited     = risk.StateLimited
	StateQuarantine  = risk.StateQuarantine
	StateBlocked     = risk.StateBlocked
	StateUnpublished = risk.StateUnpublished

	PeriodTotal = countstore.PeriodTotal
	PeriodDay   = countstore.PeriodDay
	PeriodHour  = countstore.PeriodHour
)
