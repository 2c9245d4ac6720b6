package engine

import (
	"time"

	"github.com/commonsforum/sieve/automod/countstore"
	"github.com/commonsforum/sieve/automod/helpers"
	"github.com/commonsforum/sieve/automod/kvstore"
	"github.com/commonsforum/sieve/automod/linkrisk"
	"github.com/commonsforum/sieve/automod/queue"
	"github.com/commonsforum/sieve/automod/risk"
	"github.com/commonsforum/sieve/automod/rules"
	"github.com/commonsforum/sieve/automod/setstore"
)

// media URL which is on the fixture's media blocklist
const TestBlockedMediaURL = "https://media.example.com/known-bad.jpg"

// Returns an engine wired to in-memory stores, with the built-in rule catalog and deny-lists.
func EngineTestFixture() (*Engine, *kvstore.MemStore) {
	store := kvstore.NewMemStore()
	sets := setstore.NewDefaultSetStore()
	sets.Add(setstore.SetMediaHashBlocklist, helpers.HashOfString(TestBlockedMediaURL))
	eng := Engine{
		Detector:   rules.NewDetector(nil, sets.Members(setstore.SetMediaHashBlocklist)),
		Links:      linkrisk.NewClassifier(sets),
		Thresholds: risk.DefaultThresholds(),
		Counters:   countstore.NewMemCountStore(),
		Queue:      queue.New(store, time.Hour, 100, nil),
	}
	return &eng, store
}
