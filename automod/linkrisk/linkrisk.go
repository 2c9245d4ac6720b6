// Classifies the links attached to a submission in to a coarse severity level, using host and TLD deny-lists.
package linkrisk

import (
	"net/url"
	"strings"

	"github.com/commonsforum/sieve/automod/setstore"

	"github.com/PuerkitoBio/purell"
)

type Level string

const (
	Low    Level = "low"
	Medium Level = "medium"
	High   Level = "high"
)

type Classifier struct {
	Sets *setstore.MemSetStore
}

func NewClassifier(sets *setstore.MemSetStore) *Classifier {
	if sets == nil {
		sets = setstore.NewDefaultSetStore()
	}
	return &Classifier{Sets: sets}
}

// Returns the risk level for a batch of URLs. Malformed URLs are skipped. A deny-listed host short-circuits to High; a deny-listed TLD only raises the result to Medium, and scanning continues since a later URL may still be High.
func (c *Classifier) Classify(urls []string) Level {
	risk := Low
	for _, raw := range urls {
		host := HostOf(raw)
		if host == "" {
			continue
		}
		if c.Sets.InSet(setstore.SetShortenerHosts, host) || c.Sets.InSet(setstore.SetRiskyHosts, host) {
			return High
		}
		if i := strings.LastIndexByte(host, '.'); i >= 0 && c.Sets.InSet(setstore.SetRiskyTLDs, host[i+1:]) {
			risk = Medium
		}
	}
	return risk
}

// Returns the normalized (lower-case) hostname of an absolute URL, or an empty string if the URL can not be parsed or has no host.
func HostOf(raw string) string {
	clean, err := purell.NormalizeURLString(strings.TrimSpace(raw), purell.FlagsSafe|purell.FlagRemoveFragment)
	if err != nil {
		return ""
	}
	u, err := url.Parse(clean)
	if err != nil || u.Scheme == "" {
		return ""
	}
	return strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
}
