// Content-risk scoring and routing for user-submitted forum content.
//
// This package (`github.com/commonsforum/sieve/automod`) scores each submission with hand-authored pattern rules, link deny-lists, submitter trust tier, and submission velocity, then routes it to a visibility state: published, limited, quarantined, or blocked. Anything not published is held in a TTL-bounded moderation queue, where a human reviewer applies one of a fixed set of macros, with every decision kept in an append-only audit log.
//
// Sub-packages hold the components (`rules`, `linkrisk`, `risk`, `queue`, `review`, `forum`) and their storage backends (`kvstore`, `countstore`, `cachestore`). See `cmd/sieve` for a daemon built on this package.
package automod
