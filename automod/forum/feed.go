package forum

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/commonsforum/sieve/automod/helpers"
	"github.com/commonsforum/sieve/automod/risk"
)

// Returns published posts in a namespace, newest first. The full feed (up to MaxFeedLimit items) is cached per namespace, and sliced to the requested limit.
func (s *Store) Feed(ctx context.Context, ns string, limit int) ([]FeedItem, error) {
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	limit = min(limit, MaxFeedLimit)

	items, ok := s.cachedFeed(ctx, ns)
	if !ok {
		// concurrent misses for a namespace share a single scan
		v, err, _ := s.feedGroup.Do(ns, func() (any, error) {
			built, err := s.buildFeed(ctx, ns)
			if err != nil {
				return nil, err
			}
			s.cacheFeed(ctx, ns, built)
			return built, nil
		})
		if err != nil {
			return nil, err
		}
		items = v.([]FeedItem)
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) buildFeed(ctx context.Context, ns string) ([]FeedItem, error) {
	entries, err := s.KV.List(ctx, "forum:post:", maxFeedScan)
	if err != nil {
		return nil, err
	}
	items := []FeedItem{}
	for _, e := range entries {
		var p Post
		if err := json.Unmarshal(e.Value, &p); err != nil {
			s.logger().Warn("skipping malformed post", "key", e.Key, "err", err)
			continue
		}
		if p.Namespace != ns || p.VisibilityState != risk.StatePublish {
			continue
		}
		items = append(items, FeedItem{
			ID:        p.ID,
			Title:     p.Title,
			Category:  p.Category,
			Tags:      nonNil(p.Tags),
			CreatedAt: p.CreatedAt,
			Excerpt:   helpers.Excerpt(p.Body, ExcerptLen),
			URL:       ViewURL(p.ID),
		})
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt > items[j].CreatedAt })
	if len(items) > MaxFeedLimit {
		items = items[:MaxFeedLimit]
	}
	return items, nil
}

// cache failures are logged, and fall through to the store

func (s *Store) cachedFeed(ctx context.Context, ns string) ([]FeedItem, bool) {
	if s.Cache == nil {
		return nil, false
	}
	raw, err := s.Cache.Get(ctx, feedCacheName, ns)
	if err != nil {
		s.logger().Warn("feed cache read failed", "ns", ns, "err", err)
		return nil, false
	}
	if raw == "" {
		return nil, false
	}
	var items []FeedItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		s.logger().Warn("invalid cached feed", "ns", ns, "err", err)
		return nil, false
	}
	return items, true
}

func (s *Store) cacheFeed(ctx context.Context, ns string, items []FeedItem) {
	if s.Cache == nil {
		return
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := s.Cache.Set(ctx, feedCacheName, ns, string(raw)); err != nil {
		s.logger().Warn("feed cache write failed", "ns", ns, "err", err)
	}
}

func (s *Store) purgeFeed(ctx context.Context, ns string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Purge(ctx, feedCacheName, ns); err != nil {
		s.logger().Warn("feed cache purge failed", "ns", ns, "err", err)
	}
}
