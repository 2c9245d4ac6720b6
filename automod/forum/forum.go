package forum

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/commonsforum/sieve/automod/cachestore"
	"github.com/commonsforum/sieve/automod/engine"
	"github.com/commonsforum/sieve/automod/helpers"
	"github.com/commonsforum/sieve/automod/kvstore"
	"github.com/commonsforum/sieve/automod/risk"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidContent = errors.New("invalid content")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("item id already exists")
)

const (
	MaxTitleLen     = 180
	MaxPostBodyLen  = 20_000
	MaxReplyBodyLen = 10_000
	MaxCategoryLen  = 64
	MaxTags         = 10
	MaxTagLen       = 32
	MaxUserIDLen    = 100
	MaxPostIDLen    = 64

	PostPreviewLen  = 400
	ReplyPreviewLen = 240
	ExcerptLen      = 240

	DefaultFeedLimit = 50
	MaxFeedLimit     = 100

	// upper bound on posts scanned when building a feed
	maxFeedScan = 10_000

	feedCacheName = "feed"
	anonAuthor    = "anon"
)

type Store struct {
	KV     kvstore.Store
	Engine *engine.Engine
	// optional; feed pages are cached per namespace when set
	Cache  cachestore.CacheStore
	Logger *slog.Logger
	// clock for content timestamps; defaults to time.Now
	Now func() time.Time

	feedGroup singleflight.Group
}

func (s *Store) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Store) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func postKey(id string) string {
	return "forum:post:" + id
}

func replyPrefix(postID string) string {
	return "forum:reply:" + postID + ":"
}

func replyKey(postID, id string) string {
	return replyPrefix(postID) + id
}

func replyIndexKey(id string) string {
	return "forum:replyid:" + id
}

func ViewURL(id string) string {
	return "/forum/post?id=" + url.QueryEscape(id)
}

// Normalizes a request host to a namespace: lower-case, without port or a leading "www.".
func NormalizeNamespace(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	return strings.TrimPrefix(host, "www.")
}

func newAuthorSecret() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}

func secretMatches(given, want string) bool {
	if given == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(want)) == 1
}

func cleanTags(raw []string) []string {
	out := []string{}
	for _, t := range raw {
		if len(out) >= MaxTags {
			break
		}
		if c := helpers.Truncate(t, MaxTagLen); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func authorID(raw string) string {
	if id := helpers.Truncate(raw, MaxUserIDLen); id != "" {
		return id
	}
	return anonAuthor
}

// Submitter id for scoring. Anonymous authors get none, so they never share one velocity counter.
func submitterID(author string) string {
	if author == anonAuthor {
		return ""
	}
	return author
}

func tierOrDefault(raw string) string {
	if raw == "" {
		return string(risk.TierT0)
	}
	return raw
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.KV.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return true, nil
}

// Caller-supplied ids must be well-formed, and unused by any post or reply, since moderation decisions address content by id alone.
func (s *Store) checkNewID(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if !engine.ValidItemID(id) {
		return fmt.Errorf("%w: malformed item_id", ErrInvalidContent)
	}
	for _, key := range []string{postKey(id), replyIndexKey(id)} {
		found, err := s.exists(ctx, key)
		if err != nil {
			return err
		}
		if found {
			return ErrConflict
		}
	}
	return nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.KV.Put(ctx, key, raw, 0)
}

func (s *Store) getJSON(ctx context.Context, key string, v any) error {
	raw, err := s.KV.Get(ctx, key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Scores and stores a new post. Held-back posts are enqueued for review before the post itself is written, so content never exists in a non-public state without a queue record.
func (s *Store) CreatePost(ctx context.Context, ns string, in NewPost) (*CreatedPost, error) {
	title := helpers.Truncate(in.Title, MaxTitleLen)
	body := helpers.Truncate(in.Body, MaxPostBodyLen)
	if title == "" || body == "" {
		return nil, fmt.Errorf("%w: title and body are required", ErrInvalidContent)
	}
	if ns == "" {
		return nil, fmt.Errorf("%w: missing namespace", ErrInvalidContent)
	}
	if err := s.checkNewID(ctx, in.ItemID); err != nil {
		return nil, err
	}
	tags := cleanTags(in.Tags)
	author := authorID(in.UserID)

	sub := engine.Submission{
		ItemID:     in.ItemID,
		UserID:     submitterID(author),
		Text:       title + "\n" + body,
		Tags:       tags,
		Links:      helpers.DedupeStrings(append(append([]string{}, in.Links...), helpers.ExtractTextLinks(body)...)),
		TrustTier:  tierOrDefault(in.TrustTier),
		Velocity:   in.Velocity,
		Preview:    helpers.Excerpt(body, PostPreviewLen),
		PreviewLen: PostPreviewLen,
	}
	res, err := s.Engine.Process(ctx, &sub)
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	post := Post{
		ID:              res.ItemID,
		Namespace:       ns,
		Title:           title,
		Body:            body,
		Category:        helpers.Truncate(in.Category, MaxCategoryLen),
		Tags:            tags,
		AuthorID:        author,
		CreatedAt:       now,
		UpdatedAt:       now,
		VisibilityState: res.Routing.State,
		RiskScore:       res.RiskScore,
		PolicyLabels:    res.PolicyLabels,
		RuleHits:        res.RuleHits,
		Routing:         res.Routing,
		AuthorSecret:    newAuthorSecret(),
	}
	if err := s.putJSON(ctx, postKey(post.ID), post); err != nil {
		return nil, fmt.Errorf("storing post: %w", err)
	}
	s.purgeFeed(ctx, ns)

	return &CreatedPost{
		ID:              post.ID,
		VisibilityState: post.VisibilityState,
		Routing:         post.Routing,
		RiskScore:       post.RiskScore,
		PolicyLabels:    post.PolicyLabels,
		RuleHits:        post.RuleHits,
		AuthorSecret:    post.AuthorSecret,
		ViewURL:         ViewURL(post.ID),
	}, nil
}

// Scores and stores a reply to an existing post in the same namespace.
func (s *Store) CreateReply(ctx context.Context, ns string, in NewReply) (*CreatedReply, error) {
	postID := helpers.Truncate(in.PostID, MaxPostIDLen)
	body := helpers.Truncate(in.Body, MaxReplyBodyLen)
	if postID == "" || body == "" {
		return nil, fmt.Errorf("%w: post_id and body are required", ErrInvalidContent)
	}
	if !engine.ValidItemID(postID) {
		return nil, ErrNotFound
	}
	var post Post
	if err := s.getJSON(ctx, postKey(postID), &post); err != nil {
		return nil, err
	}
	if post.Namespace != ns {
		return nil, ErrNotFound
	}
	if err := s.checkNewID(ctx, in.ItemID); err != nil {
		return nil, err
	}

	author := authorID(in.UserID)
	sub := engine.Submission{
		ItemID:     in.ItemID,
		PostID:     postID,
		UserID:     submitterID(author),
		Text:       body,
		Links:      helpers.DedupeStrings(append(append([]string{}, in.Links...), helpers.ExtractTextLinks(body)...)),
		TrustTier:  tierOrDefault(in.TrustTier),
		Velocity:   in.Velocity,
		Preview:    helpers.Excerpt(body, ReplyPreviewLen),
		PreviewLen: ReplyPreviewLen,
	}
	res, err := s.Engine.Process(ctx, &sub)
	if err != nil {
		return nil, err
	}

	now := s.now().UnixMilli()
	reply := Reply{
		ID:              res.ItemID,
		PostID:          postID,
		Namespace:       ns,
		Body:            body,
		AuthorID:        author,
		CreatedAt:       now,
		UpdatedAt:       now,
		VisibilityState: res.Routing.State,
		RiskScore:       res.RiskScore,
		PolicyLabels:    res.PolicyLabels,
		RuleHits:        res.RuleHits,
		Routing:         res.Routing,
		AuthorSecret:    newAuthorSecret(),
	}
	// index first: a dangling index entry is harmless, an unindexed reply can't be moderated
	if err := s.KV.Put(ctx, replyIndexKey(reply.ID), []byte(postID), 0); err != nil {
		return nil, fmt.Errorf("storing reply index: %w", err)
	}
	if err := s.putJSON(ctx, replyKey(postID, reply.ID), reply); err != nil {
		return nil, fmt.Errorf("storing reply: %w", err)
	}

	return &CreatedReply{
		ID:              reply.ID,
		PostID:          postID,
		VisibilityState: reply.VisibilityState,
		Routing:         reply.Routing,
		AuthorSecret:    reply.AuthorSecret,
		CreatedAt:       now,
	}, nil
}

// Returns a post. Posts which are not published are only visible with the author secret; otherwise they are reported as not found.
func (s *Store) GetPost(ctx context.Context, ns, id, secret string) (*PostView, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidContent)
	}
	if !engine.ValidItemID(id) {
		return nil, ErrNotFound
	}
	var post Post
	if err := s.getJSON(ctx, postKey(id), &post); err != nil {
		return nil, err
	}
	if post.Namespace != ns {
		return nil, ErrNotFound
	}
	if post.VisibilityState != risk.StatePublish && !secretMatches(secret, post.AuthorSecret) {
		return nil, ErrNotFound
	}
	return &PostView{
		ID:              post.ID,
		Title:           post.Title,
		Body:            post.Body,
		Category:        post.Category,
		Tags:            nonNil(post.Tags),
		CreatedAt:       post.CreatedAt,
		VisibilityState: post.VisibilityState,
	}, nil
}

// Returns published replies to a post, plus any non-published replies matching the author secret, oldest first.
func (s *Store) ListReplies(ctx context.Context, ns, postID, secret string) ([]ReplyView, error) {
	postID = helpers.Truncate(postID, MaxPostIDLen)
	if postID == "" {
		return nil, fmt.Errorf("%w: missing post_id", ErrInvalidContent)
	}
	if !engine.ValidItemID(postID) {
		return []ReplyView{}, nil
	}
	entries, err := s.KV.List(ctx, replyPrefix(postID), 0)
	if err != nil {
		return nil, err
	}
	out := []ReplyView{}
	for _, e := range entries {
		var r Reply
		if err := json.Unmarshal(e.Value, &r); err != nil {
			s.logger().Warn("skipping malformed reply", "key", e.Key, "err", err)
			continue
		}
		if r.Namespace != ns {
			continue
		}
		mine := secretMatches(secret, r.AuthorSecret)
		if r.VisibilityState != risk.StatePublish && !mine {
			continue
		}
		out = append(out, ReplyView{
			ID:              r.ID,
			Body:            r.Body,
			CreatedAt:       r.CreatedAt,
			VisibilityState: r.VisibilityState,
			Mine:            mine,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// Sets the visibility of a post or reply by item id. Reports whether any content was found and updated.
func (s *Store) SetVisibility(ctx context.Context, itemID string, state risk.State, at time.Time) (bool, error) {
	if !state.Valid() {
		return false, fmt.Errorf("invalid visibility state: %q", state)
	}
	updated := false

	var post Post
	err := s.getJSON(ctx, postKey(itemID), &post)
	switch {
	case err == nil:
		post.VisibilityState = state
		post.UpdatedAt = at.UnixMilli()
		if err := s.putJSON(ctx, postKey(itemID), post); err != nil {
			return false, fmt.Errorf("updating post: %w", err)
		}
		s.purgeFeed(ctx, post.Namespace)
		updated = true
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	raw, err := s.KV.Get(ctx, replyIndexKey(itemID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return updated, nil
	} else if err != nil {
		return updated, err
	}
	key := replyKey(string(raw), itemID)
	var reply Reply
	err = s.getJSON(ctx, key, &reply)
	if errors.Is(err, ErrNotFound) {
		return updated, nil
	} else if err != nil {
		return updated, err
	}
	reply.VisibilityState = state
	reply.UpdatedAt = at.UnixMilli()
	if err := s.putJSON(ctx, key, reply); err != nil {
		return updated, fmt.Errorf("updating reply: %w", err)
	}
	return true, nil
}

func nonNil(l []string) []string {
	if l == nil {
		return []string{}
	}
	return l
}
