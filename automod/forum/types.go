package forum

import (
	"github.com/commonsforum/sieve/automod/risk"
	"github.com/commonsforum/sieve/automod/rules"
)

type Post struct {
	ID              string       `json:"id"`
	Namespace       string       `json:"ns"`
	Title           string       `json:"title"`
	Body            string       `json:"body"`
	Category        string       `json:"category"`
	Tags            []string     `json:"tags"`
	AuthorID        string       `json:"author_id"`
	CreatedAt       int64        `json:"created_at"`
	UpdatedAt       int64        `json:"updated_at"`
	VisibilityState risk.State   `json:"visibility_state"`
	RiskScore       int          `json:"risk_score"`
	PolicyLabels    []string     `json:"policy_labels"`
	RuleHits        rules.Hits   `json:"rule_hits"`
	Routing         risk.Routing `json:"routing"`
	AuthorSecret    string       `json:"author_secret"`
}

type Reply struct {
	ID string `json:"id"`
	// immutable
	PostID          string       `json:"post_id"`
	Namespace       string       `json:"ns"`
	Body            string       `json:"body"`
	AuthorID        string       `json:"author_id"`
	CreatedAt       int64        `json:"created_at"`
	UpdatedAt       int64        `json:"updated_at"`
	VisibilityState risk.State   `json:"visibility_state"`
	RiskScore       int          `json:"risk_score"`
	PolicyLabels    []string     `json:"policy_labels"`
	RuleHits        rules.Hits   `json:"rule_hits"`
	Routing         risk.Routing `json:"routing"`
	AuthorSecret    string       `json:"author_secret"`
}

// Submitter context shared by posts and replies.
type Author struct {
	UserID    string
	TrustTier string
	// nil means "look it up"
	Velocity *risk.Velocity
}

type NewPost struct {
	Author
	ItemID   string
	Title    string
	Body     string
	Category string
	Tags     []string
	Links    []string
}

type NewReply struct {
	Author
	ItemID string
	PostID string
	Body   string
	Links  []string
}

type CreatedPost struct {
	ID              string       `json:"id"`
	VisibilityState risk.State   `json:"visibility_state"`
	Routing         risk.Routing `json:"routing"`
	RiskScore       int          `json:"risk_score"`
	PolicyLabels    []string     `json:"policy_labels"`
	RuleHits        rules.Hits   `json:"rule_hits"`
	AuthorSecret    string       `json:"author_secret"`
	ViewURL         string       `json:"view_url"`
}

type CreatedReply struct {
	ID              string       `json:"id"`
	PostID          string       `json:"post_id"`
	VisibilityState risk.State   `json:"visibility_state"`
	Routing         risk.Routing `json:"routing"`
	AuthorSecret    string       `json:"author_secret"`
	CreatedAt       int64        `json:"created_at"`
}

type FeedItem struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	CreatedAt int64    `json:"created_at"`
	Excerpt   string   `json:"excerpt"`
	URL       string   `json:"url"`
}

type PostView struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Body            string     `json:"body"`
	Category        string     `json:"category"`
	Tags            []string   `json:"tags"`
	CreatedAt       int64      `json:"created_at"`
	VisibilityState risk.State `json:"visibility_state"`
}

type ReplyView struct {
	ID              string     `json:"id"`
	Body            string     `json:"body"`
	CreatedAt       int64      `json:"created_at"`
	VisibilityState risk.State `json:"visibility_state"`
	Mine            bool       `json:"mine"`
}
