// Forum content store: posts and replies, scored on creation by the shared engine, with visibility gated by moderation state.
//
// Content is scoped to a namespace (the site hostname). Non-published content is readable only by its author, who holds a capability secret returned at creation time. Replies are additionally indexed by their own id, so moderation decisions (which only know the item id) can find the owning post.
package forum
