// Shared scoring pipeline for submitted content.
//
// Every call site which scores content (the standalone scoring endpoint, forum posts, and forum replies) goes through Engine, so identical inputs always produce identical results: detect rule hits, classify links, resolve velocity, aggregate a risk score, route to a visibility state, and enqueue for review when the content is not published.
package engine
