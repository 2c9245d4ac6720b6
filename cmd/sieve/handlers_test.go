package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "s3cret-token"

func testServer(t *testing.T, token string, requireToken bool) *Server {
	return testServerConfig(t, Config{ModToken: token, RequireModToken: requireToken})
}

func testServerConfig(t *testing.T, config Config) *Server {
	config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	config.Bind = ":0"
	// a fresh registry per server, since request metrics can only be registered once
	config.Registerer = prometheus.NewRegistry()
	srv, err := NewServer(context.Background(), config)
	require.NoError(t, err)
	return srv
}

type testResponse struct {
	Code int
	Body map[string]any
	Raw  []byte
	Hdr  http.Header
}

func doRequest(t *testing.T, srv *Server, method, target, body, token string) testResponse {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	out := testResponse{Code: rec.Code, Raw: rec.Body.Bytes(), Hdr: rec.Header()}
	require.NoError(t, json.Unmarshal(out.Raw, &out.Body), "body: %s", rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t, "", false)

	resp := doRequest(t, srv, http.MethodGet, "/_health", "", "")
	assert.Equal(http.StatusOK, resp.Code)
	assert.Equal(true, resp.Body["ok"])
	assert.Equal("sieve", resp.Body["daemon"])
	assert.Equal("nosniff", resp.Hdr.Get("X-Content-Type-Options"))
	assert.Equal("no-store", resp.Hdr.Get("Cache-Control"))
}

func TestScoreThreat(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	srv := testServer(t, testToken, false)

	resp := doRequest(t, srv, http.MethodPost, "/api/moderation/score",
		`{"item_id":"threat1","user_id":"u1","text":"I will kill you all","user_context":{"trust_tier":"T2","velocity":{"posts_last_hour":0}}}`, "")
	require.Equal(http.StatusOK, resp.Code, string(resp.Raw))
	assert.Equal(true, resp.Body["ok"])
	assert.Equal("threat1", resp.Body["item_id"])
	assert.Equal(float64(95), resp.Body["risk_score"])
	assert.Equal([]any{"P0"}, resp.Body["policy_labels"])
	assert.Equal(map[string]any{"state": "blocked", "reasons": []any{"p0_rule"}}, resp.Body["routing"])

	resp = doRequest(t, srv, http.MethodGet, "/api/moderation/queue", "", testToken)
	require.Equal(http.StatusOK, resp.Code)
	items := resp.Body["items"].([]any)
	require.Len(items, 1)
	assert.Equal("threat1", items[0].(map[string]any)["item_id"])
}

func TestScoreGeneratesItemID(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	srv := testServer(t, "", false)

	resp := doRequest(t, srv, http.MethodPost, "/api/moderation/score", `{"text":"hello world"}`, "")
	require.Equal(http.StatusOK, resp.Code)
	id, _ := resp.Body["item_id"].(string)
	assert.NotEmpty(id)
	// unverified by default, so never published straight away
	assert.Equal(map[string]any{"state": "limited", "reasons": []any{"t0_default_limited"}}, resp.Body["routing"])
	assert.Equal(true, resp.Body["queued"])
}

func TestScoreInvalid(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t, "", false)

	resp := doRequest(t, srv, http.MethodPost, "/api/moderation/score", `{"item_id":"bad id!","text":"hi"}`, "")
	assert.Equal(http.StatusBadRequest, resp.Code)
	assert.Equal(false, resp.Body["ok"])
	assert.Equal("InvalidRequest", resp.Body["error"])

	resp = doRequest(t, srv, http.MethodPost, "/api/moderation/score", `{"text":`, "")
	assert.Equal(http.StatusBadRequest, resp.Code)
	assert.Equal("InvalidRequest", resp.Body["error"])
}

func TestReviewerAuth(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t, testToken, false)

	resp := doRequest(t, srv, http.MethodGet, "/api/moderation/queue", "", "")
	assert.Equal(http.StatusUnauthorized, resp.Code)
	assert.Equal(map[string]any{"ok": false, "error": "Unauthorized", "message": "unauthorized"}, resp.Body)

	resp = doRequest(t, srv, http.MethodGet, "/api/moderation/queue", "", "wrong")
	assert.Equal(http.StatusUnauthorized, resp.Code)

	resp = doRequest(t, srv, http.MethodPost, "/api/moderation/decision", `{"item_id":"x","macro_id":"remove"}`, "wrong")
	assert.Equal(http.StatusUnauthorized, resp.Code)

	resp = doRequest(t, srv, http.MethodGet, "/api/moderation/queue", "", testToken)
	assert.Equal(http.StatusOK, resp.Code)
	assert.Equal([]any{}, resp.Body["items"])

	// open access when no token is configured
	open := testServer(t, "", false)
	resp = doRequest(t, open, http.MethodGet, "/api/moderation/queue", "", "")
	assert.Equal(http.StatusOK, resp.Code)

	strict := testServer(t, "", true)
	resp = doRequest(t, strict, http.MethodGet, "/api/moderation/queue", "", "")
	assert.Equal(http.StatusInternalServerError, resp.Code)
	assert.Equal("Misconfigured", resp.Body["error"])
}

func TestBearerToken(t *testing.T) {
	assert := assert.New(t)

	tok, ok := bearerToken("Bearer abc")
	assert.True(ok)
	assert.Equal("abc", tok)
	tok, ok = bearerToken("bearer  abc ")
	assert.True(ok)
	assert.Equal("abc", tok)
	_, ok = bearerToken("Basic abc")
	assert.False(ok)
	_, ok = bearerToken("Bearer ")
	assert.False(ok)
	_, ok = bearerToken("")
	assert.False(ok)
}

func TestDecisionFlow(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	srv := testServer(t, testToken, false)
	host := "http://forum.example.com"

	resp := doRequest(t, srv, http.MethodPost, host+"/api/forum/create",
		`{"item_id":"post1","user_id":"u1","title":"Hello","body":"first post here"}`, "")
	require.Equal(http.StatusOK, resp.Code, string(resp.Raw))
	assert.Equal("limited", resp.Body["visibility_state"])
	secret := resp.Body["author_secret"].(string)
	assert.NotEmpty(secret)

	// not published, so hidden without the author secret
	resp = doRequest(t, srv, http.MethodGet, host+"/api/forum/post?id=post1", "", "")
	assert.Equal(http.StatusNotFound, resp.Code)
	resp = doRequest(t, srv, http.MethodGet, host+"/api/forum/post?id=post1&secret="+secret, "", "")
	assert.Equal(http.StatusOK, resp.Code)

	resp = doRequest(t, srv, http.MethodPost, "/api/moderation/decision", `{"item_id":"post1","macro_id":"bogus"}`, testToken)
	assert.Equal(http.StatusBadRequest, resp.Code)
	assert.Equal("InvalidRequest", resp.Body["error"])

	resp = doRequest(t, srv, http.MethodPost, "/api/moderation/decision",
		`{"item_id":"post1","macro_id":"warning","reviewer_id":"mod1","fields":{"note":"fine"}}`, testToken)
	require.Equal(http.StatusOK, resp.Code, string(resp.Raw))
	assert.Equal(true, resp.Body["ok"])
	decision := resp.Body["decision"].(map[string]any)
	assert.Equal("warning", decision["macro_id"])
	assert.Equal("publish", decision["result_state"])
	assert.Equal("mod1", decision["reviewer_id"])

	// now public, and in the feed
	resp = doRequest(t, srv, http.MethodGet, host+"/api/forum/post?id=post1", "", "")
	assert.Equal(http.StatusOK, resp.Code)
	resp = doRequest(t, srv, http.MethodGet, host+"/api/forum/feed", "", "")
	require.Equal(http.StatusOK, resp.Code)
	require.Len(resp.Body["items"], 1)

	// already decided
	resp = doRequest(t, srv, http.MethodPost, "/api/moderation/decision", `{"item_id":"post1","macro_id":"remove"}`, testToken)
	assert.Equal(http.StatusNotFound, resp.Code)
	assert.Equal("NotFound", resp.Body["error"])

	resp = doRequest(t, srv, http.MethodGet, "/api/moderation/decisions?item_id=post1", "", testToken)
	require.Equal(http.StatusOK, resp.Code)
	require.Len(resp.Body["decisions"], 1)
}

func TestForumReplies(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	srv := testServer(t, "", false)
	host := "http://www.Forum.example.com"

	resp := doRequest(t, srv, http.MethodPost, host+"/api/forum/create",
		`{"item_id":"p1","title":"Hello","body":"first post","user_context":{"trust_tier":"T2","velocity":{"posts_last_hour":0}}}`, "")
	require.Equal(http.StatusOK, resp.Code, string(resp.Raw))
	assert.Equal("publish", resp.Body["visibility_state"])

	resp = doRequest(t, srv, http.MethodPost, host+"/api/forum/reply", `{"post_id":"p1","body":"nice post"}`, "")
	require.Equal(http.StatusOK, resp.Code, string(resp.Raw))
	secret := resp.Body["author_secret"].(string)
	assert.Equal("limited", resp.Body["visibility_state"])

	resp = doRequest(t, srv, http.MethodGet, host+"/api/forum/replies?post_id=p1", "", "")
	require.Equal(http.StatusOK, resp.Code)
	assert.Equal([]any{}, resp.Body["replies"])

	resp = doRequest(t, srv, http.MethodGet, "http://forum.example.com/api/forum/replies?post_id=p1&secret="+secret, "", "")
	require.Equal(http.StatusOK, resp.Code)
	replies := resp.Body["replies"].([]any)
	require.Len(replies, 1)
	assert.Equal(true, replies[0].(map[string]any)["mine"])

	// parent lives in another namespace
	resp = doRequest(t, srv, http.MethodPost, "http://other.example.com/api/forum/reply", `{"post_id":"p1","body":"hi"}`, "")
	assert.Equal(http.StatusNotFound, resp.Code)

	resp = doRequest(t, srv, http.MethodPost, host+"/api/forum/create", `{"item_id":"p1","title":"Again","body":"dupe"}`, "")
	assert.Equal(http.StatusConflict, resp.Code)
	assert.Equal("Conflict", resp.Body["error"])

	resp = doRequest(t, srv, http.MethodGet, host+"/api/forum/feed?limit=abc", "", "")
	assert.Equal(http.StatusBadRequest, resp.Code)
}

func TestUnknownRoute(t *testing.T) {
	assert := assert.New(t)
	srv := testServer(t, "", false)

	resp := doRequest(t, srv, http.MethodGet, "/nope", "", "")
	assert.Equal(http.StatusNotFound, resp.Code)
	assert.Equal(false, resp.Body["ok"])
	assert.Equal("NotFound", resp.Body["error"])
}

func TestForumRateLimit(t *testing.T) {
	assert := assert.New(t)
	srv := testServerConfig(t, Config{ForumRateLimit: 0.01})
	host := "http://forum.example.com"

	resp := doRequest(t, srv, http.MethodPost, host+"/api/forum/create", `{"title":"one","body":"first"}`, "")
	assert.Equal(http.StatusOK, resp.Code)
	resp = doRequest(t, srv, http.MethodPost, host+"/api/forum/create", `{"title":"two","body":"second"}`, "")
	assert.Equal(http.StatusTooManyRequests, resp.Code)
	assert.Equal("RateLimited", resp.Body["error"])

	// reads are not limited
	resp = doRequest(t, srv, http.MethodGet, host+"/api/forum/feed", "", "")
	assert.Equal(http.StatusOK, resp.Code)
}
