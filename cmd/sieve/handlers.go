package main

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/commonsforum/sieve/automod/engine"
	"github.com/commonsforum/sieve/automod/forum"
	"github.com/commonsforum/sieve/automod/queue"
	"github.com/commonsforum/sieve/automod/review"
	"github.com/commonsforum/sieve/automod/risk"
	"github.com/commonsforum/sieve/automod/rules"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"
)

// Error response envelope. Every error, including framework errors, is written in this shape.
type ErrorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

type GenericStatus struct {
	OK      bool   `json:"ok"`
	Daemon  string `json:"daemon"`
	Version string `json:"version"`
}

// Error with an explicit status and error kind.
type apiError struct {
	Status  int
	Kind    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

var (
	errUnauthorized  = &apiError{Status: http.StatusUnauthorized, Kind: "Unauthorized", Message: "unauthorized"}
	errMisconfigured = &apiError{Status: http.StatusInternalServerError, Kind: "Misconfigured", Message: "reviewer authentication is required but not configured"}
)

func invalidRequest(msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Kind: "InvalidRequest", Message: msg}
}

// Maps an error returned by a handler to a status, error kind, and caller-safe message.
func classifyError(err error) (int, string, string) {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.Status, ae.Kind, ae.Message
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprintf("%v", he.Message)
		switch he.Code {
		case http.StatusBadRequest:
			return he.Code, "InvalidRequest", msg
		case http.StatusUnauthorized:
			return he.Code, "Unauthorized", "unauthorized"
		case http.StatusNotFound:
			return he.Code, "NotFound", msg
		case http.StatusMethodNotAllowed:
			return he.Code, "MethodNotAllowed", msg
		case http.StatusRequestEntityTooLarge:
			return he.Code, "PayloadTooLarge", msg
		case http.StatusTooManyRequests:
			return he.Code, "RateLimited", msg
		}
		if he.Code < 500 {
			return he.Code, "InvalidRequest", msg
		}
		return http.StatusInternalServerError, "InternalError", "internal error"
	}
	switch {
	case errors.Is(err, engine.ErrInvalidSubmission),
		errors.Is(err, forum.ErrInvalidContent),
		errors.Is(err, review.ErrUnknownMacro),
		errors.Is(err, review.ErrInvalidDecision):
		return http.StatusBadRequest, "InvalidRequest", err.Error()
	case errors.Is(err, queue.ErrNotQueued):
		return http.StatusNotFound, "NotFound", "item is not in the moderation queue"
	case errors.Is(err, forum.ErrNotFound):
		return http.StatusNotFound, "NotFound", "not found"
	case errors.Is(err, forum.ErrConflict):
		return http.StatusConflict, "Conflict", err.Error()
	case errors.Is(err, queue.ErrUnavailable):
		return http.StatusServiceUnavailable, "Unavailable", "moderation queue unavailable"
	}
	return http.StatusInternalServerError, "InternalError", "internal error"
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, kind, msg := classifyError(err)
	trace.SpanFromContext(c.Request().Context()).RecordError(err)
	if code >= 500 {
		srv.logger.Warn("sieve-http-internal-error", "path", c.Path(), "kind", kind, "err", err)
	}
	if err := c.JSON(code, ErrorResponse{OK: false, Error: kind, Message: msg}); err != nil {
		srv.logger.Error("failed to write error response", "err", err)
	}
}

// Reviewer bearer-token check. With no token configured, access is open unless the server requires one.
func (srv *Server) requireReviewer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if srv.modToken == "" {
			if srv.requireModToken {
				return errMisconfigured
			}
			return next(c)
		}
		tok, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok || subtle.ConstantTimeCompare([]byte(tok), []byte(srv.modToken)) != 1 {
			return errUnauthorized
		}
		return next(c)
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	tok := strings.TrimSpace(header[len(prefix):])
	return tok, tok != ""
}

func noStore(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
		return next(c)
	}
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{OK: true, Daemon: "sieve", Version: versioninfo.Short()})
}

type userContext struct {
	TrustTier string         `json:"trust_tier"`
	Velocity  *risk.Velocity `json:"velocity"`
}

func (uc *userContext) author(userID string) forum.Author {
	a := forum.Author{UserID: userID}
	if uc != nil {
		a.TrustTier = uc.TrustTier
		a.Velocity = uc.Velocity
	}
	return a
}

type scoreRequest struct {
	ItemID      string        `json:"item_id"`
	UserID      string        `json:"user_id"`
	Text        string        `json:"text"`
	Tags        []string      `json:"tags"`
	Links       []string      `json:"links"`
	Media       []rules.Media `json:"media"`
	UserContext *userContext  `json:"user_context"`
}

type scoreResponse struct {
	OK bool `json:"ok"`
	*engine.Result
}

func (srv *Server) HandleScore(c echo.Context) error {
	var body scoreRequest
	if err := c.Bind(&body); err != nil {
		return invalidRequest("malformed request body")
	}
	author := body.UserContext.author(body.UserID)
	sub := engine.Submission{
		ItemID:    body.ItemID,
		UserID:    body.UserID,
		Text:      body.Text,
		Tags:      body.Tags,
		Links:     body.Links,
		Media:     body.Media,
		TrustTier: author.TrustTier,
		Velocity:  author.Velocity,
	}
	res, err := srv.engine.Process(c.Request().Context(), &sub)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, scoreResponse{OK: true, Result: res})
}

type queueResponse struct {
	OK    bool           `json:"ok"`
	Items []queue.Record `json:"items"`
}

func (srv *Server) HandleQueue(c echo.Context) error {
	items, err := srv.engine.Queue.List(c.Request().Context())
	if err != nil {
		return err
	}
	if items == nil {
		items = []queue.Record{}
	}
	return c.JSON(http.StatusOK, queueResponse{OK: true, Items: items})
}

type decisionRequest struct {
	ItemID     string         `json:"item_id"`
	MacroID    string         `json:"macro_id"`
	ReviewerID string         `json:"reviewer_id"`
	Fields     map[string]any `json:"fields"`
}

type decisionResponse struct {
	OK       bool           `json:"ok"`
	Decision *review.Record `json:"decision"`
}

func (srv *Server) HandleDecision(c echo.Context) error {
	var body decisionRequest
	if err := c.Bind(&body); err != nil {
		return invalidRequest("malformed request body")
	}
	rec, err := srv.review.Decide(c.Request().Context(), review.Decision{
		ItemID:     body.ItemID,
		MacroID:    body.MacroID,
		ReviewerID: body.ReviewerID,
		Fields:     body.Fields,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, decisionResponse{OK: true, Decision: rec})
}

type decisionsResponse struct {
	OK        bool            `json:"ok"`
	Decisions []review.Record `json:"decisions"`
}

func (srv *Server) HandleDecisions(c echo.Context) error {
	recs, err := srv.review.History(c.Request().Context(), c.QueryParam("item_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, decisionsResponse{OK: true, Decisions: recs})
}

type forumCreateRequest struct {
	ItemID      string       `json:"item_id"`
	UserID      string       `json:"user_id"`
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	Category    string       `json:"category"`
	Tags        []string     `json:"tags"`
	Links       []string     `json:"links"`
	UserContext *userContext `json:"user_context"`
}

type forumCreateResponse struct {
	OK bool `json:"ok"`
	*forum.CreatedPost
}

func namespace(c echo.Context) string {
	return forum.NormalizeNamespace(c.Request().Host)
}

func (srv *Server) HandleForumCreate(c echo.Context) error {
	var body forumCreateRequest
	if err := c.Bind(&body); err != nil {
		return invalidRequest("malformed request body")
	}
	created, err := srv.forum.CreatePost(c.Request().Context(), namespace(c), forum.NewPost{
		Author:   body.UserContext.author(body.UserID),
		ItemID:   body.ItemID,
		Title:    body.Title,
		Body:     body.Body,
		Category: body.Category,
		Tags:     body.Tags,
		Links:    body.Links,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, forumCreateResponse{OK: true, CreatedPost: created})
}

type forumReplyRequest struct {
	ItemID      string       `json:"item_id"`
	PostID      string       `json:"post_id"`
	UserID      string       `json:"user_id"`
	Body        string       `json:"body"`
	Links       []string     `json:"links"`
	UserContext *userContext `json:"user_context"`
}

type forumReplyResponse struct {
	OK bool `json:"ok"`
	*forum.CreatedReply
}

func (srv *Server) HandleForumReply(c echo.Context) error {
	var body forumReplyRequest
	if err := c.Bind(&body); err != nil {
		return invalidRequest("malformed request body")
	}
	created, err := srv.forum.CreateReply(c.Request().Context(), namespace(c), forum.NewReply{
		Author: body.UserContext.author(body.UserID),
		ItemID: body.ItemID,
		PostID: body.PostID,
		Body:   body.Body,
		Links:  body.Links,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, forumReplyResponse{OK: true, CreatedReply: created})
}

type forumFeedResponse struct {
	OK    bool             `json:"ok"`
	Items []forum.FeedItem `json:"items"`
}

func (srv *Server) HandleForumFeed(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return invalidRequest("limit must be an integer")
		}
		limit = n
	}
	items, err := srv.forum.Feed(c.Request().Context(), namespace(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, forumFeedResponse{OK: true, Items: items})
}

type forumPostResponse struct {
	OK   bool            `json:"ok"`
	Post *forum.PostView `json:"post"`
}

func (srv *Server) HandleForumPost(c echo.Context) error {
	post, err := srv.forum.GetPost(c.Request().Context(), namespace(c), c.QueryParam("id"), c.QueryParam("secret"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, forumPostResponse{OK: true, Post: post})
}

type forumRepliesResponse struct {
	OK      bool              `json:"ok"`
	Replies []forum.ReplyView `json:"replies"`
}

func (srv *Server) HandleForumReplies(c echo.Context) error {
	replies, err := srv.forum.ListReplies(c.Request().Context(), namespace(c), c.QueryParam("post_id"), c.QueryParam("secret"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, forumRepliesResponse{OK: true, Replies: replies})
}
