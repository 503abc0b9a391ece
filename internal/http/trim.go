package http

import (
	"context"
	"math"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/storytrim/server/internal/auth"
	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/http/respond"
	"github.com/storytrim/server/internal/logging"
	"github.com/storytrim/server/internal/parsers"
	"github.com/storytrim/server/internal/ratelimit"
	"github.com/storytrim/server/internal/services"
)

// SSE event names sent by the trim streams.
const (
	eventData  = "data"
	eventDone  = "done"
	eventError = "error"
)

var errStreamThrottled = errno.ErrTooManyAttempts.WithMsg("请求过于频繁，请稍后再试")

// wsRequestTimeout bounds the wait for a WebSocket client's request message.
const wsRequestTimeout = 30 * time.Second

// TrimController streams chapter trims as Server-Sent Events, or over
// WebSocket for the mobile clients.
type TrimController struct {
	trims   *services.TrimService
	limiter *ratelimit.KeyedRateLimiter
}

// NewTrimController creates the controller. limiter may be nil to disable
// per-user throttling.
func NewTrimController(trims *services.TrimService, limiter *ratelimit.KeyedRateLimiter) *TrimController {
	return &TrimController{trims: trims, limiter: limiter}
}

func (tc *TrimController) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/stream/md5", tc.StreamByMD5)
	group.POST("/stream/chapter", tc.StreamByChapter)
	group.GET("/stream/by-md5", tc.StreamByMD5WS)
	group.GET("/stream/by-id", tc.StreamByChapterWS)
}

type trimByMD5Request struct {
	MD5          string `json:"md5" binding:"required"`
	BookMD5      string `json:"book_md5"`
	BookTitle    string `json:"book_title"`
	ChapterTitle string `json:"chapter_title"`
	Content      string `json:"content"`
	PromptID     uint   `json:"prompt_id"`
}

type trimByChapterRequest struct {
	BookID    uint `json:"book_id" binding:"required"`
	ChapterID uint `json:"chapter_id" binding:"required"`
	PromptID  uint `json:"prompt_id"`
}

// wsTrimByChapterRequest leaves book_id optional; the chapter's book is
// used when it is missing.
type wsTrimByChapterRequest struct {
	BookID    uint `json:"book_id"`
	ChapterID uint `json:"chapter_id"`
	PromptID  uint `json:"prompt_id"`
}

// StreamByMD5 handles POST /trim/stream/md5 for books held on the client.
func (tc *TrimController) StreamByMD5(c *gin.Context) {
	var req trimByMD5Request
	if !bindJSON(c, &req) {
		return
	}
	if !tc.allow(c) {
		return
	}
	stream, err := tc.trims.TrimStreamByMD5(c.Request.Context(), GetUserID(c),
		req.MD5, req.BookMD5, req.BookTitle, req.ChapterTitle, req.Content, req.PromptID)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	writeTrimStream(c, stream)
}

// StreamByChapter handles POST /trim/stream/chapter for cloud books.
func (tc *TrimController) StreamByChapter(c *gin.Context) {
	var req trimByChapterRequest
	if !bindJSON(c, &req) {
		return
	}
	if !tc.allow(c) {
		return
	}
	stream, err := tc.trims.TrimStreamByChapterID(c.Request.Context(), GetUserID(c),
		req.BookID, req.ChapterID, req.PromptID)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	writeTrimStream(c, stream)
}

func (tc *TrimController) allow(c *gin.Context) bool {
	ok, wait := tc.reserve(c)
	if ok {
		return true
	}
	c.Header("Retry-After", cast.ToString(int(math.Ceil(wait.Seconds()))))
	respond.Fail(c, errStreamThrottled)
	return false
}

func (tc *TrimController) reserve(c *gin.Context) (bool, time.Duration) {
	if tc.limiter == nil {
		return true, 0
	}
	return tc.limiter.Reserve(cast.ToString(GetUserID(c)))
}

// StreamByMD5WS handles GET /trim/stream/by-md5. The client sends the same
// body as StreamByMD5 as its first message; a missing md5 is computed from
// the content.
func (tc *TrimController) StreamByMD5WS(c *gin.Context) {
	conn, ok := acceptWS(c)
	if !ok {
		return
	}
	defer conn.CloseNow()

	var req trimByMD5Request
	if err := readWSRequest(c.Request.Context(), conn, &req); err != nil {
		writeWSError(c, conn, errno.ErrParam.WithMsg("invalid request format"))
		return
	}
	if req.MD5 == "" && req.Content != "" {
		req.MD5 = parsers.Fingerprint(req.Content)
	}
	if req.MD5 == "" {
		writeWSError(c, conn, errno.ErrParam.WithMsg("md5 or content is required"))
		return
	}
	if ok, _ := tc.reserve(c); !ok {
		writeWSError(c, conn, errStreamThrottled)
		return
	}

	ctx := conn.CloseRead(c.Request.Context())
	stream, err := tc.trims.TrimStreamByMD5(ctx, GetUserID(c),
		req.MD5, req.BookMD5, req.BookTitle, req.ChapterTitle, req.Content, req.PromptID)
	if err != nil {
		writeWSError(c, conn, err)
		return
	}
	relayWS(ctx, c, conn, stream)
}

// StreamByChapterWS handles GET /trim/stream/by-id. chapter_id and
// prompt_id come from the query string or, when chapter_id is absent
// there, from the client's first message.
func (tc *TrimController) StreamByChapterWS(c *gin.Context) {
	conn, ok := acceptWS(c)
	if !ok {
		return
	}
	defer conn.CloseNow()

	var req wsTrimByChapterRequest
	if c.Query("chapter_id") != "" {
		req.ChapterID = cast.ToUint(c.Query("chapter_id"))
		req.PromptID = cast.ToUint(c.Query("prompt_id"))
		req.BookID = cast.ToUint(c.Query("book_id"))
	} else if err := readWSRequest(c.Request.Context(), conn, &req); err != nil {
		writeWSError(c, conn, errno.ErrParam.WithMsg("invalid request format"))
		return
	}
	if req.ChapterID == 0 {
		writeWSError(c, conn, errno.ErrParam.WithMsg("chapter_id is required"))
		return
	}
	if ok, _ := tc.reserve(c); !ok {
		writeWSError(c, conn, errStreamThrottled)
		return
	}

	ctx := conn.CloseRead(c.Request.Context())
	stream, err := tc.trims.TrimStreamByChapterID(ctx, GetUserID(c), req.BookID, req.ChapterID, req.PromptID)
	if err != nil {
		writeWSError(c, conn, err)
		return
	}
	relayWS(ctx, c, conn, stream)
}

// acceptWS upgrades the request. Token-authenticated requests may come from
// any origin; cookie-authenticated ones must be same-origin.
func acceptWS(c *gin.Context) (*websocket.Conn, bool) {
	opts := &websocket.AcceptOptions{}
	if authType, _ := c.Get(auth.ContextKeyAuthType); authType == auth.AuthTypeBearer {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(c.Writer, c.Request, opts)
	if err != nil {
		logging.With("trim").Debug().Err(err).Msg("WebSocket upgrade failed")
		c.Abort()
		return nil, false
	}
	return conn, true
}

func readWSRequest(ctx context.Context, conn *websocket.Conn, req any) error {
	ctx, cancel := context.WithTimeout(ctx, wsRequestTimeout)
	defer cancel()
	return wsjson.Read(ctx, conn, req)
}

// writeWSError sends {"code", "error"} and closes the connection normally.
func writeWSError(c *gin.Context, conn *websocket.Conn, err error) {
	e := errno.From(err)
	if e.Code == errno.CodeInternal {
		logging.With("trim").Error().Err(err).Uint("user_id", GetUserID(c)).Msg("Trim stream failed")
	}
	ctx := c.Request.Context()
	_ = wsjson.Write(ctx, conn, gin.H{"code": e.Code, "error": e.Msg})
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// relayWS sends chunks as {"c": chunk} and closes normally when the trim
// ends. After a failed write the rest of the stream is drained unsent.
func relayWS(ctx context.Context, c *gin.Context, conn *websocket.Conn, stream *services.TrimStream) {
	gone := false
	for chunk := range stream.Chunks() {
		if gone {
			continue
		}
		if err := wsjson.Write(ctx, conn, gin.H{"c": chunk}); err != nil {
			gone = true
		}
	}
	if gone || ctx.Err() != nil {
		return
	}
	if err := stream.Err(); err != nil {
		writeWSError(c, conn, err)
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// writeTrimStream relays chunks as "data" events carrying {"c": chunk} and
// ends with "done", or with "error" carrying {code, msg}. A client that
// goes away cancels the request context, which stops forwarding; a live
// trim still completes and is stored.
func writeTrimStream(c *gin.Context, stream *services.TrimStream) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(200)
	c.Writer.Flush()

	for chunk := range stream.Chunks() {
		c.SSEvent(eventData, gin.H{"c": chunk})
		c.Writer.Flush()
	}

	if err := stream.Err(); err != nil {
		if c.Request.Context().Err() != nil {
			return
		}
		e := errno.From(err)
		if e.Code == errno.CodeInternal {
			logging.With("trim").Error().Err(err).Uint("user_id", GetUserID(c)).Msg("Trim stream failed")
		}
		c.SSEvent(eventError, respond.Response{Code: e.Code, Msg: e.Msg})
		c.Writer.Flush()
		return
	}
	c.SSEvent(eventDone, gin.H{})
	c.Writer.Flush()
}
