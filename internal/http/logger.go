package http

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"

	"github.com/storytrim/server/internal/auth"
	"github.com/storytrim/server/internal/logging"
)

const (
	// Request bodies above this size are not logged at all.
	maxLoggedBody = 64 << 10
	// String fields longer than this are cut when a body is logged.
	maxLoggedRunes = 200
)

// RequestLogger logs one line per request. JSON request bodies are included
// at debug level with long text fields shortened.
func RequestLogger(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]bool, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = true
	}
	logger := logging.With("http")

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if skip[path] {
			c.Next()
			return
		}

		start := time.Now()
		var body []byte
		if zerolog.GlobalLevel() <= zerolog.DebugLevel && isJSONBody(c) {
			body = peekBody(c)
		}

		c.Next()

		status := c.Writer.Status()
		event := logger.Info()
		switch {
		case status >= 500:
			event = logger.Error()
		case status >= 400:
			event = logger.Warn()
		}

		event = event.
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())
		if uid := auth.GetUserID(c); uid != 0 {
			event = event.Uint("user_id", uid)
		}
		if c.Request.URL.RawQuery != "" {
			event = event.Str("query", c.Request.URL.RawQuery)
		}
		if shortened := shortenJSON(body); shortened != nil {
			event = event.RawJSON("body", shortened)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.Msg("Request")
	}
}

func isJSONBody(c *gin.Context) bool {
	if c.Request.Body == nil || c.Request.ContentLength > maxLoggedBody {
		return false
	}
	return strings.HasPrefix(c.ContentType(), "application/json")
}

// peekBody reads the body and puts it back for the handler.
func peekBody(c *gin.Context) []byte {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxLoggedBody+1))
	rest := c.Request.Body
	c.Request.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), rest), rest}
	if err != nil || len(body) > maxLoggedBody {
		return nil
	}
	return body
}

// shortenJSON re-encodes body with every long string cut down, or returns
// nil when body is not JSON.
func shortenJSON(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	out, err := json.Marshal(shortenValue(v))
	if err != nil {
		return nil
	}
	return out
}

func shortenValue(v any) any {
	switch t := v.(type) {
	case string:
		runes := []rune(t)
		if len(runes) <= maxLoggedRunes {
			return t
		}
		return string(runes[:maxLoggedRunes]) + "...(" + cast.ToString(len(runes)) + " chars)"
	case map[string]any:
		for k, item := range t {
			t[k] = shortenValue(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = shortenValue(item)
		}
		return t
	default:
		return v
	}
}
