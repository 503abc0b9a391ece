package auth

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/csrf"

	"github.com/storytrim/server/internal/http/respond"
)

// CSRFTokenHeader is the header browsers send the CSRF token in.
const CSRFTokenHeader = "X-CSRF-Token"

const csrfErrorCode = http.StatusForbidden

// CSRFMiddleware protects cookie-authenticated requests. Requests that
// carry a token, or no session cookie at all, cannot be forged by a
// third-party page and skip the check. gorilla/csrf lets safe methods
// through and issues the token they need.
func CSRFMiddleware(secret []byte, secure bool, sessionCookie string) gin.HandlerFunc {
	csrfProtect := csrf.Protect(
		secret,
		csrf.Secure(secure),
		csrf.HttpOnly(true),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.Path("/"),
		csrf.RequestHeader(CSRFTokenHeader),
		csrf.ErrorHandler(http.HandlerFunc(csrfErrorHandler)),
	)

	return func(c *gin.Context) {
		if _, ok := requestToken(c); ok {
			c.Next()
			return
		}
		if _, err := c.Request.Cookie(sessionCookie); err != nil && !isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		req := c.Request
		if !secure && req.TLS == nil {
			req = csrf.PlaintextHTTPRequest(req)
		}

		passed := false
		handler := csrfProtect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			passed = true
			c.Set("csrf_token", csrf.Token(r))
			c.Request = r
			c.Next()
		}))
		handler.ServeHTTP(c.Writer, req)
		if !passed {
			c.Abort()
		}
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	}
	return false
}

// csrfErrorHandler answers failed checks with the API envelope.
func csrfErrorHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	msg := "CSRF token invalid or missing"
	if reason := csrf.FailureReason(r); reason != nil {
		msg += ": " + reason.Error()
	}
	_ = json.NewEncoder(w).Encode(respond.Response{Code: csrfErrorCode, Msg: msg})
}

// GetCSRFToken retrieves the CSRF token from the Gin context.
func GetCSRFToken(c *gin.Context) string {
	if token, exists := c.Get("csrf_token"); exists {
		if t, ok := token.(string); ok {
			return t
		}
	}
	return ""
}
