package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/http/respond"
)

// Context keys for user data
const (
	ContextKeyUserID   = "auth_user_id"
	ContextKeyUsername = "auth_username"
	ContextKeyAuthType = "auth_type"
)

// AuthType indicates how the user was authenticated
type AuthType string

const (
	AuthTypeNone    AuthType = "none"
	AuthTypeSession AuthType = "session"
	AuthTypeBearer  AuthType = "bearer"
)

// DefaultPublicPaths are reachable without credentials.
var DefaultPublicPaths = []string{
	"/health",
	"/api/v1/auth/register",
	"/api/v1/auth/login",
	"/api/v1/auth/csrf",
}

// Middleware handles authentication for HTTP requests.
type Middleware struct {
	service        *Service
	sessionManager *SessionManager
	publicPaths    map[string]bool
}

// NewMiddleware creates a new authentication middleware. sessionManager
// may be nil, in which case only bearer tokens are accepted.
func NewMiddleware(service *Service, sessionManager *SessionManager, publicPaths ...string) *Middleware {
	if len(publicPaths) == 0 {
		publicPaths = DefaultPublicPaths
	}
	paths := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		paths[p] = true
	}
	return &Middleware{
		service:        service,
		sessionManager: sessionManager,
		publicPaths:    paths,
	}
}

// Handler returns a Gin middleware that authenticates requests with a
// token first and the session cookie second.
func (m *Middleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.publicPaths[c.Request.URL.Path] {
			c.Set(ContextKeyAuthType, AuthTypeNone)
			c.Next()
			return
		}

		if token, ok := requestToken(c); ok {
			claims, err := m.service.ParseToken(token)
			if err != nil {
				respond.Abort(c, err)
				return
			}
			setUserContext(c, claims.UserID, claims.Username, AuthTypeBearer)
			c.Next()
			return
		}

		if m.sessionManager != nil {
			if data := m.sessionManager.GetSessionData(c.Request); data != nil {
				setUserContext(c, data.UserID, data.Username, AuthTypeSession)
				c.Next()
				return
			}
		}

		respond.Abort(c, errno.ErrNotLoggedIn)
	}
}

// TokenQueryParam carries the token for clients that cannot set headers,
// such as WebSocket connections.
const TokenQueryParam = "token"

// requestToken extracts the token from "Authorization: Bearer <token>", a
// bare "Authorization: <token>" or the token query parameter.
func requestToken(c *gin.Context) (string, bool) {
	if header := strings.TrimSpace(c.GetHeader("Authorization")); header != "" {
		parts := strings.SplitN(header, " ", 2)
		switch {
		case len(parts) == 1 && !strings.EqualFold(parts[0], "bearer"):
			return parts[0], true
		case strings.EqualFold(parts[0], "bearer"):
			if token := strings.TrimSpace(parts[1]); token != "" {
				return token, true
			}
		}
		return "", false
	}
	if token := c.Query(TokenQueryParam); token != "" {
		return token, true
	}
	return "", false
}

func setUserContext(c *gin.Context, userID uint, username string, authType AuthType) {
	c.Set(ContextKeyUserID, userID)
	c.Set(ContextKeyUsername, username)
	c.Set(ContextKeyAuthType, authType)
}

// GetUserID retrieves the authenticated user's ID, 0 when anonymous.
func GetUserID(c *gin.Context) uint {
	if id, exists := c.Get(ContextKeyUserID); exists {
		if userID, ok := id.(uint); ok {
			return userID
		}
	}
	return 0
}

// GetUsername retrieves the authenticated user's username from the context.
func GetUsername(c *gin.Context) string {
	if name, exists := c.Get(ContextKeyUsername); exists {
		if username, ok := name.(string); ok {
			return username
		}
	}
	return ""
}

// GetAuthType retrieves the authentication method used.
func GetAuthType(c *gin.Context) AuthType {
	if t, exists := c.Get(ContextKeyAuthType); exists {
		if authType, ok := t.(AuthType); ok {
			return authType
		}
	}
	return AuthTypeNone
}

// IsAuthenticated returns true if the request carries a known user.
func IsAuthenticated(c *gin.Context) bool {
	return GetUserID(c) != 0
}
