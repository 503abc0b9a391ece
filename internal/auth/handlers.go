package auth

import (
	"errors"
	"math"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/storytrim/server/internal/config"
	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/http/respond"
	"github.com/storytrim/server/internal/logging"
)

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

func toUserResponse(u *entities.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username}
}

// LoginResponse carries the bearer token for API clients.
type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// AuthController handles the /auth endpoints.
type AuthController struct {
	service        *Service
	sessionManager *SessionManager
	limiter        *LoginLimiter
}

// NewAuthController creates the controller and its login limiter.
func NewAuthController(service *Service, sessionManager *SessionManager, cfg config.Auth) *AuthController {
	return &AuthController{
		service:        service,
		sessionManager: sessionManager,
		limiter: NewLoginLimiter(LoginLimitConfig{
			MaxAttempts:     cfg.MaxLoginAttempts,
			WindowDuration:  cfg.RateLimitWindow,
			LockoutDuration: cfg.LockoutDuration,
		}),
	}
}

// RegisterRoutes registers authentication routes on group.
func (ac *AuthController) RegisterRoutes(group *gin.RouterGroup) {
	group.POST("/register", ac.Register)
	group.POST("/login", ac.Login)
	group.POST("/logout", ac.Logout)
	group.GET("/me", ac.Me)
	group.GET("/csrf", ac.CSRFToken)
}

// Stop cleans up the login limiter's background goroutine.
func (ac *AuthController) Stop() {
	ac.limiter.Stop()
}

func (ac *AuthController) Register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "")
		return
	}

	user, err := ac.service.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, toUserResponse(user))
}

// Login issues a token and also starts a browser session.
func (ac *AuthController) Login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.BadRequest(c, "")
		return
	}
	clientIP := c.ClientIP()

	if allowed, retryAfter := ac.limiter.Allow(clientIP, req.Username); !allowed {
		c.Header("Retry-After", cast.ToString(int(math.Ceil(retryAfter.Seconds()))))
		respond.Fail(c, errno.ErrTooManyAttempts)
		return
	}

	token, user, err := ac.service.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, errno.ErrUserNotFound) || errors.Is(err, errno.ErrWrongPassword) {
			if locked, _ := ac.limiter.RecordFailure(clientIP, req.Username); locked {
				logging.With("auth").Warn().Str("ip", clientIP).Str("username", req.Username).Msg("Login locked out")
			}
		}
		respond.Fail(c, err)
		return
	}
	ac.limiter.RecordSuccess(clientIP, req.Username)

	if ac.sessionManager != nil {
		if err := ac.sessionManager.CreateSession(c.Request, user); err != nil {
			respond.Fail(c, errno.ErrInternal.Wrap(err))
			return
		}
	}

	respond.OK(c, LoginResponse{Token: token, User: toUserResponse(user)})
}

// Logout ends the browser session. Bearer tokens stay valid until expiry.
func (ac *AuthController) Logout(c *gin.Context) {
	if ac.sessionManager != nil {
		if err := ac.sessionManager.DestroySession(c.Request); err != nil {
			respond.Fail(c, errno.ErrInternal.Wrap(err))
			return
		}
	}
	respond.OK(c, nil)
}

func (ac *AuthController) Me(c *gin.Context) {
	user, err := ac.service.GetUserByID(GetUserID(c))
	if err != nil {
		respond.Fail(c, err)
		return
	}
	respond.OK(c, gin.H{
		"user":      toUserResponse(user),
		"auth_type": GetAuthType(c),
	})
}

// CSRFToken hands browsers the token to echo in the X-CSRF-Token header.
func (ac *AuthController) CSRFToken(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	c.Header(CSRFTokenHeader, GetCSRFToken(c))
	respond.OK(c, gin.H{"csrf_token": GetCSRFToken(c)})
}
