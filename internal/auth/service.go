package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/storytrim/server/internal/config"
	"github.com/storytrim/server/internal/entities"
	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/logging"
)

// Usernames are 3-64 characters of letters, digits, underscore, hyphen or
// Chinese characters.
var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-\p{Han}]{3,64}$`)

const defaultTokenExpiry = 24 * time.Hour

// UserStore is the user persistence the service needs.
type UserStore interface {
	CreateUser(username, passwordHash string) (*entities.User, error)
	GetUserByID(id uint) (*entities.User, error)
	GetUserByUsername(username string) (*entities.User, error)
	UsernameExists(username string) (bool, error)
	DeleteUser(id uint) error
}

// BonusGranter credits a new account.
type BonusGranter interface {
	GrantRegisterBonus(userID uint) error
}

// Claims are the JWT claims issued on login.
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service handles registration, login and token validation.
type Service struct {
	users  UserStore
	bonus  BonusGranter
	config config.Auth
	secret []byte
}

// NewService creates a new authentication service. JWTSecret must be set.
func NewService(users UserStore, bonus BonusGranter, cfg config.Auth) (*Service, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.TokenExpiry <= 0 {
		cfg.TokenExpiry = defaultTokenExpiry
	}
	return &Service{
		users:  users,
		bonus:  bonus,
		config: cfg,
		secret: []byte(cfg.JWTSecret),
	}, nil
}

// ValidateUsername checks the username format.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return errno.ErrParam.WithMsg("用户名需为 3-64 位字母、数字、下划线、连字符或中文")
	}
	return nil
}

// Register creates an account and grants the register bonus. When the
// bonus cannot be granted the account is removed again.
func (s *Service) Register(ctx context.Context, username, password string) (*entities.User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, errno.ErrParam.WithMsg("密码长度需为 6-72 字节")
	}

	exists, err := s.users.UsernameExists(username)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(err)
	}
	if exists {
		return nil, errno.ErrUserExists
	}

	hash, err := HashPassword(password, s.config.BcryptCost)
	if err != nil {
		return nil, errno.ErrInternal.Wrap(fmt.Errorf("hash password: %w", err))
	}

	user, err := s.users.CreateUser(username, hash)
	if err != nil {
		// A concurrent registration can take the name after the check above.
		if taken, _ := s.users.UsernameExists(username); taken {
			return nil, errno.ErrUserExists
		}
		return nil, errno.ErrInternal.Wrap(fmt.Errorf("create user: %w", err))
	}

	if s.bonus != nil {
		if err := s.bonus.GrantRegisterBonus(user.ID); err != nil {
			if derr := s.users.DeleteUser(user.ID); derr != nil {
				logging.With("auth").Error().Err(derr).Uint("user_id", user.ID).Msg("Failed to roll back user")
			}
			return nil, errno.From(err)
		}
	}

	logging.With("auth").Info().Uint("user_id", user.ID).Str("username", username).Msg("User registered")
	return user, nil
}

// Authenticate checks credentials without issuing a token.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*entities.User, error) {
	user, err := s.users.GetUserByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrUserNotFound
		}
		return nil, errno.ErrInternal.Wrap(err)
	}
	if err := CheckPassword(password, user.PasswordHash); err != nil {
		if errors.Is(err, ErrInvalidPassword) {
			return nil, errno.ErrWrongPassword
		}
		return nil, errno.ErrInternal.Wrap(err)
	}
	return user, nil
}

// Login authenticates the user and issues a signed token.
func (s *Service) Login(ctx context.Context, username, password string) (string, *entities.User, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return "", nil, err
	}
	token, err := s.GenerateToken(user)
	if err != nil {
		return "", nil, errno.ErrInternal.Wrap(err)
	}
	return token, user, nil
}

// GenerateToken issues an HS256 token for user that expires after the
// configured TokenExpiry.
func (s *Service) GenerateToken(user *entities.User) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.TokenExpiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken verifies a token and returns its claims.
func (s *Service) ParseToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errno.ErrInvalidToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errno.ErrTokenExpired
		}
		return nil, errno.ErrInvalidToken
	}
	if claims.UserID == 0 {
		return nil, errno.ErrInvalidToken
	}
	return claims, nil
}

// ValidateToken returns the user id a token was issued for.
func (s *Service) ValidateToken(tokenString string) (uint, error) {
	claims, err := s.ParseToken(tokenString)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

// GetUserByID retrieves a user by their ID.
func (s *Service) GetUserByID(id uint) (*entities.User, error) {
	user, err := s.users.GetUserByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrUserNotFound
		}
		return nil, errno.ErrInternal.Wrap(err)
	}
	return user, nil
}
