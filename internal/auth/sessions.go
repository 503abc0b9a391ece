package auth

import (
	"database/sql"
	"encoding/gob"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/spf13/cast"

	"github.com/storytrim/server/internal/config"
	"github.com/storytrim/server/internal/entities"
)

// SessionCookieName is the browser session cookie.
const SessionCookieName = "storytrim_session"

const (
	sessionKeyUserID   = "user_id"
	sessionKeyUsername = "username"
	sessionKeyLoginAt  = "login_at"
)

// sqlite3store expects this table; it ships no migration of its own.
const sessionsSchema = `CREATE TABLE IF NOT EXISTS sessions (
	token TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	expiry REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions(expiry);`

func init() {
	gob.Register(time.Time{})
}

// SessionManager keeps browser logins in the main database. API clients
// use bearer tokens and never need it.
type SessionManager struct {
	*scs.SessionManager
}

// NewSessionManager creates a session manager on sqlDB, the *sql.DB
// underneath GORM.
func NewSessionManager(sqlDB *sql.DB, cfg config.Auth) (*SessionManager, error) {
	if _, err := sqlDB.Exec(sessionsSchema); err != nil {
		return nil, fmt.Errorf("create sessions table: %w", err)
	}

	sm := scs.New()
	sm.Store = sqlite3store.New(sqlDB)
	if cfg.SessionLifetime > 0 {
		sm.Lifetime = cfg.SessionLifetime
		sm.IdleTimeout = cfg.SessionLifetime / 2
	}

	sm.Cookie.Name = SessionCookieName
	sm.Cookie.HttpOnly = true
	sm.Cookie.Secure = cfg.SecureCookies
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Path = "/"

	return &SessionManager{SessionManager: sm}, nil
}

// CreateSession binds the request's session to user. The token is renewed
// first so a pre-login session id cannot be reused.
func (sm *SessionManager) CreateSession(r *http.Request, user *entities.User) error {
	ctx := r.Context()
	if err := sm.RenewToken(ctx); err != nil {
		return err
	}
	sm.Put(ctx, sessionKeyUserID, user.ID)
	sm.Put(ctx, sessionKeyUsername, user.Username)
	sm.Put(ctx, sessionKeyLoginAt, time.Now())
	return nil
}

// DestroySession logs the browser out.
func (sm *SessionManager) DestroySession(r *http.Request) error {
	return sm.Destroy(r.Context())
}

// SessionData is the login stored in a session.
type SessionData struct {
	UserID   uint
	Username string
	LoginAt  time.Time
}

// GetSessionData returns the session's login, or nil when anonymous.
func (sm *SessionManager) GetSessionData(r *http.Request) *SessionData {
	ctx := r.Context()
	userID := cast.ToUint(sm.Get(ctx, sessionKeyUserID))
	if userID == 0 {
		return nil
	}

	loginAt, _ := sm.Get(ctx, sessionKeyLoginAt).(time.Time)
	return &SessionData{
		UserID:   userID,
		Username: sm.GetString(ctx, sessionKeyUsername),
		LoginAt:  loginAt,
	}
}
