// Package auth handles accounts, login and request authentication.
//
// API clients log in once and send the returned JWT as
// "Authorization: Bearer <token>". A bare "Authorization: <token>" or a
// ?token= query parameter also works, the latter for WebSocket clients.
// Browsers also get an scs session cookie
// on login; cookie-authenticated unsafe requests must carry the gorilla/csrf
// token from GET /api/v1/auth/csrf in the X-CSRF-Token header.
//
// # Configuration
//
//	AUTH_JWT_SECRET=<secret>          # Auto-generated per process if empty
//	AUTH_TOKEN_EXPIRY=24h             # JWT lifetime
//	AUTH_SESSION_LIFETIME=168h        # Browser session lifetime
//	AUTH_BCRYPT_COST=10               # bcrypt cost factor
//	AUTH_SECURE_COOKIES=true          # HTTPS-only cookies
//	AUTH_MAX_LOGIN_ATTEMPTS=5         # Failed logins per ip+username before lockout
//
// # Usage
//
//	svc, err := auth.NewService(userRepo, pointsService, cfg.Auth)
//	mw := auth.NewMiddleware(svc, sessionManager)
//	api.Use(mw.Handler())
//
// Extract the user in handlers:
//
//	userID := auth.GetUserID(c)
package auth
