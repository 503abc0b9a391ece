package http

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/storytrim/server/internal/database"
	"github.com/storytrim/server/internal/storage"
)

const healthCheckTimeout = 2 * time.Second

// healthCheckKey is looked up, never written, to prove the store answers.
const healthCheckKey = "health/check"

type HealthResponse struct {
	Status  string            `json:"status"`
	Time    string            `json:"time"`
	Version string            `json:"version,omitempty"`
	Checks  map[string]string `json:"checks"`
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type HealthController struct {
	checks  map[string]HealthCheck
	version string
}

// NewHealthController checks the database and, when given, the object
// store. A nil database is reported as not configured.
func NewHealthController(db *database.Database, store storage.Client, version string) *HealthController {
	h := &HealthController{checks: map[string]HealthCheck{}, version: version}
	if db != nil {
		h.checks["database"] = func(ctx context.Context) error { return db.Ping() }
	}
	if store != nil {
		h.checks["storage"] = func(ctx context.Context) error {
			_, err := store.Exists(ctx, healthCheckKey)
			return err
		}
	}
	return h
}

// WithCheck adds a named check.
func (h *HealthController) WithCheck(name string, check HealthCheck) *HealthController {
	h.checks[name] = check
	return h
}

func (h *HealthController) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	results := map[string]string{}
	healthy := true
	if _, ok := h.checks["database"]; !ok {
		results["database"] = "not configured"
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = "error: " + err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}

	response := HealthResponse{
		Status:  "healthy",
		Time:    time.Now().Format(time.RFC3339),
		Version: h.version,
		Checks:  results,
	}
	code := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, response)
}
