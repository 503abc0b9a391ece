package http

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/storytrim/server/internal/auth"
	"github.com/storytrim/server/internal/http/respond"
)

// GetUserID extracts the authenticated user's ID from the Gin context.
func GetUserID(c *gin.Context) uint {
	return auth.GetUserID(c)
}

// --- Parameter Parsing ---

// parseID converts a raw id to a positive integer.
func parseID(raw string) (uint, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	id, err := cast.ToUintE(raw)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// parseIDParam extracts and validates an unsigned integer ID from URL parameters.
// Returns the parsed ID or responds with a 400 error and returns 0, false.
func parseIDParam(c *gin.Context, paramName string) (uint, bool) {
	id, ok := parseID(c.Param(paramName))
	if !ok {
		respond.BadRequest(c, "invalid "+paramName)
		return 0, false
	}
	return id, true
}

// parseQueryID extracts and validates an unsigned integer ID from query parameters.
// Returns the parsed ID or responds with a 400 error and returns 0, false.
func parseQueryID(c *gin.Context, paramName string) (uint, bool) {
	raw := c.Query(paramName)
	if raw == "" {
		respond.BadRequest(c, paramName+" is required")
		return 0, false
	}
	id, ok := parseID(raw)
	if !ok {
		respond.BadRequest(c, "invalid "+paramName)
		return 0, false
	}
	return id, true
}

// queryInt reads an integer query parameter, returning def when it is
// missing or malformed.
func queryInt(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := cast.ToIntE(raw)
	if err != nil {
		return def
	}
	return v
}

// bindJSON decodes the request body into req, answering with a param
// error when it does not fit.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		respond.BadRequest(c, "")
		return false
	}
	return true
}

// parseIDList converts a JSON id list whose items may be numbers or
// numeric strings.
func parseIDList(raw []any) ([]uint, bool) {
	ids := make([]uint, 0, len(raw))
	for _, item := range raw {
		id, err := cast.ToUintE(item)
		if err != nil || id == 0 {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
