package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestParseIDParam_Valid(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "id", Value: "123"}}

	id, ok := parseIDParam(c, "id")

	assert.True(t, ok)
	assert.Equal(t, uint(123), id)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestParseIDParam_Invalid(t *testing.T) {
	for _, raw := range []string{"abc", "-1", "0", ""} {
		t.Run(raw, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Params = gin.Params{{Key: "id", Value: raw}}

			id, ok := parseIDParam(c, "id")

			assert.False(t, ok)
			assert.Equal(t, uint(0), id)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), `"msg":"invalid id"`)
		})
	}
}

func TestParseQueryID_Valid(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/?book_id=456", nil)

	id, ok := parseQueryID(c, "book_id")

	assert.True(t, ok)
	assert.Equal(t, uint(456), id)
}

func TestParseQueryID_Missing(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/", nil)

	id, ok := parseQueryID(c, "book_id")

	assert.False(t, ok)
	assert.Equal(t, uint(0), id)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "book_id is required")
}

func TestQueryInt(t *testing.T) {
	tests := []struct {
		query    string
		expected int
	}{
		{"/?page=3", 3},
		{"/", 1},
		{"/?page=abc", 1},
		{"/?page=-2", -2},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", tt.query, nil)

			assert.Equal(t, tt.expected, queryInt(c, "page", 1))
		})
	}
}

func TestParseIDList(t *testing.T) {
	ids, ok := parseIDList([]any{float64(1), "2", 3})
	assert.True(t, ok)
	assert.Equal(t, []uint{1, 2, 3}, ids)

	_, ok = parseIDList([]any{"x"})
	assert.False(t, ok)

	_, ok = parseIDList([]any{float64(0)})
	assert.False(t, ok)

	ids, ok = parseIDList(nil)
	assert.True(t, ok)
	assert.Empty(t, ids)
}
