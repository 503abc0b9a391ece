package errno

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	wrapped := ErrBookNotFound.Wrap(errors.New("record not found"))

	assert.True(t, errors.Is(wrapped, ErrBookNotFound))
	assert.False(t, errors.Is(wrapped, ErrChapterNotFound))
	assert.Contains(t, wrapped.Error(), "record not found")
}

func TestError_WithMsgKeepsCode(t *testing.T) {
	e := ErrParam.WithMsg("ids 最多 10 个")

	assert.Equal(t, CodeParam, e.Code)
	assert.Equal(t, "ids 最多 10 个", e.Msg)
	assert.True(t, errors.Is(e, ErrParam))
}

func TestFrom(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, From(nil))
	})

	t.Run("coded error survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("sync: %w", ErrBookExist)
		e := From(err)
		assert.Equal(t, CodeBookExist, e.Code)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		e := From(errors.New("disk full"))
		assert.Equal(t, CodeInternal, e.Code)
		assert.Equal(t, http.StatusInternalServerError, e.Status)
		assert.ErrorContains(t, e, "disk full")
	})
}
