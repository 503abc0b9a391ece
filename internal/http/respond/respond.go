// Package respond writes the {code, msg, data} envelope every API response
// uses.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/storytrim/server/internal/errno"
	"github.com/storytrim/server/internal/logging"
)

// Response is the API envelope. Code 0 means success.
type Response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

// OK sends data with code 0.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: errno.CodeSuccess, Msg: "success", Data: data})
}

// Fail sends err as a coded error. Uncoded errors become ErrInternal and
// are logged; their text is not exposed.
func Fail(c *gin.Context, err error) {
	e := errno.From(err)
	if e.Code == errno.CodeInternal {
		logging.With("http").Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("Internal error")
	}
	c.JSON(e.Status, Response{Code: e.Code, Msg: e.Msg})
}

// Abort is Fail for middleware: it also stops the handler chain.
func Abort(c *gin.Context, err error) {
	Fail(c, err)
	c.Abort()
}

// BadRequest sends ErrParam, with msg when given.
func BadRequest(c *gin.Context, msg string) {
	if msg == "" {
		Fail(c, errno.ErrParam)
		return
	}
	Fail(c, errno.ErrParam.WithMsg(msg))
}
