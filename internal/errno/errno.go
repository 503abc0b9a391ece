// Package errno defines the business error codes returned in API envelopes.
//
// Services return *Error values; the HTTP layer turns them into
// {code, msg, data} responses with the associated status.
package errno

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeSuccess  = 0
	CodeParam    = 400
	CodeInternal = 500

	CodeUserNotFound    = 1001
	CodeWrongPassword   = 1002
	CodeInvalidToken    = 1003
	CodeTokenExpired    = 1004
	CodeNotLoggedIn     = 1005
	CodeUserExists      = 1006
	CodeTooManyAttempts = 1007

	CodeBookNotFound = 2001
	CodeBookExist    = 2002
	CodeBookInvalid  = 2003

	CodeChapterNotFound = 3001

	CodeTrimNotFound   = 4001
	CodeTrimInvalid    = 4002
	CodeTrimGenerating = 4003
	CodeTrimDuplicate  = 4004

	CodeTaskNotFound = 5001
	CodeTaskRunning  = 5002
	CodeTaskFailed   = 5003

	CodePointsNotEnough = 6001
)

// Error is a coded business error.
type Error struct {
	Code   int
	Msg    string
	Status int
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches on code so wrapped copies compare equal to the sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Code: e.Code, Msg: e.Msg, Status: e.Status, cause: cause}
}

// WithMsg returns a copy of e with a more specific message.
func (e *Error) WithMsg(msg string) *Error {
	return &Error{Code: e.Code, Msg: msg, Status: e.Status, cause: e.cause}
}

func newError(code int, msg string, status int) *Error {
	return &Error{Code: code, Msg: msg, Status: status}
}

var (
	ErrParam    = newError(CodeParam, "参数错误", http.StatusBadRequest)
	ErrInternal = newError(CodeInternal, "服务器内部错误", http.StatusInternalServerError)

	ErrUserNotFound    = newError(CodeUserNotFound, "用户不存在", http.StatusOK)
	ErrWrongPassword   = newError(CodeWrongPassword, "密码错误", http.StatusOK)
	ErrInvalidToken    = newError(CodeInvalidToken, "无效的 Token", http.StatusUnauthorized)
	ErrTokenExpired    = newError(CodeTokenExpired, "Token 已过期", http.StatusUnauthorized)
	ErrNotLoggedIn     = newError(CodeNotLoggedIn, "未登录", http.StatusUnauthorized)
	ErrUserExists      = newError(CodeUserExists, "用户已存在", http.StatusOK)
	ErrTooManyAttempts = newError(CodeTooManyAttempts, "尝试次数过多，请稍后再试", http.StatusTooManyRequests)

	ErrBookNotFound = newError(CodeBookNotFound, "书籍不存在", http.StatusOK)
	ErrBookExist    = newError(CodeBookExist, "书籍已存在", http.StatusOK)
	ErrBookInvalid  = newError(CodeBookInvalid, "无效的书籍", http.StatusOK)

	ErrChapterNotFound = newError(CodeChapterNotFound, "章节不存在", http.StatusOK)

	ErrTrimNotFound   = newError(CodeTrimNotFound, "精简结果不存在", http.StatusOK)
	ErrTrimInvalid    = newError(CodeTrimInvalid, "无效的精简参数", http.StatusOK)
	ErrTrimGenerating = newError(CodeTrimGenerating, "精简进行中", http.StatusOK)
	ErrTrimDuplicate  = newError(CodeTrimDuplicate, "章节已精简或正在精简", http.StatusOK)

	ErrTaskNotFound = newError(CodeTaskNotFound, "任务不存在", http.StatusOK)
	ErrTaskRunning  = newError(CodeTaskRunning, "任务进行中", http.StatusOK)
	ErrTaskFailed   = newError(CodeTaskFailed, "任务失败", http.StatusOK)

	ErrPointsNotEnough = newError(CodePointsNotEnough, "积分不足", http.StatusOK)
)

// From extracts a coded error, falling back to ErrInternal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.Wrap(err)
}
