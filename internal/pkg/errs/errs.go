package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind 稳定的错误类别，直接暴露给调用方
type Kind string

const (
	KindValidation         Kind = "validation"
	KindDuplicateIdentity  Kind = "duplicate_identity"
	KindInvalidCredentials Kind = "invalid_credentials"
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindTransient          Kind = "transient"
	KindInconsistency      Kind = "inconsistency"
	KindInternal           Kind = "internal"
)

// Error 带类别的业务错误；Err 只用于内部日志，不返回给客户端
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is 按类别匹配，errors.Is(err, errs.ErrForbidden) 即可判断
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// 哨兵值，仅用于 errors.Is 比较
var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrDuplicateIdentity  = &Error{Kind: KindDuplicateIdentity}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrForbidden          = &Error{Kind: KindForbidden}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrTransient          = &Error{Kind: KindTransient}
	ErrInconsistency      = &Error{Kind: KindInconsistency}
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(msg string) *Error { return New(KindValidation, msg) }

func Forbidden(msg string) *Error { return New(KindForbidden, msg) }

func NotFound(msg string) *Error { return New(KindNotFound, msg) }

func Unauthorized(msg string) *Error { return New(KindUnauthorized, msg) }

// Transient 存储/网络故障，调用方可重试
func Transient(msg string, err error) *Error { return Wrap(KindTransient, msg, err) }

// KindOf 取出错误类别；未分类的错误视为 internal，超时/取消视为 transient
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindInternal
}

// Message 返回可以安全展示给用户的信息
// transient/internal 的 Msg 是内部操作名，不对外
func Message(err error) string {
	switch KindOf(err) {
	case KindTransient:
		return "service temporarily unavailable"
	case KindInternal:
		return "internal error"
	}
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}

// HTTPStatus 错误类别对应的 HTTP 状态码
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindDuplicateIdentity:
		return http.StatusConflict
	case KindInvalidCredentials, KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
