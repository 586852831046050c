package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	Invalid      Kind = "invalid"
	NotFound     Kind = "not_found"
	Unauthorized Kind = "unauthorized"
	Forbidden    Kind = "forbidden"
	Conflict     Kind = "conflict"
	Integrity    Kind = "integrity" // amount/currency mismatch: rejected, never corrected
	Upstream     Kind = "upstream"  // provider unreachable / bad response: caller may retry
	Config       Kind = "config"    // provider never wired up, distinct from runtime failure
	Internal     Kind = "internal"
)

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s(%s): %v", e.Kind, e.Code, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s(%s)", e.Kind, e.Code)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) WithField(field string) *AppError {
	e.Field = field
	return e
}

func (e *AppError) WithMeta(key string, val any) *AppError {
	if e.Meta == nil {
		e.Meta = map[string]any{}
	}
	e.Meta[key] = val
	return e
}

// Constructors (code is wire-visible; detail short and safe)
func InvalidErr(code, detail string) *AppError {
	return &AppError{Kind: Invalid, Code: code, Detail: detail}
}
func InvalidFieldsErr(code string, fields map[string]string) *AppError {
	return &AppError{Kind: Invalid, Code: code, Fields: fields}
}
func NotFoundErr(code string) *AppError {
	return &AppError{Kind: NotFound, Code: code}
}
func ForbiddenErr(code, detail string) *AppError {
	return &AppError{Kind: Forbidden, Code: code, Detail: detail}
}
func ConflictErr(code, detail string) *AppError {
	return &AppError{Kind: Conflict, Code: code, Detail: detail}
}
func IntegrityErr(code, detail string) *AppError {
	return &AppError{Kind: Integrity, Code: code, Detail: detail}
}
func UpstreamErr(code string, err error) *AppError {
	return &AppError{Kind: Upstream, Code: code, Err: err}
}
func ConfigErr(code, detail string) *AppError {
	return &AppError{Kind: Config, Code: code, Detail: detail}
}

// Wrap: internal error without a public code (default 500)
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	return &AppError{Kind: Internal, Code: "internal_error", Err: err}
}

func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

func HTTPStatus(err error) int {
	if ae, ok := As(err); ok {
		switch ae.Kind {
		case Invalid, Integrity:
			return http.StatusBadRequest
		case Unauthorized:
			return http.StatusUnauthorized
		case Forbidden:
			return http.StatusForbidden
		case NotFound:
			return http.StatusNotFound
		case Conflict:
			return http.StatusConflict
		case Upstream:
			return http.StatusBadGateway
		case Config:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

func Code(err error) string {
	if ae, ok := As(err); ok && ae.Code != "" {
		return ae.Code
	}
	return "internal_error"
}
