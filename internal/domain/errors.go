package domain

import (
	"errors"
	"strings"
)

// Error kinds. Their text doubles as the wire code sent in acks.
var (
	ErrAuth        = errors.New("auth_error")
	ErrValidation  = errors.New("validation_error")
	ErrRateLimited = errors.New("rate_limited")
	ErrNotFound    = errors.New("not_found")
	ErrInternal    = errors.New("internal_error")
)

var errorKinds = []error{ErrAuth, ErrValidation, ErrRateLimited, ErrNotFound, ErrInternal}

// ErrorCode maps err to its wire code. Unclassified errors are internal.
func ErrorCode(err error) string {
	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return ErrInternal.Error()
}

// ErrorDetail strips the kind prefix from a wrapped error for display.
func ErrorDetail(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	code := ErrorCode(err)
	msg = strings.TrimPrefix(msg, code)
	msg = strings.TrimPrefix(msg, ": ")
	if msg == "" {
		return code
	}
	return msg
}
