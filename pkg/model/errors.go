package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrInvalidProfileField = goerr.New("invalid profile field")
	ErrProfileRequired     = goerr.New("profile required")
	ErrProfileNotFound     = goerr.New("profile not found")
	ErrInvalidQuery        = goerr.New("invalid query")
	ErrNoMatchFound        = goerr.New("no match found")
	ErrTimeout             = goerr.New("timeout")
	ErrRoutingFailure      = goerr.New("routing failure")
	ErrModelUnavailable    = goerr.New("model unavailable")
)

// errorCodes keeps the lookup order stable; a wrapped error may match more than one sentinel.
var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidProfileField, "InvalidProfileField"},
	{ErrProfileRequired, "ProfileRequired"},
	{ErrProfileNotFound, "ProfileNotFound"},
	{ErrInvalidQuery, "InvalidQuery"},
	{ErrNoMatchFound, "NoMatchFound"},
	{ErrTimeout, "Timeout"},
	{ErrRoutingFailure, "RoutingFailure"},
	{ErrModelUnavailable, "ModelUnavailable"},
}

// ErrorCode returns the taxonomy name of err, or "Internal" when err is not one of the known errors.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return ec.code
		}
	}
	return "Internal"
}

// IsSoftFailure reports whether err is a recoverable tool-level failure that should be folded into
// synthesis instead of aborting the turn.
func IsSoftFailure(err error) bool {
	return errors.Is(err, ErrNoMatchFound) ||
		errors.Is(err, ErrProfileRequired) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrTimeout)
}
