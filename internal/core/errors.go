package core

import "errors"

// Sentinel errors shared by every layer. Callers match with errors.Is; the
// wrapping message carries the detail.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrMalformedSnapshot = errors.New("malformed snapshot")
	ErrStorage           = errors.New("storage failure")
)
