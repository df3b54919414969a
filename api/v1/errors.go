package v1

import "errors"

var (
	ErrBodyCtx      = errors.New("request body missing in context")
	ErrContentType  = errors.New("Content-Type must be application/json")
	ErrDesiredState = errors.New("desiredState must be one of: paused, active")
	ErrBadID        = errors.New("invalid id")
)
