package server

import "codeberg.org/mutker/vramwatch/internal/errors"

const (
	ErrInvalidRequest = errors.ErrorCode("server_invalid_request")
	ErrInvalidConfig  = errors.ErrInvalidConfig
	ErrServeFailed    = errors.ErrorCode("server_serve_failed")
)
