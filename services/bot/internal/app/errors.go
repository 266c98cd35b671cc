package app

import "errors"

var (
	// ErrSessionExpired indicates a pending summary is gone (saved, discarded or timed out).
	ErrSessionExpired = errors.New("session expired")
	ErrUnknownVault   = errors.New("unknown vault")
	ErrInvalidInput   = errors.New("invalid input")
)
