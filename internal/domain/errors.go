package domain

import "errors"

// Expected business outcomes. The API layer distinguishes these with
// errors.Is; anything else is treated as an internal failure.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidRequest    = errors.New("invalid request")
)
