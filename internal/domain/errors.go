package domain

import "errors"

// Trading and settlement failures. Callers match them with errors.Is.
var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidOutcome          = errors.New("invalid outcome")
	ErrMarketNotOpen           = errors.New("market not open")
	ErrMarketNotClosed         = errors.New("market not closed")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrAlreadySettled          = errors.New("market already settled")
	ErrNumericalNonConvergence = errors.New("numerical non-convergence")
	ErrTiedScore               = errors.New("tied score")
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidMarket     = errors.New("invalid market parameters")
	ErrInvalidScore      = errors.New("invalid score")
	ErrInvalidUser       = errors.New("invalid user")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
)
