package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidOrder  = errors.New("invalid order parameters")
	ErrActiveOrder   = errors.New("position has an active order")
	ErrArbHalted     = errors.New("arbitrage halted pending manual review")
	ErrLockHeld      = errors.New("lock already held")
)
