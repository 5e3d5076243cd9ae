package domain

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrIllegalTransition is returned when an order status change skips or reverses the lifecycle.
	ErrIllegalTransition = errors.New("illegal order status transition")
)
