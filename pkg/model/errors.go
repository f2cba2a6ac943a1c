package model

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when an item does not exist in the remote store
	ErrNotFound = errors.New("item not found")
	// ErrInvalidFilter is returned when a filter key is not one of ALL, TOP_HIT, TOP_MISS or TEAM_<code>
	ErrInvalidFilter = errors.New("invalid filter key")
	// ErrInvalidItem is returned when an item violates the content invariants
	ErrInvalidItem = errors.New("invalid item")
	// ErrClosed is returned when operating on a closed store or repository
	ErrClosed = errors.New("closed")
	// ErrCanceled is returned when the operation is canceled by the caller
	ErrCanceled = errors.New("operation canceled")
)

// WrapError normalizes backend errors to model errors.
// It converts context.Canceled and context.DeadlineExceeded to ErrCanceled.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsCanceled(err) {
		return ErrCanceled
	}
	return err
}

// IsCanceled returns true if the error is due to context cancellation or deadline exceeded.
// It checks both direct context errors and wrapped errors (e.g., from the MongoDB or Redis driver).
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, ErrCanceled) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "context canceled") || strings.Contains(errStr, "context deadline exceeded")
}
