package models

import "errors"

// Error taxonomy shared by all engines. Operations wrap these with
// fmt.Errorf("%w: ...") and callers classify with errors.Is; nothing is
// retried automatically by the core.
var (
	// ErrValidation covers empty or oversized text and unsupported media.
	ErrValidation = errors.New("validation failed")
	// ErrPermission is returned when mutating another account's content.
	ErrPermission = errors.New("permission denied")
	// ErrConflict is returned when a follow relationship already exists.
	ErrConflict = errors.New("already exists")
	// ErrNotFound is returned when a relationship or target record is absent.
	ErrNotFound = errors.New("not found")
	// ErrSelfFollow is returned when follower and target are the same account.
	ErrSelfFollow = errors.New("cannot follow yourself")
	// ErrTransient signals that the store or broker became unreachable; the
	// caller decides whether to retry or re-subscribe.
	ErrTransient = errors.New("backend unavailable")
)
