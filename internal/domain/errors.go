// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists indicates an insert collided with an existing row.
var ErrAlreadyExists = errors.New("already exists")

// ErrAlreadyDecided indicates an approval item already reached a terminal
// state and cannot be decided again.
var ErrAlreadyDecided = errors.New("already decided")

// ErrValidation indicates the request failed input validation.
var ErrValidation = errors.New("validation failed")
