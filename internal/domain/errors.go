// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates invalid input.
var ErrValidation = errors.New("validation failed")

// ErrDuplicate indicates a uniqueness constraint rejected the write.
var ErrDuplicate = errors.New("duplicate")

// ErrInvalidTransition indicates a lifecycle transition outside the allowed graph.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrBusy indicates the target is already locked by another workflow.
var ErrBusy = errors.New("busy")
