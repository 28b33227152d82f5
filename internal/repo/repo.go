// Package repo defines the persistence contracts for sessions, contacts,
// SMS logs and quotas, plus their Postgres implementations.
package repo

import "errors"

var (
	// ErrNotFound is returned when the referenced row does not exist.
	ErrNotFound = errors.New("repo: not found")

	// ErrConflict is returned when a compare-and-set update matched no row,
	// meaning the record changed state under the caller.
	ErrConflict = errors.New("repo: state conflict")

	// ErrExtensionLimit is returned when a session already used all of its
	// allowed extensions.
	ErrExtensionLimit = errors.New("repo: extension limit reached")
)
