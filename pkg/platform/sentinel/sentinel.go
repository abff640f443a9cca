// Package sentinel holds the infrastructure errors stores and feeds return.
// Services match them with errors.Is and translate them into coded domain
// errors; handlers never see them.
package sentinel

import "errors"

var (
	// ErrNotFound: no row for the key, or the row belongs to another organization.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a uniqueness constraint rejected the write.
	ErrConflict = errors.New("conflict")
	// ErrClosed: the publisher, notifier or subscription has been shut down.
	ErrClosed = errors.New("closed")
)
