package store

import "errors"

var (
	// ErrStoreBusy is returned by WithTx when all bounded retry attempts
	// were exhausted against a contended transaction.
	ErrStoreBusy = errors.New("store busy")

	// ErrNotFound is returned when a lookup by id finds no row.
	ErrNotFound = errors.New("not found")
)
