package domain

import "errors"

var (
	// ErrAuthFailed is returned when credential acquisition or the validation
	// probe fails after the single allowed refresh attempt
	ErrAuthFailed = errors.New("authentication failed")

	// ErrZeroItems marks an authenticated pass that completed cleanly but
	// yielded no items, treated as silent auth failure rather than an empty catalog
	ErrZeroItems = errors.New("authenticated pass yielded zero items")

	// ErrRetriesExhausted is returned when a fetch exhausts its retry budget
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrStoreResolution is returned when a store tag cannot be resolved to a
	// persisted store
	ErrStoreResolution = errors.New("store resolution failed")

	// ErrRunTerminal is returned when attempting to transition an ingestion
	// run that already reached a terminal state
	ErrRunTerminal = errors.New("ingestion run already terminal")
)
