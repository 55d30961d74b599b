// Package core defines sentinel errors and shared frame types.
package core

import "errors"

// Sentinel errors. Callers match with errors.Is.
var (
	// Pipeline errors
	ErrSourceNotFound = errors.New("capkit: source not found")
	ErrIllegalState   = errors.New("capkit: call not permitted in current state")

	// Output errors
	ErrUnsupportedFormat = errors.New("capkit: unsupported output format")

	// Reassembly errors
	ErrMalformedFragment = errors.New("capkit: malformed fragment")
	ErrCapacityExceeded  = errors.New("capkit: flow buffer capacity exceeded")

	// Decode errors. The pipeline treats a record decode failure the same
	// way it treats end-of-input.
	ErrDecodeFailure = errors.New("capkit: record decode failure")
)
