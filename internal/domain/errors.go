package domain

import "errors"

// Failure classes of an ingestion run. Callers wrap these with context and
// test with errors.Is.
var (
	// ErrAuth means no usable credential could be obtained. Fatal for the run.
	ErrAuth = errors.New("authentication failed")

	// ErrFetch is a network, HTTP or decoding failure talking to the mailbox API.
	ErrFetch = errors.New("fetch failed")

	// ErrMalformedAttachment is a structural problem with an attachment's table.
	ErrMalformedAttachment = errors.New("malformed attachment")

	// ErrFieldCoercion is a single field that could not be parsed. Never fatal.
	ErrFieldCoercion = errors.New("field coercion failed")

	// ErrInvalidKey is a row without a usable natural key.
	ErrInvalidKey = errors.New("invalid natural key")

	// ErrPersistence is a store read or write failure.
	ErrPersistence = errors.New("persistence failed")

	// ErrFilesystem is a failure writing an attachment or the ledger.
	ErrFilesystem = errors.New("filesystem error")
)
