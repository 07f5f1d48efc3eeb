package rag

import "errors"

// Pipeline errors. Callers match them with errors.Is; the wrapped message
// carries the detail.
var (
	// ErrInvalidInput marks a request that must be fixed by the caller.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmptyContent indicates an unreadable or image-only document.
	ErrEmptyContent = errors.New("document contains no extractable text")

	// ErrExtractionFailed indicates text could not be recovered even in degraded mode.
	ErrExtractionFailed = errors.New("text extraction failed")

	// ErrStorageFailure indicates a vector store write or query failed.
	// Writes that already happened are not rolled back.
	ErrStorageFailure = errors.New("vector store failure")

	// ErrGenerationFailure indicates the answer model could not be reached.
	// It is turned into answer text and never returned by Assembler.Answer.
	ErrGenerationFailure = errors.New("answer generation failed")
)
