package docstruct

import (
	"errors"

	"github.com/brunobiangulo/docstruct/parser"
)

// Parser sentinels re-exported so callers of the facade need only this
// package for errors.Is checks.
var (
	ErrIO                = parser.ErrIO
	ErrUnsupportedFormat = parser.ErrUnsupportedFormat
	ErrContainerCorrupt  = parser.ErrContainerCorrupt
)

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("docstruct: document not found")

	// ErrFileTooLarge is returned when a file exceeds Config.MaxFileSize.
	ErrFileTooLarge = errors.New("docstruct: file exceeds size limit")

	// ErrNoDocuments is returned when Ingest is called without paths.
	ErrNoDocuments = errors.New("docstruct: no documents given")

	// ErrStoreDisabled is returned by operations that persist results when
	// the engine runs without a database.
	ErrStoreDisabled = errors.New("docstruct: store is disabled")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("docstruct: invalid configuration")
)
