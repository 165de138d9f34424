package epub

import "errors"

// Sentinel errors returned by the epub package.
var (
	// ErrInvalidArchive indicates the file is not a readable ZIP archive.
	ErrInvalidArchive = errors.New("epub: invalid archive")

	// ErrMissingContainer indicates META-INF/container.xml is absent.
	ErrMissingContainer = errors.New("epub: missing META-INF/container.xml")

	// ErrMissingOPF indicates the package document could not be located
	// or read from the container's rootfile reference.
	ErrMissingOPF = errors.New("epub: missing package document")

	// ErrEmptySpine indicates the spine references no readable content
	// documents.
	ErrEmptySpine = errors.New("epub: empty spine")

	// ErrFileNotFound indicates a requested archive entry does not exist.
	ErrFileNotFound = errors.New("epub: file not found in archive")
)
