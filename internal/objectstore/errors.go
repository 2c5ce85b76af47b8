package objectstore

import "errors"

// Object store error types.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrRefNotFound    = errors.New("ref not found")
	ErrBadArchive     = errors.New("malformed object archive")
)
