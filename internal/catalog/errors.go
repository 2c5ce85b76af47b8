package catalog

import "errors"

// Catalog error types.
var (
	ErrNodeNotFound    = errors.New("node not found")
	ErrRepoNotFound    = errors.New("repository not found")
	ErrReplicaNotFound = errors.New("replica not found")
)
