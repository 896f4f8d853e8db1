package models

import "errors"

var (
	// ErrRepositoryConflict is returned by a repository when the stored version
	// of a learner no longer matches the one that was loaded
	ErrRepositoryConflict = errors.New("repository conflict")
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("not found")
)
