package kgforge

import "errors"

var (
	// ErrNoFiles is returned when a build is submitted with no files.
	ErrNoFiles = errors.New("kgforge: no files to process")

	// ErrTaskNotFound is returned when a task ID does not exist or belongs
	// to another user.
	ErrTaskNotFound = errors.New("kgforge: task not found")

	// ErrGraphNotFound is returned when a knowledge graph ID does not exist
	// or belongs to another user.
	ErrGraphNotFound = errors.New("kgforge: knowledge graph not found")

	// ErrAllFilesSkipped is returned when every submitted file failed to
	// parse or produced no meaningful text.
	ErrAllFilesSkipped = errors.New("kgforge: all files skipped")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("kgforge: invalid configuration")

	// ErrEngineClosed is returned when submitting to a shut-down engine.
	ErrEngineClosed = errors.New("kgforge: engine is closed")
)
