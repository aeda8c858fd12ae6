package services

import (
	"errors"
	"fmt"
)

var (
	// ErrPersistence indicates the record store or blob store rejected a write
	ErrPersistence = errors.New("persistence failure")
	// ErrRunInProgress indicates an ingestion run is already executing
	ErrRunInProgress = errors.New("an ingestion run is already in progress")
	// ErrRunAlreadyFinished indicates Finish was called on a finalized run
	ErrRunAlreadyFinished = errors.New("job run already finished")
	// ErrInvalidRunStatus indicates a run was finished with a non-terminal status
	ErrInvalidRunStatus = errors.New("invalid job run status")
	// ErrEmailNotFound indicates the email was not found
	ErrEmailNotFound = errors.New("email not found")
	// ErrAttachmentNotFound indicates attachment was not found
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrFilterNotFound indicates the filter rule was not found
	ErrFilterNotFound = errors.New("filter not found")
	// ErrDuplicateFilterName indicates a filter with the same name exists
	ErrDuplicateFilterName = errors.New("filter name already exists")
	// ErrInvalidFilter indicates a filter request without a name
	ErrInvalidFilter = errors.New("invalid filter")
)

// PersistenceError reports a failed write of one message or attachment.
type PersistenceError struct {
	Filename string
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.Filename == "" {
		return fmt.Sprintf("%v: %v", ErrPersistence, e.Err)
	}
	return fmt.Sprintf("%v: %s: %v", ErrPersistence, e.Filename, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }
