package transfer

import (
	"errors"
	"fmt"
)

// ErrStagedNotFound reports that a staged file vanished before it could be committed.
var ErrStagedNotFound = errors.New("staged file not found")

// NetworkError represents failures talking to the remote repository, including
// non-2xx responses and connection errors.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "fetch_content", "pin_commit")
	URL        string // Remote location being fetched
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s of %s (HTTP %d): %s", e.Operation, e.URL, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("network error during %s of %s: %s", e.Operation, e.URL, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// CommitError represents a failed relocation of a staged file into the install tree.
type CommitError struct {
	Source      string
	Destination string
	Err         error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("failed to commit %s to %s: %v", e.Source, e.Destination, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// RemovalError represents a file of an item that could not be deleted.
type RemovalError struct {
	ItemID string
	Path   string
	Err    error
}

func (e *RemovalError) Error() string {
	return fmt.Sprintf("failed to remove %s of item %s: %v", e.Path, e.ItemID, e.Err)
}

func (e *RemovalError) Unwrap() error {
	return e.Err
}
