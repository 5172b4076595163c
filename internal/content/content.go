package content

import (
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
)

// Reference identifies one pending transfer: where the bytes come from and
// where they end up in the install tree.
type Reference struct {
	ID          string
	ItemID      string
	File        string
	Source      string
	Destination string
	Hash        string

	cancel *atomic.Bool
}

// NewReference returns a reference with a fresh identity token.
func NewReference(destination, source string) Reference {
	return Reference{
		ID:          uuid.NewString(),
		Source:      source,
		Destination: destination,
		cancel:      new(atomic.Bool),
	}
}

// StagingName is the file name used for this reference inside the staging area.
func (r Reference) StagingName() string {
	return r.ID + "-" + filepath.Base(r.Destination)
}

// Cancel asks an in-flight transfer of this reference to stop at the next chunk boundary.
// Copies of the reference share the flag.
func (r Reference) Cancel() {
	if r.cancel != nil {
		r.cancel.Store(true)
	}
}

func (r Reference) Canceled() bool {
	return r.cancel != nil && r.cancel.Load()
}

// ResetCancel clears a pending cancel request.
func (r Reference) ResetCancel() {
	if r.cancel != nil {
		r.cancel.Store(false)
	}
}

// SameAs reports whether both values describe the same queued transfer.
func (r Reference) SameAs(other Reference) bool {
	return r.Destination == other.Destination && r.ID == other.ID
}
