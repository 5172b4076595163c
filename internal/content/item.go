package content

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrUnsafePath reports an item whose folder or file would resolve outside the install root.
var ErrUnsafePath = errors.New("path escapes install root")

// Item is an installable unit described by the remote catalog.
type Item struct {
	ID       string   `json:"id"`
	Folder   string   `json:"folder,omitempty"`
	File     string   `json:"file"`
	Hash     string   `json:"hash,omitempty"`
	URL      string   `json:"url,omitempty"`
	Packages []string `json:"packages,omitempty"`

	// LocalFiles lists the file names of this item physically present in the install tree.
	LocalFiles []string `json:"-"`
}

func (i *Item) HasHash() bool {
	return i.Hash != ""
}

// Validate checks that the item's files stay below any install root: File must be a
// plain file name and Folder a local relative path.
func (i *Item) Validate() error {
	if i.File == "" || i.File != filepath.Base(i.File) || i.File == "." || i.File == ".." {
		return fmt.Errorf("%w: file %q", ErrUnsafePath, i.File)
	}

	if i.Folder != "" && !filepath.IsLocal(i.Folder) {
		return fmt.Errorf("%w: folder %q", ErrUnsafePath, i.Folder)
	}

	return nil
}

// Destination returns the install path of name for this item below root.
func (i *Item) Destination(root, name string) string {
	return filepath.Join(root, i.Folder, name)
}

// Reference builds the transfer reference for the item's primary file.
func (i *Item) Reference(root string) Reference {
	ref := NewReference(i.Destination(root, i.File), i.URL)
	ref.ItemID = i.ID
	ref.File = i.File
	ref.Hash = i.Hash

	return ref
}

// Lookup resolves catalog identifiers to items. A miss is reported with ok == false.
type Lookup interface {
	Lookup(id string) (*Item, bool)
}
