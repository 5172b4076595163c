package transfer

import (
	"context"
	"io"
)

// Source opens remote content as a byte stream of unknown length.
type Source interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}
