package remote

import (
	"context"
	"errors"
	"io"

	"github.com/italolelis/modmirror/internal/logctx"
	"github.com/italolelis/modmirror/internal/transfer"
)

// FallbackSource retries a failed fetch from the session's mirror host.
type FallbackSource struct {
	primary transfer.Source
	session *Session
}

func NewFallbackSource(primary transfer.Source, session *Session) *FallbackSource {
	return &FallbackSource{primary: primary, session: session}
}

func (s *FallbackSource) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	body, err := s.primary.Open(ctx, uri)
	if err == nil {
		return body, nil
	}

	var netErr *transfer.NetworkError
	if ctx.Err() != nil || !errors.As(err, &netErr) {
		return nil, err
	}

	mirrorURI, ok := s.session.Mirror(uri)
	if !ok {
		return nil, err
	}

	logctx.LoggerFromContext(ctx).WarnContext(ctx, "primary host failed, trying mirror", "url", uri, "mirror", mirrorURI, "err", err)

	body, mirrorErr := s.primary.Open(ctx, mirrorURI)
	if mirrorErr != nil {
		return nil, errors.Join(err, mirrorErr)
	}

	return body, nil
}

var _ transfer.Source = (*FallbackSource)(nil)
