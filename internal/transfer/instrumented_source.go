package transfer

import (
	"context"
	"io"

	"github.com/italolelis/modmirror/internal/telemetry"
)

// InstrumentedSource wraps Source with telemetry.
type InstrumentedSource struct {
	source    Source
	telemetry *telemetry.Telemetry
	name      string
}

// NewInstrumentedSource creates a new instrumented source. name labels the metrics (e.g. "cdn").
func NewInstrumentedSource(source Source, tel *telemetry.Telemetry, name string) *InstrumentedSource {
	return &InstrumentedSource{
		source:    source,
		telemetry: tel,
		name:      name,
	}
}

// Open opens the remote stream with telemetry.
func (s *InstrumentedSource) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	var result io.ReadCloser

	err := s.telemetry.InstrumentClientOperation(ctx, s.name, "open", func(ctx context.Context) error {
		var err error

		result, err = s.source.Open(ctx, uri)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
