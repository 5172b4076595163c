package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/modmirror/internal/content"
	"github.com/italolelis/modmirror/internal/logctx"
	"github.com/italolelis/modmirror/internal/telemetry"
	"github.com/italolelis/modmirror/internal/transfer"
	"github.com/spf13/afero"
)

const (
	// DefaultChunkSize bounds how many bytes are copied between two cancellation checks.
	DefaultChunkSize = 32 * 1024

	dirPerm  = 0o755
	filePerm = 0o644

	progressInterval = 10 * 1024 * 1024 // 10MB
)

// Result is the outcome of a staging transfer. Canceled is a normal termination, not an error.
type Result struct {
	Path     string
	Bytes    int64
	Canceled bool
}

// Stager streams remote content into uniquely named files of the staging area.
type Stager struct {
	fs        afero.Fs
	dir       string
	source    transfer.Source
	chunkSize int
	telemetry *telemetry.Telemetry
}

// NewStager creates a stager writing into dir. chunkSize <= 0 selects DefaultChunkSize.
func NewStager(fs afero.Fs, dir string, source transfer.Source, chunkSize int, tel *telemetry.Telemetry) *Stager {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Stager{
		fs:        fs,
		dir:       dir,
		source:    source,
		chunkSize: chunkSize,
		telemetry: tel,
	}
}

// Dir is the staging directory.
func (s *Stager) Dir() string {
	return s.dir
}

// Path returns the staging path of ref.
func (s *Stager) Path(ref content.Reference) string {
	return filepath.Join(s.dir, ref.StagingName())
}

// Stage copies ref.Source into the staging area chunk by chunk, checking the
// reference's cancel flag and ctx before every chunk. The staging file is
// removed on every exit other than a completed copy.
func (s *Stager) Stage(ctx context.Context, ref content.Reference) (Result, error) {
	ctx = logctx.WithReference(ctx, ref.ID)
	logger := logctx.LoggerFromContext(ctx).With("file", filepath.Base(ref.Destination))
	path := s.Path(ref)
	start := time.Now()

	s.telemetry.AddActiveStages(1)
	defer s.telemetry.AddActiveStages(-1)

	res, err := s.stage(ctx, ref, path)

	switch {
	case err != nil:
		s.discard(ctx, path)
		s.telemetry.RecordStage("error", res.Bytes, time.Since(start))

		return Result{}, err
	case res.Canceled:
		s.discard(ctx, path)
		s.telemetry.RecordStage("canceled", res.Bytes, time.Since(start))

		ref.ResetCancel()
		logger.InfoContext(ctx, "canceled download", "copied", humanize.Bytes(uint64(res.Bytes)))

		return Result{Canceled: true}, nil
	}

	s.telemetry.RecordStage("success", res.Bytes, time.Since(start))
	logger.InfoContext(ctx, "staged file", "path", path, "size", humanize.Bytes(uint64(res.Bytes)))

	return res, nil
}

func (s *Stager) stage(ctx context.Context, ref content.Reference, path string) (Result, error) {
	if stopRequested(ctx, ref) {
		return Result{Canceled: true}, nil
	}

	body, err := s.source.Open(ctx, ref.Source)
	if err != nil {
		if stopRequested(ctx, ref) {
			return Result{Canceled: true}, nil
		}

		return Result{}, fmt.Errorf("failed to open source: %w", err)
	}

	defer func() {
		_ = body.Close()
	}()

	if stopRequested(ctx, ref) {
		return Result{Canceled: true}, nil
	}

	if err := s.fs.MkdirAll(s.dir, dirPerm); err != nil {
		return Result{}, fmt.Errorf("failed to create staging directory: %w", err)
	}

	out, err := s.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return Result{}, fmt.Errorf("failed to create staging file: %w", err)
	}

	logger := logctx.LoggerFromContext(ctx)
	reader := newProgressReader(body, progressInterval, func(read int64) {
		logger.DebugContext(ctx, "download progress", "source", ref.Source, "downloaded", humanize.Bytes(uint64(read)))
	})

	written, canceled, copyErr := s.copyChunks(ctx, ref, out, reader)
	closeErr := out.Close()

	res := Result{Path: path, Bytes: written, Canceled: canceled}

	switch {
	case copyErr != nil && stopRequested(ctx, ref):
		// a read interrupted by the cancel surfaces as an error from the body
		res.Canceled = true

		return res, nil
	case copyErr != nil:
		return res, fmt.Errorf("failed to copy %s: %w", ref.Source, copyErr)
	case canceled:
		return res, nil
	case closeErr != nil:
		return res, fmt.Errorf("failed to close staging file: %w", closeErr)
	}

	return res, nil
}

// copyChunks appends r to w in chunkSize pieces. The stream ends when a read
// returns fewer bytes than a full chunk; io.ReadFull keeps short network reads
// from being mistaken for that.
func (s *Stager) copyChunks(ctx context.Context, ref content.Reference, w io.Writer, r io.Reader) (int64, bool, error) {
	buf := make([]byte, s.chunkSize)

	var written int64

	for {
		if stopRequested(ctx, ref) {
			return written, true, nil
		}

		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written, false, fmt.Errorf("failed to write staging file: %w", werr)
			}

			written += int64(n)
		}

		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return written, false, nil
		case err != nil:
			return written, false, err
		}
	}
}

func (s *Stager) discard(ctx context.Context, path string) {
	if err := s.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to remove partial staging file", "path", path, "err", err)
	}
}

func stopRequested(ctx context.Context, ref content.Reference) bool {
	return ref.Canceled() || ctx.Err() != nil
}
