package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/recway/roadquality/server/internal/lib/segment"
)

// Sink receives the records of one processed trace
type Sink interface {
	Write(ctx context.Context, name string, records []segment.Record) error
}

// MultiSink writes to every sink, collecting all failures
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, name string, records []segment.Record) error {
	var err error
	for _, sink := range m {
		err = multierr.Append(err, sink.Write(ctx, name, records))
	}
	return err
}

// createOutput opens dir/name+ext for writing, creating dir when missing
func createOutput(dir, name, ext string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, name+ext)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return f, nil
}
