package export

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"

	"github.com/recway/roadquality/server/internal/lib/segment"
)

// JSONSink writes each trace as an indented JSON array to <dir>/<name>.json
type JSONSink struct {
	Dir string
}

func (s JSONSink) Write(ctx context.Context, name string, records []segment.Record) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	if records == nil {
		records = []segment.Record{}
	}

	f, err := createOutput(s.Dir, name, ".json")
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(records); err != nil {
		return fmt.Errorf("failed to encode records of %s: %w", name, err)
	}
	return nil
}
