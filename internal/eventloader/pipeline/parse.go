package pipeline

import (
	"github.com/pkg/errors"

	ingestmetrics "github.com/armadaproject/eventloader/internal/common/ingest/metrics"
	"github.com/armadaproject/eventloader/internal/common/logctx"
	"github.com/armadaproject/eventloader/internal/eventloader/model"
)

type fileResult struct {
	rows        int
	quarantined int
	events      []model.Event
}

// parseFiles reads and validates the files of batch on up to d.workers goroutines. Results are indexed by the
// file's position in the batch, so merging them preserves file order.
func (d *Driver) parseFiles(ctx *logctx.Context, batch *model.Batch) ([]fileResult, error) {
	results := make([]fileResult, len(batch.Files))
	g, gctx := logctx.ErrGroup(ctx)
	g.SetLimit(d.workers)
	for i, name := range batch.Files {
		i, name := i, name
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			rows, err := d.readRows(d.source.Path(name), name)
			if err != nil {
				d.metrics.RecordSourceError(ingestmetrics.SourceErrorOpen)
				return errors.WithMessagef(err, "reading %s", name)
			}
			events, quarantined := d.validator.Validate(logctx.WithLogField(gctx, "file", name), rows)
			results[i] = fileResult{rows: len(rows), quarantined: quarantined, events: events}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
