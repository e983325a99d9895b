package pipeline

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/eventloader/internal/common/logctx"
	"github.com/armadaproject/eventloader/internal/common/logging"
	"github.com/armadaproject/eventloader/internal/eventloader/configuration"
	"github.com/armadaproject/eventloader/internal/eventloader/metrics"
	"github.com/armadaproject/eventloader/internal/eventloader/model"
	"github.com/armadaproject/eventloader/internal/eventloader/validation"
)

const checkpointTimeout = 30 * time.Second

type BatchSource interface {
	NextBatch(ctx *logctx.Context, maxFiles int) (*model.Batch, error)
	// Path maps a file name from a batch to a readable path.
	Path(name string) string
}

type Validator interface {
	Validate(ctx *logctx.Context, rows []model.RawRow) ([]model.Event, int)
}

type Sink interface {
	Commit(ctx *logctx.Context, events []model.Event) (int64, error)
}

type CheckpointStore interface {
	Advance(ctx *logctx.Context, batch *model.Batch) error
}

// RowReader reads the raw rows of one input file.
type RowReader func(path string, name string) ([]model.RawRow, error)

// batchRun carries one micro-batch through the states.
type batchRun struct {
	batch       *model.Batch
	started     time.Time
	rowsRead    int
	quarantined int
	events      []model.Event
	inserted    int64
}

// Driver runs the ingestion loop. Only one micro-batch is in flight at any time and the checkpoint is advanced
// only after the sink has confirmed the batch.
type Driver struct {
	source      BatchSource
	validator   Validator
	sink        Sink
	checkpoints CheckpointStore
	readRows    RowReader
	clock       clock.Clock

	maxFiles        int
	workers         int
	triggerInterval time.Duration
	errorBackoff    time.Duration

	nextTrigger  time.Time
	current      *batchRun
	onTransition func(from State, to State)
	metrics      *metrics.Metrics
}

func NewDriver(
	config *configuration.EventLoaderConfiguration,
	source BatchSource,
	validator Validator,
	sink Sink,
	checkpoints CheckpointStore,
	clock clock.Clock,
) *Driver {
	workers := config.ParseWorkers
	if workers <= 0 {
		workers = 1
	}
	return &Driver{
		source:          source,
		validator:       validator,
		sink:            sink,
		checkpoints:     checkpoints,
		readRows:        validation.ReadFile,
		clock:           clock,
		maxFiles:        config.MaxFilesPerTrigger,
		workers:         workers,
		triggerInterval: config.TriggerInterval,
		errorBackoff:    config.ErrorBackoff,
		metrics:         metrics.Get(),
	}
}

// Run processes micro-batches until ctx is cancelled. The first trigger fires immediately.
// A nil return means a graceful stop; an error means progress could not be recorded and the process should restart
// to resynchronise from the checkpoint store.
func (d *Driver) Run(ctx *logctx.Context) error {
	ctx.Log.Infof("Starting driver: trigger every %s, up to %d files per batch", d.triggerInterval, d.maxFiles)
	d.nextTrigger = d.clock.Now()
	state := Idle
	for {
		// A commit that succeeded is always checkpointed, so that stopping never forces a replay.
		if state != Checkpointing && ctx.Err() != nil {
			d.transition(state, Terminated)
			ctx.Log.Info("Driver stopped")
			return nil
		}
		next, err := d.step(ctx, state)
		if err != nil {
			d.transition(state, Terminated)
			return err
		}
		d.transition(state, next)
		if next == Terminated {
			ctx.Log.Info("Driver stopped")
			return nil
		}
		state = next
	}
}

// step performs the work of state and returns the state to move to.
func (d *Driver) step(ctx *logctx.Context, state State) (State, error) {
	switch state {
	case Idle:
		return d.idle(ctx), nil
	case Fetching:
		return d.fetch(ctx), nil
	case Validating:
		return d.validate(ctx), nil
	case Writing:
		return d.write(ctx), nil
	case Checkpointing:
		return d.checkpoint(ctx)
	case ErrorBackoff:
		return d.backoff(ctx), nil
	default:
		return Terminated, errors.Errorf("unexpected driver state %s", state)
	}
}

func (d *Driver) idle(ctx *logctx.Context) State {
	d.current = nil
	if !d.sleep(ctx, d.nextTrigger.Sub(d.clock.Now())) {
		return Terminated
	}
	d.nextTrigger = d.clock.Now().Add(d.triggerInterval)
	return Fetching
}

func (d *Driver) fetch(ctx *logctx.Context) State {
	started := d.clock.Now()
	batch, err := d.source.NextBatch(ctx, d.maxFiles)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Error("Failed to list new files")
		d.metrics.RecordBatch(metrics.ResultFailed, d.clock.Since(started))
		return ErrorBackoff
	}
	if batch.IsEmpty() {
		ctx.Log.Debug("No new files")
		return Idle
	}
	d.current = &batchRun{batch: batch, started: started}
	ctx.Log.WithFields(logrus.Fields{"batch": batch.Id, "files": batch.Files}).Info("Processing batch")
	return Validating
}

func (d *Driver) validate(ctx *logctx.Context) State {
	run := d.current
	batchCtx := logctx.WithLogField(ctx, "batch", run.batch.Id)
	results, err := d.parseFiles(batchCtx, run.batch)
	if err != nil {
		logging.WithStacktrace(batchCtx.Log, err).Error("Failed to read batch files")
		return d.fail(run)
	}

	for _, r := range results {
		run.rowsRead += r.rows
		run.quarantined += r.quarantined
		run.events = append(run.events, r.events...)
	}
	d.metrics.RecordRows(metrics.RowsRead, run.rowsRead)
	d.metrics.RecordRows(metrics.RowsValid, len(run.events))
	return Writing
}

func (d *Driver) write(ctx *logctx.Context) State {
	run := d.current
	batchCtx := logctx.WithLogField(ctx, "batch", run.batch.Id)
	inserted, err := d.sink.Commit(batchCtx, run.events)
	if err != nil {
		logging.WithStacktrace(batchCtx.Log, err).
			WithField("files", run.batch.Files).
			Error("Failed to write batch; it will be retried without advancing the checkpoint")
		return d.fail(run)
	}
	run.inserted = inserted
	return Checkpointing
}

func (d *Driver) checkpoint(ctx *logctx.Context) (State, error) {
	run := d.current
	batchCtx := logctx.WithLogField(ctx, "batch", run.batch.Id)
	// The batch is already in the sink; finish recording it even if a stop has been requested.
	advanceCtx, cancel := logctx.WithTimeout(logctx.Detach(batchCtx), checkpointTimeout)
	defer cancel()
	if err := d.checkpoints.Advance(advanceCtx, run.batch); err != nil {
		logging.WithStacktrace(batchCtx.Log, err).
			WithField("files", run.batch.Files).
			Error("Failed to advance checkpoint")
		d.metrics.RecordBatch(metrics.ResultFailed, d.clock.Since(run.started))
		return Terminated, errors.WithMessagef(err, "checkpointing batch %d", run.batch.Id)
	}

	elapsed := d.clock.Since(run.started)
	duplicates := int64(len(run.events)) - run.inserted
	d.metrics.RecordRows(metrics.RowsInserted, int(run.inserted))
	d.metrics.RecordRows(metrics.RowsDuplicate, int(duplicates))
	d.metrics.RecordCheckpoint(run.batch.Id, len(run.batch.Files))
	d.metrics.RecordBatch(metrics.ResultSuccess, elapsed)
	batchCtx.Log.WithFields(logrus.Fields{
		"files":       len(run.batch.Files),
		"rowsRead":    run.rowsRead,
		"valid":       len(run.events),
		"quarantined": run.quarantined,
		"inserted":    run.inserted,
		"duplicates":  duplicates,
		"elapsed":     elapsed,
	}).Info("Batch committed")
	return Idle, nil
}

func (d *Driver) backoff(ctx *logctx.Context) State {
	d.current = nil
	if !d.sleep(ctx, d.errorBackoff) {
		return Terminated
	}
	return Idle
}

func (d *Driver) fail(run *batchRun) State {
	d.metrics.RecordBatch(metrics.ResultFailed, d.clock.Since(run.started))
	return ErrorBackoff
}

// sleep waits for duration and reports false if ctx was cancelled first.
func (d *Driver) sleep(ctx *logctx.Context, duration time.Duration) bool {
	if duration <= 0 {
		return ctx.Err() == nil
	}
	timer := d.clock.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C():
		return true
	}
}

func (d *Driver) transition(from State, to State) {
	if from == to {
		return
	}
	d.metrics.RecordState(to.String(), stateLabels())
	if d.onTransition != nil {
		d.onTransition(from, to)
	}
}
