// Package checkpoint records which input files have been durably committed to the sink. It is the only source
// of truth for ingestion progress: the last committed batch id and the names of every consumed file.
package checkpoint

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/simplelru"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	ingestmetrics "github.com/armadaproject/eventloader/internal/common/ingest/metrics"
	"github.com/armadaproject/eventloader/internal/common/loadererrors"
	"github.com/armadaproject/eventloader/internal/common/logctx"
	"github.com/armadaproject/eventloader/internal/eventloader/metrics"
	"github.com/armadaproject/eventloader/internal/eventloader/model"
)

// Checkpoint is the last fully committed batch. The zero value means nothing has been committed yet.
type Checkpoint struct {
	BatchId   int64
	UpdatedAt time.Time
}

// ErrCheckpointFailed is returned when progress could not be recorded. Whether the write was partially applied
// is unknown, so callers must not retry it silently.
type ErrCheckpointFailed struct {
	BatchId int64
	Err     error
}

func (err *ErrCheckpointFailed) Error() string {
	return fmt.Sprintf("failed to checkpoint batch %d: %v", err.BatchId, err.Err)
}

func (err *ErrCheckpointFailed) Unwrap() error {
	return err.Err
}

func (err *ErrCheckpointFailed) Cause() error {
	return err.Err
}

// backend is the durable storage behind a Store.
type backend interface {
	load(ctx *logctx.Context) (Checkpoint, error)
	// processed returns the subset of names that have been recorded.
	processed(ctx *logctx.Context, names []string) ([]string, error)
	// advance records files under batchId and moves the checkpoint to batchId in a single transaction.
	advance(ctx *logctx.Context, batchId int64, files []string, at time.Time) error
	ping(ctx *logctx.Context) error
	close() error
}

// Store is a checkpoint store with an in-memory LRU cache of processed file names in front of a durable backend.
type Store struct {
	backend backend
	// Names known to be processed. Only positive lookups are cached.
	cache *lru.LRU
	mu    sync.Mutex
	clock clock.Clock
}

func newStore(backend backend, cacheSize int, clock clock.Clock) (*Store, error) {
	if cacheSize <= 0 {
		return nil, errors.WithStack(&loadererrors.ErrInvalidArgument{
			Name:    "cacheSize",
			Value:   cacheSize,
			Message: "cacheSize must be positive",
		})
	}
	cache, err := lru.NewLRU(cacheSize, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Store{
		backend: backend,
		cache:   cache,
		clock:   clock,
	}, nil
}

// Load returns the last committed checkpoint, or the zero Checkpoint if none has been recorded.
func (s *Store) Load(ctx *logctx.Context) (Checkpoint, error) {
	cp, err := s.backend.load(ctx)
	if err != nil {
		return Checkpoint{}, errors.WithMessage(err, "loading checkpoint")
	}
	return cp, nil
}

// Processed reports, for each of names, whether the file has already been committed.
func (s *Store) Processed(ctx *logctx.Context, names []string) (map[string]bool, error) {
	result := make(map[string]bool, len(names))
	unknown := make([]string, 0, len(names))

	s.mu.Lock()
	for _, name := range names {
		if s.cache.Contains(name) {
			result[name] = true
		} else {
			unknown = append(unknown, name)
		}
	}
	s.mu.Unlock()

	if len(unknown) == 0 {
		return result, nil
	}
	found, err := s.backend.processed(ctx, unknown)
	if err != nil {
		return nil, errors.WithMessage(err, "looking up processed files")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range found {
		result[name] = true
		s.cache.Add(name, true)
	}
	return result, nil
}

// Advance durably records batch as committed. Batch ids must strictly increase.
// Any failure is returned as *ErrCheckpointFailed.
func (s *Store) Advance(ctx *logctx.Context, batch *model.Batch) error {
	if batch.IsEmpty() {
		return &ErrCheckpointFailed{
			BatchId: batch.Id,
			Err:     errors.New("batch has no files"),
		}
	}
	if err := s.backend.advance(ctx, batch.Id, batch.Files, s.clock.Now().UTC()); err != nil {
		metrics.Get().RecordDBError(ingestmetrics.DBOperationCheckpoint)
		return &ErrCheckpointFailed{BatchId: batch.Id, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range batch.Files {
		s.cache.Add(name, true)
	}
	return nil
}

// Check reports whether the backing storage is reachable.
func (s *Store) Check() error {
	ctx, cancel := logctx.WithTimeout(logctx.Background(), 5*time.Second)
	defer cancel()
	return s.backend.ping(ctx)
}

func (s *Store) Close() error {
	return s.backend.close()
}

// errNotAfter is returned by backends when asked to move the checkpoint backwards or to the same batch.
func errNotAfter(batchId int64, current int64) error {
	return errors.Errorf("batch %d is not after the last committed batch %d", batchId, current)
}
