package eventloader

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"

	"github.com/armadaproject/eventloader/internal/common/logctx"
	"github.com/armadaproject/eventloader/internal/eventloader/checkpoint"
	"github.com/armadaproject/eventloader/internal/eventloader/configuration"
	"github.com/armadaproject/eventloader/internal/eventloader/model"
	"github.com/armadaproject/eventloader/internal/eventloader/testfixtures"
)

// memorySink keeps committed events keyed by id, skipping ids it has already seen.
type memorySink struct {
	mu      sync.Mutex
	events  map[string]model.Event
	commits int
}

func (s *memorySink) Commit(_ *logctx.Context, events []model.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = map[string]model.Event{}
	}
	s.commits++
	var inserted int64
	for _, e := range events {
		if _, ok := s.events[e.EventId.String()]; !ok {
			s.events[e.EventId.String()] = e
			inserted++
		}
	}
	return inserted, nil
}

func (s *memorySink) snapshot() (map[string]model.Event, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]model.Event, len(s.events))
	for k, v := range s.events {
		out[k] = v
	}
	return out, s.commits
}

func testConfig(t *testing.T) *configuration.EventLoaderConfiguration {
	dir := t.TempDir()
	return &configuration.EventLoaderConfiguration{
		InputPath:          filepath.Join(dir, "input"),
		FilePattern:        "*.csv",
		MaxFilesPerTrigger: 2,
		TriggerInterval:    10 * time.Millisecond,
		ParseWorkers:       2,
		Validation: configuration.ValidationConfig{
			MaxFutureTimestampSeconds: 60,
			RequiredFields: []string{
				model.ColumnEventId, model.ColumnUserId, model.ColumnProductId, model.ColumnProductName,
				model.ColumnProductCategory, model.ColumnEventType, model.ColumnEventTimestamp,
			},
		},
		Checkpoint: configuration.CheckpointConfig{
			Type:       configuration.CheckpointTypeSqlite,
			SqlitePath: filepath.Join(dir, "checkpoint", "eventloader.db"),
			CacheSize:  100,
		},
	}
}

// runUntil runs a driver over config until cond holds, then stops it.
func runUntil(t *testing.T, config *configuration.EventLoaderConfiguration, sink *memorySink, cond func(cp checkpoint.Checkpoint) bool) {
	ctx, cancel := logctx.WithCancel(logctx.Background())
	defer cancel()

	store, err := openCheckpointStore(ctx, config, nil)
	require.NoError(t, err)
	defer store.Close()

	driver, _, err := newDriver(ctx, config, store, sink, clock.RealClock{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- driver.Run(ctx) }()

	require.Eventually(t, func() bool {
		cp, err := store.Load(logctx.Background())
		return err == nil && cond(cp)
	}, 10*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestEndToEnd(t *testing.T) {
	config := testConfig(t)
	require.NoError(t, os.MkdirAll(config.InputPath, 0o755))
	now := time.Now().UTC()
	gen := testfixtures.NewGenerator(42)

	var expected []testfixtures.Row
	for i := 1; i <= 3; i++ {
		rows := gen.Events(10, now)
		if i == 2 {
			// A purchase without a price is quarantined.
			rows = append(rows, testfixtures.Row{
				EventId: "x", UserId: "user_9999", ProductId: "prod_0001", ProductName: "Mouse",
				ProductCategory: "Electronics", EventType: "purchase", EventTimestamp: now.Format(model.TimestampLayout),
			})
		}
		expected = append(expected, rows...)
		_, err := testfixtures.WriteFile(config.InputPath, testfixtures.FileName(now, i), rows)
		require.NoError(t, err)
	}

	sink := &memorySink{}
	// Three files at two per trigger take two batches.
	runUntil(t, config, sink, func(cp checkpoint.Checkpoint) bool { return cp.BatchId == 2 })

	events, commits := sink.snapshot()
	assert.Equal(t, 2, commits)
	distinct := map[string]bool{}
	for _, r := range expected {
		if r.UserId != "user_9999" {
			distinct[r.EventId] = true
		}
	}
	assert.Len(t, events, len(distinct))
	for id := range distinct {
		assert.Contains(t, events, id)
	}
	for _, e := range events {
		assert.Equal(t, e.EventType == model.EventTypeView, e.Price == nil)
	}

	// A restart resumes from the checkpoint: only a newly arrived file is processed.
	_, err := testfixtures.WriteFile(config.InputPath, testfixtures.FileName(now, 4), gen.Events(5, now))
	require.NoError(t, err)
	runUntil(t, config, sink, func(cp checkpoint.Checkpoint) bool { return cp.BatchId == 3 })

	_, commits = sink.snapshot()
	assert.Equal(t, 3, commits)
}
