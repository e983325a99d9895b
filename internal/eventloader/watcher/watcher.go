package watcher

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"

	ingestmetrics "github.com/armadaproject/eventloader/internal/common/ingest/metrics"
	"github.com/armadaproject/eventloader/internal/common/loadererrors"
	"github.com/armadaproject/eventloader/internal/common/logctx"
	"github.com/armadaproject/eventloader/internal/eventloader/checkpoint"
	"github.com/armadaproject/eventloader/internal/eventloader/metrics"
	"github.com/armadaproject/eventloader/internal/eventloader/model"
)

// ProgressReader is the read-only view of the checkpoint store used to decide which files are new.
type ProgressReader interface {
	Load(ctx *logctx.Context) (checkpoint.Checkpoint, error)
	Processed(ctx *logctx.Context, names []string) (map[string]bool, error)
}

// Watcher lists an input directory and groups unprocessed files into micro-batches.
// It never modifies the directory or the checkpoint store.
type Watcher struct {
	inputPath string
	pattern   string
	progress  ProgressReader
}

func New(inputPath string, pattern string, progress ProgressReader) (*Watcher, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, errors.WithStack(&loadererrors.ErrInvalidArgument{
			Name:    "pattern",
			Value:   pattern,
			Message: err.Error(),
		})
	}
	return &Watcher{
		inputPath: inputPath,
		pattern:   pattern,
		progress:  progress,
	}, nil
}

// NextBatch returns up to maxFiles unprocessed files in lexicographic order, numbered one past the last
// committed batch. An empty batch means there is nothing to do.
func (w *Watcher) NextBatch(ctx *logctx.Context, maxFiles int) (*model.Batch, error) {
	candidates, err := w.listCandidates()
	if err != nil {
		return nil, err
	}

	cp, err := w.progress.Load(ctx)
	if err != nil {
		return nil, err
	}
	batch := &model.Batch{Id: cp.BatchId + 1}
	if len(candidates) == 0 {
		return batch, nil
	}

	processed, err := w.progress.Processed(ctx, candidates)
	if err != nil {
		return nil, err
	}
	for _, name := range candidates {
		if len(batch.Files) >= maxFiles {
			break
		}
		if !processed[name] {
			batch.Files = append(batch.Files, name)
		}
	}
	if !batch.IsEmpty() {
		ctx.Log.Debugf("Found %d new files of %d candidates", len(batch.Files), len(candidates))
	}
	return batch, nil
}

// Path returns the full path of a file named in a batch.
func (w *Watcher) Path(name string) string {
	return filepath.Join(w.inputPath, name)
}

// Check reports whether the input directory can be listed.
func (w *Watcher) Check() error {
	_, err := w.listCandidates()
	return err
}

// listCandidates returns the sorted names of regular files matching the pattern. Hidden files and files starting
// with an underscore are in-progress writes or metadata and are skipped.
func (w *Watcher) listCandidates() ([]string, error) {
	entries, err := os.ReadDir(w.inputPath)
	if err != nil {
		metrics.Get().RecordSourceError(ingestmetrics.SourceErrorList)
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.WithStack(&loadererrors.ErrNotFound{
			Type:  "directory",
			Value: w.inputPath,
		})
	}
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", w.inputPath)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		if ok, _ := filepath.Match(w.pattern, name); ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}
