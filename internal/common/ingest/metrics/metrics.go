package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	DBOperation string
	SourceError string
)

const (
	DBOperationRead       DBOperation = "read"
	DBOperationInsert     DBOperation = "insert"
	DBOperationCheckpoint DBOperation = "checkpoint"
	DBOperationMigrate    DBOperation = "migrate"
	SourceErrorList       SourceError = "list"
	SourceErrorOpen       SourceError = "open"
	SourceErrorParse      SourceError = "parse"
)

const EventLoaderMetricsPrefix = "eventloader_"

// Metrics holds the counters shared by every ingesting component.
type Metrics struct {
	dbErrorsCounter     *prometheus.CounterVec
	sourceErrorsCounter *prometheus.CounterVec
}

// NewMetrics registers the counters with the default registry. It must only be called once per prefix.
func NewMetrics(prefix string) *Metrics {
	dbErrorsCounterOpts := prometheus.CounterOpts{
		Name: prefix + "db_errors",
		Help: "Number of database errors grouped by database operation",
	}
	sourceErrorsCounterOpts := prometheus.CounterOpts{
		Name: prefix + "source_errors",
		Help: "Number of input source errors grouped by error type",
	}
	return &Metrics{
		dbErrorsCounter:     promauto.NewCounterVec(dbErrorsCounterOpts, []string{"operation"}),
		sourceErrorsCounter: promauto.NewCounterVec(sourceErrorsCounterOpts, []string{"error"}),
	}
}

func (m *Metrics) RecordDBError(operation DBOperation) {
	m.dbErrorsCounter.With(map[string]string{"operation": string(operation)}).Inc()
}

func (m *Metrics) RecordSourceError(error SourceError) {
	m.sourceErrorsCounter.With(map[string]string{"error": string(error)}).Inc()
}
