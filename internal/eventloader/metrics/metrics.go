package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/armadaproject/eventloader/internal/common/ingest/metrics"
)

const prefix = metrics.EventLoaderMetricsPrefix

var filesProcessedCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: prefix + "files_processed",
		Help: "Number of input files committed and checkpointed",
	},
)

var rowsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "rows",
		Help: "Number of input rows grouped by outcome",
	},
	[]string{"outcome"},
)

var quarantinedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "rows_quarantined",
		Help: "Number of rows rejected during validation grouped by rule",
	},
	[]string{"rule"},
)

var eventIdMismatchCounter = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: prefix + "event_id_mismatches",
		Help: "Number of rows whose supplied event_id differs from the derived one",
	},
)

var batchDurationHist = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    prefix + "batch_duration_seconds",
		Help:    "Time taken to process one micro-batch grouped by result",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	},
	[]string{"result"},
)

var commitAttemptsCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: prefix + "commit_attempts",
		Help: "Number of sink commit attempts grouped by result",
	},
	[]string{"result"},
)

var stateGauge = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: prefix + "driver_state",
		Help: "1 for the state the driver is currently in, 0 otherwise",
	},
	[]string{"state"},
)

var lastCommittedBatchGauge = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: prefix + "last_committed_batch",
		Help: "Id of the last checkpointed batch",
	},
)

const (
	RowsRead      = "read"
	RowsValid     = "valid"
	RowsInserted  = "inserted"
	RowsDuplicate = "duplicate"

	ResultSuccess   = "success"
	ResultTransient = "transient"
	ResultFatal     = "fatal"
	ResultFailed    = "failed"
	ResultEmpty     = "empty"
)

type Metrics struct {
	*metrics.Metrics
}

var m = &Metrics{
	metrics.NewMetrics(prefix),
}

func Get() *Metrics {
	return m
}

func (m *Metrics) RecordRows(outcome string, count int) {
	rowsCounter.With(map[string]string{"outcome": outcome}).Add(float64(count))
}

func (m *Metrics) RecordQuarantined(rule string) {
	quarantinedCounter.With(map[string]string{"rule": rule}).Inc()
}

func (m *Metrics) RecordEventIdMismatch() {
	eventIdMismatchCounter.Inc()
}

func (m *Metrics) RecordCommitAttempt(result string) {
	commitAttemptsCounter.With(map[string]string{"result": result}).Inc()
}

func (m *Metrics) RecordBatch(result string, duration time.Duration) {
	batchDurationHist.With(map[string]string{"result": result}).Observe(duration.Seconds())
}

func (m *Metrics) RecordCheckpoint(batchId int64, files int) {
	lastCommittedBatchGauge.Set(float64(batchId))
	filesProcessedCounter.Add(float64(files))
}

// RecordState marks state as the current driver state. states lists every possible state.
func (m *Metrics) RecordState(state string, states []string) {
	for _, s := range states {
		value := 0.0
		if s == state {
			value = 1
		}
		stateGauge.With(map[string]string{"state": s}).Set(value)
	}
}
