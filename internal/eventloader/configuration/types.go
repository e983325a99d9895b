package configuration

import (
	"time"

	"github.com/armadaproject/eventloader/internal/common/database"
	"github.com/armadaproject/eventloader/internal/common/logging"
)

const (
	CheckpointTypeSqlite   = "sqlite"
	CheckpointTypePostgres = "postgres"
)

type EventLoaderConfiguration struct {
	// Directory polled for new event files
	InputPath string `validate:"required"`
	// Glob that a file name must match to be picked up
	FilePattern string `validate:"required"`
	// Upper bound on the number of files in one micro-batch
	MaxFilesPerTrigger int `validate:"gt=0"`
	// Delay between the start of two driver cycles
	TriggerInterval time.Duration `validate:"gt=0"`
	// Time the driver sleeps after a failed write before going back to idle
	ErrorBackoff time.Duration `validate:"gte=0"`
	// Number of files parsed concurrently within a batch
	ParseWorkers int `validate:"gt=0"`
	Validation   ValidationConfig
	Retry        RetryConfig
	Postgres     PostgresConfig
	StartupWait  StartupWaitConfig
	Checkpoint   CheckpointConfig
	Metrics      MetricsConfig
	Logging      logging.Config
}

type ValidationConfig struct {
	// Lowest accepted purchase price
	MinPrice float64 `validate:"gte=0"`
	// Allowed clock skew, in seconds, for event timestamps in the future
	MaxFutureTimestampSeconds int `validate:"gte=0"`
	// Columns that must be present and non-empty. Price is validated separately.
	RequiredFields []string `validate:"dive,oneof=event_id user_id product_id product_name product_category event_type event_timestamp"`
}

// RetryConfig is the sink writer's retry policy. Delay before attempt n+1 is InitialDelay * Multiplier^(n-1),
// capped at MaxDelay.
type RetryConfig struct {
	MaxAttempts  uint          `validate:"gt=0"`
	InitialDelay time.Duration `validate:"gte=0"`
	MaxDelay     time.Duration `validate:"gtefield=InitialDelay"`
	Multiplier   float64       `validate:"gte=1"`
}

type PostgresConfig struct {
	database.PostgresConfig `mapstructure:",squash"`
	// Sink table
	TableName string `validate:"required"`
	// Rows per INSERT statement; all statements of a batch share one transaction. Each row binds one parameter
	// per column and postgres accepts at most 65535 parameters per statement.
	InsertChunkSize int `validate:"gt=0,lte=8191"`
	// Upper bound on a single commit attempt
	CommitTimeout time.Duration `validate:"gt=0"`
}

// StartupWaitConfig controls how long the process waits for Postgres to accept connections before giving up.
type StartupWaitConfig struct {
	Attempts uint          `validate:"gt=0"`
	Delay    time.Duration `validate:"gte=0"`
}

type CheckpointConfig struct {
	Type string `validate:"oneof=sqlite postgres"`
	// Database file used when Type is sqlite
	SqlitePath string `validate:"required_if=Type sqlite"`
	// Number of processed file names kept in memory
	CacheSize int `validate:"gt=0"`
}

type MetricsConfig struct {
	Port uint16 `validate:"gt=0"`
}

// FutureTolerance returns the configured clock skew allowance as a duration.
func (c ValidationConfig) FutureTolerance() time.Duration {
	return time.Duration(c.MaxFutureTimestampSeconds) * time.Second
}
