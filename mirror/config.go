// Package mirror implements the incremental mirror synchronization engine:
// it scans append-only source tabs in bounded windows, validates and projects
// qualifying rows, filters rows already mirrored, appends the remainder to
// the consolidated destination in batches, and persists dedup state after
// each durable batch so runs can be interrupted and resumed without
// duplicating a row.
package mirror

import (
	"time"

	"github.com/pkg/errors"

	"go.gridsync.dev/core/dedup"
	"go.gridsync.dev/core/flow"
	"go.gridsync.dev/core/retry"
)

// Config is the complete configuration surface of the engine. All settings
// are plain scalars with defaults; none affect correctness invariants, only
// cost and latency trade-offs. One Config is built at startup and passed by
// reference; there is no ambient global state.
type Config struct {
	Master     string `long:"master" env:"MASTER_SPREADSHEET_ID" description:"Spreadsheet ID of the consolidated master"`
	TicketsTab string `long:"tickets-tab" env:"MASTER_TICKETS_TAB" default:"Tickets" description:"Destination tab of the master spreadsheet"`
	SourceTab  string `long:"source-tab" env:"MASTER_SOURCE_TAB" default:"Source" description:"Registry tab listing source spreadsheets"`

	Strategy   string `long:"strategy" env:"DEDUP_STRATEGY" default:"rowflag" choice:"cursor" choice:"rowflag" choice:"keyindex" description:"Dedup strategy applied to flows which don't set their own"`
	FlagColumn int    `long:"flag-column" env:"SYNC_FLAG_COLUMN" default:"30" description:"Reserved 1-based source column for write-back dedup flags"`
	FlowsFile  string `long:"flows-file" env:"FLOWS_FILE" description:"Optional YAML file of flow definitions; built-in flows are used if unset"`

	TailWindowRows int `long:"tail-window-rows" env:"TAIL_WINDOW_ROWS" default:"3000" description:"Trailing source rows considered per run by tail-window strategies"`
	PageRows       int `long:"page-rows" env:"PAGE_ROWS" default:"3000" description:"Maximum rows fetched per remote page read"`
	BatchRows      int `long:"batch-rows" env:"BATCH_APPEND_ROWS" default:"500" description:"Rows accumulated before a destination batch append"`
	KeyTailSize    int `long:"key-tail-size" env:"KEY_TAIL_SIZE" default:"10000" description:"Recent identity hashes held in memory by the keyindex strategy"`
	MasterWidthMin int `long:"master-width-min" env:"MASTER_WIDTH_MIN" default:"16" description:"Minimum destination row width"`

	ThrottlePerRead     time.Duration `long:"throttle-per-read" env:"THROTTLE_PER_READ" default:"250ms" description:"Courtesy pause after each page read"`
	SleepBetweenSources time.Duration `long:"sleep-between-sources" env:"SLEEP_BETWEEN_SOURCES" default:"1s" description:"Pause between source units"`
	SleepBetweenFlows   time.Duration `long:"sleep-between-flows" env:"SLEEP_BETWEEN_FLOWS" default:"3s" description:"Pause between flows"`
	BackoffBase         time.Duration `long:"backoff-base" env:"BACKOFF_BASE" default:"800ms" description:"Initial retry backoff delay"`
	BackoffMax          time.Duration `long:"backoff-max" env:"BACKOFF_MAX" default:"20s" description:"Maximum retry backoff delay"`
	RetryAttempts       int           `long:"retry-attempts" env:"RETRY_ATTEMPTS" default:"6" description:"Attempt bound of each remote call"`

	TotalShards int `long:"total-shards" env:"TOTAL_SHARDS" default:"1" description:"Count of disjoint worker shards"`
	ShardIndex  int `long:"shard-index" env:"SHARD_INDEX" default:"0" description:"Shard processed by this worker"`

	Baseline   bool          `long:"baseline" env:"START_FROM_NOW" description:"Adopt sources by marking current rows seen without mirroring them"`
	TimeBudget time.Duration `long:"time-budget" env:"TIME_BUDGET" default:"0s" description:"Wall-clock budget of the run; 0 disables"`
	MaxUnits   int           `long:"max-units" env:"MAX_UNITS" default:"0" description:"Maximum (source, flow) units per run; 0 disables"`
}

// Validate returns an error if the Config is malformed.
func (cfg *Config) Validate() error {
	if cfg.Master == "" {
		return errors.New("master spreadsheet ID is required")
	} else if cfg.PageRows < 1 {
		return errors.New("page-rows must be positive")
	} else if cfg.BatchRows < 1 {
		return errors.New("batch-rows must be positive")
	} else if cfg.RetryAttempts < 1 {
		return errors.New("retry-attempts must be positive")
	} else if cfg.TotalShards < 1 {
		return errors.New("total-shards must be positive")
	} else if cfg.ShardIndex < 0 || cfg.ShardIndex >= cfg.TotalShards {
		return errors.Errorf("shard-index %d is outside [0, %d)", cfg.ShardIndex, cfg.TotalShards)
	}
	switch flow.Strategy(cfg.Strategy) {
	case flow.CursorStrategy, flow.RowFlagStrategy, flow.KeyIndexStrategy:
		// Pass.
	default:
		return errors.Errorf("unknown strategy %q", cfg.Strategy)
	}
	return nil
}

// RetryPolicy derives the retry.Policy applied to every remote call.
func (cfg *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		Base:     cfg.BackoffBase,
		Max:      cfg.BackoffMax,
		Attempts: cfg.RetryAttempts,
		Jitter:   true,
	}
}

// DedupConfig derives the dedup.Config of this run.
func (cfg *Config) DedupConfig() dedup.Config {
	return dedup.Config{
		TailWindowRows: cfg.TailWindowRows,
		KeyTailSize:    cfg.KeyTailSize,
		Retry:          cfg.RetryPolicy(),
	}
}

// Flows returns the flow Specs of this run: the flows file if configured,
// otherwise the built-in flows, each defaulted to the configured strategy
// and flag column.
func (cfg *Config) Flows() ([]flow.Spec, error) {
	if cfg.FlowsFile != "" {
		return flow.LoadFile(cfg.FlowsFile, flow.Strategy(cfg.Strategy), cfg.FlagColumn)
	}
	return flow.Builtins(flow.Strategy(cfg.Strategy), cfg.FlagColumn), nil
}
