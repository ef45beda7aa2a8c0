package config

import "time"

// EngineConfig contains execution engine tuning knobs.
// These values control step deadlines, event buffering, and process retention.
type EngineConfig struct {
	// APIStepTimeout is the deadline for api and system_log steps.
	APIStepTimeout time.Duration `yaml:"api_step_timeout"`

	// SQLStepTimeout is the deadline for sql steps.
	SQLStepTimeout time.Duration `yaml:"sql_step_timeout"`

	// FormatterTimeout is the deadline for results_formatter steps.
	FormatterTimeout time.Duration `yaml:"formatter_timeout"`

	// ScriptTimeout is the wall-clock limit for generated-script subprocesses.
	ScriptTimeout time.Duration `yaml:"script_timeout"`

	// OktaConcurrentLimit is the global ceiling on concurrent Okta API calls
	// across all processes.
	OktaConcurrentLimit int `yaml:"okta_concurrent_limit"`

	// BatchSize is the number of rows per BATCH event when chunking.
	BatchSize int `yaml:"batch_size"`

	// BatchThreshold is the minimum row count that triggers chunked streaming.
	// Results below the threshold are delivered inline in a single COMPLETE.
	BatchThreshold int `yaml:"batch_threshold"`

	// EventBusCapacity is the bounded channel size of each process event bus.
	EventBusCapacity int `yaml:"event_bus_capacity"`

	// ProcessGrace is how long terminal processes are retained so late
	// subscribers can still drain their event buffer.
	ProcessGrace time.Duration `yaml:"process_grace"`

	// OwnerQuota is the maximum concurrent active processes per owner.
	OwnerQuota int `yaml:"owner_quota"`

	// MaxQueryLength is the maximum accepted query length after sanitation.
	MaxQueryLength int `yaml:"max_query_length"`

	// ScratchDir is where generated scripts are written before execution.
	// Empty means os.TempDir().
	ScratchDir string `yaml:"scratch_dir"`
}

// DefaultEngineConfig returns the built-in engine defaults.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		APIStepTimeout:      180 * time.Second,
		SQLStepTimeout:      60 * time.Second,
		FormatterTimeout:    60 * time.Second,
		ScriptTimeout:       180 * time.Second,
		OktaConcurrentLimit: 15,
		BatchSize:           500,
		BatchThreshold:      500,
		EventBusCapacity:    256,
		ProcessGrace:        10 * time.Minute,
		OwnerQuota:          10,
		MaxQueryLength:      2000,
	}
}
