// Package am ("I am") holds the nex configuration: where counters live, which
// buckets feed the pipeline, how workers run and how the bulk loader paces itself.
package am

// Config represents the nex configuration
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Counter     CounterConfig     `mapstructure:"counter" toml:"counter" json:"counter" yaml:"counter"`
	Buckets     BucketsConfig     `mapstructure:"buckets" toml:"buckets" json:"buckets" yaml:"buckets"`
	ObjectStore ObjectStoreConfig `mapstructure:"object_store" toml:"object_store" json:"object_store" yaml:"object_store"`
	Pulse       PulseConfig       `mapstructure:"pulse" toml:"pulse" json:"pulse" yaml:"pulse"`
	Upload      UploadConfig      `mapstructure:"upload" toml:"upload" json:"upload" yaml:"upload"`
	Log         LogConfig         `mapstructure:"log" toml:"log" json:"log" yaml:"log"`
}

// DatabaseConfig configures the SQLite database (job queue, and counters for the sqlite backend)
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// CounterConfig selects and tunes the counter store
type CounterConfig struct {
	Backend     string `mapstructure:"backend" toml:"backend" json:"backend" yaml:"backend"`                     // sqlite, postgres, dynamodb, memory
	PostgresDSN string `mapstructure:"postgres_dsn" toml:"postgres_dsn" json:"-" yaml:"-"`                       // secret, env only in practice
	DynamoTable string `mapstructure:"dynamo_table" toml:"dynamo_table" json:"dynamo_table" yaml:"dynamo_table"` // table keyed by "entity"
	Concurrency int    `mapstructure:"concurrency" toml:"concurrency" json:"concurrency" yaml:"concurrency"`     // parallel per-key merges within one batch
	MaxAttempts int    `mapstructure:"max_attempts" toml:"max_attempts" json:"max_attempts" yaml:"max_attempts"` // increment/initialize round trips per key
}

// BucketsConfig names the two buckets the pipeline routes on
type BucketsConfig struct {
	Source string `mapstructure:"source" toml:"source" json:"source" yaml:"source"` // raw text files, triggers extract
	Tags   string `mapstructure:"tags" toml:"tags" json:"tags" yaml:"tags"`         // extraction artifacts, triggers aggregate
}

// ObjectStoreConfig selects the object store backend
type ObjectStoreConfig struct {
	Backend  string `mapstructure:"backend" toml:"backend" json:"backend" yaml:"backend"` // fs, s3, memory
	Root     string `mapstructure:"root" toml:"root" json:"root" yaml:"root"`             // fs: one directory per bucket under root
	Region   string `mapstructure:"region" toml:"region" json:"region" yaml:"region"`
	Endpoint string `mapstructure:"endpoint" toml:"endpoint" json:"endpoint" yaml:"endpoint"` // s3-compatible endpoint override
}

// PulseConfig configures the async job workers
type PulseConfig struct {
	Workers        int    `mapstructure:"workers" toml:"workers" json:"workers" yaml:"workers"` // 0 uses the default of one worker
	PollIntervalMS int    `mapstructure:"poll_interval_ms" toml:"poll_interval_ms" json:"poll_interval_ms" yaml:"poll_interval_ms"`
	Mode           string `mapstructure:"mode" toml:"mode" json:"mode" yaml:"mode"` // async (enqueue jobs) or direct (run inline)
}

// UploadConfig configures bulk loader pacing
type UploadConfig struct {
	Pacing        string  `mapstructure:"pacing" toml:"pacing" json:"pacing" yaml:"pacing"` // fixed, token-bucket, none
	DelayMS       int     `mapstructure:"delay_ms" toml:"delay_ms" json:"delay_ms" yaml:"delay_ms"`
	RatePerSecond float64 `mapstructure:"rate_per_second" toml:"rate_per_second" json:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `mapstructure:"burst" toml:"burst" json:"burst" yaml:"burst"`
}

// LogConfig configures logger output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json" json:"json" yaml:"json"`
}

// Counter backends
const (
	CounterSQLite   = "sqlite"
	CounterPostgres = "postgres"
	CounterDynamoDB = "dynamodb"
	CounterMemory   = "memory"
)

// Object store backends
const (
	ObjectStoreFS     = "fs"
	ObjectStoreS3     = "s3"
	ObjectStoreMemory = "memory"
)

// Pulse modes
const (
	ModeAsync  = "async"
	ModeDirect = "direct"
)

// Upload pacing strategies
const (
	PacingFixed       = "fixed"
	PacingTokenBucket = "token-bucket"
	PacingNone        = "none"
)

const (
	DefaultDirPermissions = 0755
	DefaultDatabasePath   = "nex.db"
)
