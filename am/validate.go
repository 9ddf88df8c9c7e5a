package am

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/teranos/nex/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Counter.Backend {
	case CounterSQLite, CounterMemory:
	case CounterPostgres:
		if c.Counter.PostgresDSN == "" {
			return errors.WithHint(
				errors.New("counter.postgres_dsn cannot be empty when counter.backend is postgres"),
				"set NEX_COUNTER_POSTGRES_DSN")
		}
	case CounterDynamoDB:
		if c.Counter.DynamoTable == "" {
			return errors.New("counter.dynamo_table cannot be empty when counter.backend is dynamodb")
		}
	default:
		return errors.Newf("counter.backend must be one of sqlite, postgres, dynamodb, memory, got %q", c.Counter.Backend)
	}

	// 0 means "use the default" for both
	if c.Counter.Concurrency < 0 {
		return errors.Newf("counter.concurrency must be >= 0, got %d", c.Counter.Concurrency)
	}
	if c.Counter.MaxAttempts < 0 {
		return errors.Newf("counter.max_attempts must be >= 0, got %d", c.Counter.MaxAttempts)
	}

	if c.Buckets.Source == "" || c.Buckets.Tags == "" {
		return errors.New("buckets.source and buckets.tags must both be set")
	}
	if c.Buckets.Source == c.Buckets.Tags {
		return errors.Newf("buckets.source and buckets.tags must differ, both are %q", c.Buckets.Source)
	}

	switch c.ObjectStore.Backend {
	case ObjectStoreFS:
		if c.ObjectStore.Root == "" {
			return errors.New("object_store.root cannot be empty when object_store.backend is fs")
		}
	case ObjectStoreS3, ObjectStoreMemory:
	default:
		return errors.Newf("object_store.backend must be one of fs, s3, memory, got %q", c.ObjectStore.Backend)
	}

	// Pulse workers: 0 = no background workers, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.PollIntervalMS < 0 {
		return errors.Newf("pulse.poll_interval_ms must be >= 0, got %d", c.Pulse.PollIntervalMS)
	}
	switch c.Pulse.Mode {
	case ModeAsync, ModeDirect, "":
	default:
		return errors.Newf("pulse.mode must be async or direct, got %q", c.Pulse.Mode)
	}

	switch c.Upload.Pacing {
	case PacingFixed:
		if c.Upload.DelayMS < 0 {
			return errors.Newf("upload.delay_ms must be >= 0, got %d", c.Upload.DelayMS)
		}
	case PacingTokenBucket:
		if c.Upload.RatePerSecond <= 0 {
			return errors.Newf("upload.rate_per_second must be > 0 for token-bucket pacing, got %f", c.Upload.RatePerSecond)
		}
		if c.Upload.Burst < 1 {
			return errors.Newf("upload.burst must be >= 1 for token-bucket pacing, got %d", c.Upload.Burst)
		}
	case PacingNone:
	default:
		return errors.Newf("upload.pacing must be one of fixed, token-bucket, none, got %q", c.Upload.Pacing)
	}

	return nil
}

// CheckFile strictly decodes a TOML config file and reports keys that do not
// map to any Config field. Viper silently ignores those, so typos go unnoticed.
func CheckFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	var cfg Config
	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}

	var unknown []string
	for _, key := range meta.Undecoded() {
		unknown = append(unknown, key.String())
	}
	return unknown, nil
}
