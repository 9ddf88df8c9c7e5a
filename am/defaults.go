package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("counter.backend", CounterSQLite)
	v.SetDefault("counter.dynamo_table", "names-table")
	v.SetDefault("counter.concurrency", 8)
	v.SetDefault("counter.max_attempts", 4)

	v.SetDefault("buckets.source", "nex-source")
	v.SetDefault("buckets.tags", "nex-tags")

	v.SetDefault("object_store.backend", ObjectStoreFS)
	v.SetDefault("object_store.root", "./buckets")
	v.SetDefault("object_store.region", "us-east-1")

	v.SetDefault("pulse.workers", 1)
	v.SetDefault("pulse.poll_interval_ms", 1000)
	v.SetDefault("pulse.mode", ModeAsync)

	v.SetDefault("upload.pacing", PacingFixed)
	v.SetDefault("upload.delay_ms", 100) // one file every 100ms
	v.SetDefault("upload.rate_per_second", 10.0)
	v.SetDefault("upload.burst", 1)

	v.SetDefault("log.json", false)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("counter.postgres_dsn", "NEX_COUNTER_POSTGRES_DSN")
}
