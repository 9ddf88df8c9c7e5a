package counter

import (
	"context"
	"database/sql"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/teranos/nex/am"
	"github.com/teranos/nex/errors"
)

// Open builds the Store selected by cfg.Backend. sqliteDB is only used by the
// sqlite backend and may be nil otherwise. The returned close func releases
// backend resources it opened; it never closes sqliteDB.
func Open(ctx context.Context, cfg am.CounterConfig, region string, sqliteDB *sql.DB, log *zap.SugaredLogger) (Store, func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case am.CounterSQLite, "":
		if sqliteDB == nil {
			return nil, noop, errors.New("sqlite counter backend needs an open database")
		}
		return NewSQLiteStore(sqliteDB, log), noop, nil

	case am.CounterMemory:
		return NewMemoryStore(), noop, nil

	case am.CounterPostgres:
		pool, err := ConnectPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		store := NewPostgresStore(pool, log)
		if err := store.EnsureTable(ctx); err != nil {
			pool.Close()
			return nil, noop, err
		}
		return store, pool.Close, nil

	case am.CounterDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, noop, errors.Wrap(err, "failed to load AWS config")
		}
		return NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.DynamoTable, log), noop, nil
	}

	return nil, noop, errors.Newf("unknown counter backend %q", cfg.Backend)
}
