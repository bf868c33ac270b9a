package dex

import (
	"context"
	"fmt"
	"strings"

	"github.com/composable-labs/pablox/pkg/db"
	"github.com/composable-labs/pablox/pkg/db/clickhouse"
	"github.com/composable-labs/pablox/pkg/db/models/indexer"
	"go.uber.org/zap"
)

// DB is the ClickHouse database holding settlements, verdicts, pool snapshots and indexing
// progress. It implements db.Store.
type DB struct {
	clickhouse.Client
	Name string
}

var _ db.Store = (*DB)(nil)

// New connects to (and creates, when missing) the database name and its tables.
func New(ctx context.Context, logger *zap.Logger, name string, poolConfig *clickhouse.PoolConfig) (*DB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if poolConfig == nil {
		poolConfig = clickhouse.PoolConfigForComponent("")
	}
	client, err := clickhouse.New(ctx, logger.With(
		zap.String("db", name),
		zap.String("component", poolConfig.Component),
	), name, poolConfig)
	if err != nil {
		return nil, err
	}

	dexDB := &DB{Client: client, Name: client.Database}
	if err := dexDB.InitializeDB(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return dexDB, nil
}

type table struct {
	name    string
	columns []indexer.ColumnDef
	engine  string
	orderBy string
}

var tables = []table{
	{
		name:    indexer.SettlementsTableName,
		columns: indexer.SettlementColumns,
		engine:  clickhouse.ReplacingMergeTree + "(indexed_at)",
		orderBy: "(pool_id, height, event_index)",
	},
	{
		name:    indexer.VerificationsTableName,
		columns: indexer.VerificationColumns,
		engine:  clickhouse.ReplacingMergeTree + "(verified_at)",
		orderBy: "(pool_id, height, event_index)",
	},
	{
		name:    indexer.PoolSnapshotsTableName,
		columns: indexer.PoolSnapshotColumns,
		engine:  clickhouse.ReplacingMergeTree + "(snapshot_at)",
		orderBy: "(pool_id, height, source)",
	},
	{
		name:    indexer.IndexProgressTableName,
		columns: indexer.IndexProgressColumns,
		engine:  clickhouse.MergeTree + "()",
		orderBy: "(height)",
	},
}

// createTableSQL renders the CREATE TABLE statement of t in database.
func createTableSQL(database string, t table) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."%s" (
			%s
		) ENGINE = %s
		ORDER BY %s
	`, database, t.name, indexer.ColumnsToSchemaSQL(t.columns), t.engine, t.orderBy)
}

// insertSQL renders the batch INSERT prefix for t.
func insertSQL(database string, t table) string {
	return fmt.Sprintf(`INSERT INTO "%s"."%s" (%s) VALUES`,
		database, t.name, strings.Join(indexer.ColumnsToNameList(t.columns), ", "))
}

func tableByName(name string) table {
	for _, t := range tables {
		if t.name == name {
			return t
		}
	}
	panic("unknown table " + name)
}

// InitializeDB creates every table the indexer writes.
func (db *DB) InitializeDB(ctx context.Context) error {
	for _, t := range tables {
		if err := indexer.ValidateColumns(t.columns); err != nil {
			return fmt.Errorf("%s: %w", t.name, err)
		}
		db.Logger.Debug("Initialize table", zap.String("database", db.Name), zap.String("table", t.name))
		if err := db.Exec(ctx, createTableSQL(db.Name, t)); err != nil {
			return fmt.Errorf("create %s: %w", t.name, err)
		}
	}
	return nil
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.Db.Ping(ctx)
}

// Close terminates the underlying ClickHouse connection.
func (db *DB) Close() error {
	return db.Db.Close()
}
