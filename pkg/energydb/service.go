// EnergyDB is the local time-series sink for interval results.
// It is an external collaborator from the core's point of view: writes
// are fire-and-forget and must never block or fail a recomputation.
package energydb

import (
	"database/sql"
	"embed"

	"github.com/NotCoffee418/dbmigrator"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

type DB struct {
	sql    *sql.DB
	logger *zap.Logger
}

// Open opens the sqlite database at path and applies migrations.
func Open(path string, logger *zap.Logger) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Verify connection
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, err
	}

	// Apply migrations
	dbmigrator.SetDatabaseType(dbmigrator.SQLite)
	<-dbmigrator.MigrateUpCh(
		sqlDB,
		migrationFS,
		"migrations",
	)

	return &DB{sql: sqlDB, logger: logger}, nil
}

func (d *DB) Close() error {
	return d.sql.Close()
}
