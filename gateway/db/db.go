// Package db provides GORM connection management for the gateway's primary
// store and its secondary replicas. Postgres is the production backend (it
// provides the advisory locks used by the sequencer); SQLite serves single
// instance deployments and tests.
package db

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pushchain/interaction-gateway/gateway/config"
	"github.com/pushchain/interaction-gateway/gateway/store"
)

const (
	// InMemorySQLiteDSN is a special DSN to create an ephemeral in-memory SQLite database.
	InMemorySQLiteDSN = ":memory:"

	// dbDirPermissions sets directory permissions to 750 (rwxr-x---).
	dbDirPermissions = 0o750
)

var (
	gormConfig = &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	// schemaModels lists the structs to be auto-migrated into the database.
	schemaModels = []any{
		&store.Interaction{},
		&store.BundleItem{},
		&store.Peer{},
		&store.NetworkState{},
		&store.SyncState{},
		&store.ReplicaFailure{},
	}
)

// DB wraps a GORM client and provides simplified DB lifecycle management.
type DB struct {
	client *gorm.DB
	driver string
}

// Open connects to the database described by cfg.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return openPostgres(cfg)
	case config.DriverSQLite, "":
		return openSQLite(cfg.DSN, cfg.MigrateOnStart)
	default:
		return nil, errors.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// OpenFileDB opens (or creates) a file-backed SQLite database located in the given directory.
// If `migrateSchema` is true, all defined schema models are automatically migrated.
func OpenFileDB(dir, filename string, migrateSchema bool) (*DB, error) {
	dsn, err := prepareFilePath(dir, filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare database path")
	}
	return openSQLite(dsn, migrateSchema)
}

// OpenInMemoryDB opens a non-persistent SQLite database in memory.
func OpenInMemoryDB(migrateSchema bool) (*DB, error) {
	return openSQLite(InMemorySQLiteDSN, migrateSchema)
}

// Wrap adopts an already opened GORM handle, e.g. one backed by sqlmock.
func Wrap(client *gorm.DB) *DB {
	return &DB{client: client, driver: client.Dialector.Name()}
}

func openPostgres(cfg config.DatabaseConfig) (*DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open Postgres database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxIdleSecs > 0 {
		sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleSecs) * time.Second)
	}

	d := &DB{client: db, driver: config.DriverPostgres}
	if cfg.MigrateOnStart {
		if err := d.Migrate(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// openSQLite creates a GORM-backed database instance using the given SQLite DSN.
func openSQLite(dsn string, migrateSchema bool) (*DB, error) {
	if dsn == "" {
		dsn = InMemorySQLiteDSN
	}
	if dsn != InMemorySQLiteDSN && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&cache=shared&mode=rwc"
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open SQLite database")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get underlying sql.DB")
	}
	// One connection: an in-memory database only exists on the connection that
	// created it, and SQLite serializes writers anyway.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	d := &DB{client: db, driver: config.DriverSQLite}
	if migrateSchema {
		if err := d.Migrate(); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Migrate creates or updates the gateway tables.
func (d *DB) Migrate() error {
	if err := d.client.AutoMigrate(schemaModels...); err != nil {
		return errors.Wrap(err, "failed to auto-migrate database schema")
	}
	return nil
}

// Client returns the internal *gorm.DB instance for direct usage in queries.
func (d *DB) Client() *gorm.DB {
	return d.client
}

// Driver reports which backend this handle talks to.
func (d *DB) Driver() string {
	return d.driver
}

// Close safely closes the underlying database connection.
func (d *DB) Close() error {
	sqlDB, err := d.client.DB()
	if err != nil {
		return errors.Wrap(err, "failed to retrieve native sql.DB")
	}

	if err := sqlDB.Close(); err != nil {
		return errors.Wrap(err, "failed to close database connection")
	}

	return nil
}

// prepareFilePath ensures the target directory exists and returns the full database file path.
func prepareFilePath(dir, filename string) (string, error) {
	if strings.Contains(dir, InMemorySQLiteDSN) {
		return dir, nil
	}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, dbDirPermissions); err != nil {
			return "", errors.Wrapf(err, "failed to create directory: %s", dir)
		}
	} else if err != nil {
		return "", errors.Wrap(err, "error checking directory")
	}

	return fmt.Sprintf("%s/%s", dir, filename), nil
}
