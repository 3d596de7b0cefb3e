package sqlite

import (
	"context"
	"database/sql"
)

// RunMigrate runs migration on a database (exported for testing)
func RunMigrate(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db)
}

// RunMigrateV1 runs v1 migration on a database (exported for testing)
func RunMigrateV1(ctx context.Context, db *sql.DB) error {
	return apply(ctx, db, 1)
}

// NewFromDB creates a store from an existing db connection (exported for testing)
func NewFromDB(db *sql.DB) (*Store, error) {
	return newFromDB(db, defaultConfig())
}

// GetDB exposes the underlying connection (exported for testing)
func (s *Store) GetDB() *sql.DB {
	return s.db
}

// SetDBOpener replaces the database opener (exported for testing)
func SetDBOpener(opener func(driverName, dataSourceName string) (*sql.DB, error)) {
	dbOpener = opener
}

// ResetDBOpener restores the default database opener (exported for testing)
func ResetDBOpener() {
	dbOpener = sql.Open
}

// ScanMessages exposes scanMessages (exported for testing)
func ScanMessages(rows rowScanner) (int, error) {
	msgs, err := scanMessages(rows)
	return len(msgs), err
}
