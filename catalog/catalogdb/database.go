// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

// Package catalogdb implements every catalog repository interface on
// a single sqlite database.
package catalogdb

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/costcontrol"
	"github.com/barhop/barhop/catalog/deals"
	"github.com/barhop/barhop/catalog/photos"
	"github.com/barhop/barhop/catalog/rawdocs"
)

var (
	// Error is the default catalogdb errs class.
	Error = errs.Class("catalogdb")

	mon = monkit.Package()
)

// Config contains configurable values for the catalog database.
type Config struct {
	Path string `help:"path of the sqlite database file" default:"$CONFDIR/catalog.db"`
}

// DB gives access to the catalog database.
type DB struct {
	log *zap.Logger
	db  *sql.DB
}

// Open connects to the sqlite database at path. Use ":memory:" for an
// ephemeral database in tests.
func Open(log *zap.Logger, path string) (*DB, error) {
	handle, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, Error.Wrap(err)
	}
	// sqlite serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent workers
	handle.SetMaxOpenConns(1)
	return &DB{log: log, db: handle}, nil
}

// Close releases the underlying handle.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

// Businesses returns the catalog repository.
func (db *DB) Businesses() businesses.DB { return &businessesDB{db: db} }

// RawDocs returns the raw snapshot store.
func (db *DB) RawDocs() rawdocs.DB { return &rawdocsDB{db: db} }

// Photos returns the photo store.
func (db *DB) Photos() photos.DB { return &photosDB{db: db} }

// Deals returns the deal store.
func (db *DB) Deals() deals.DB { return &dealsDB{db: db} }

// CostControl returns the budget ledger.
func (db *DB) CostControl() costcontrol.DB { return &costcontrolDB{db: db} }

// MigrateToLatest creates the schema.
func (db *DB) MigrateToLatest(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS raw_businesses (
			source       TEXT NOT NULL,
			source_id    TEXT NOT NULL,
			document     TEXT NOT NULL,
			first_seen   TIMESTAMP NOT NULL,
			last_fetched TIMESTAMP NOT NULL,
			PRIMARY KEY (source, source_id)
		);

		CREATE TABLE IF NOT EXISTS businesses (
			id                 TEXT PRIMARY KEY,
			name               TEXT NOT NULL,
			normalized_name    TEXT NOT NULL,
			address            TEXT NOT NULL DEFAULT '',
			normalized_address TEXT NOT NULL DEFAULT '',
			latitude           REAL NOT NULL DEFAULT 0,
			longitude          REAL NOT NULL DEFAULT 0,
			phone              TEXT NOT NULL DEFAULT '',
			normalized_phone   TEXT NOT NULL DEFAULT '',
			website            TEXT NOT NULL DEFAULT '',
			domain             TEXT NOT NULL DEFAULT '',
			is_bar             INTEGER NOT NULL DEFAULT 0,
			is_restaurant      INTEGER NOT NULL DEFAULT 0,
			categories         TEXT NOT NULL DEFAULT '[]',
			rating_google      REAL NOT NULL DEFAULT 0,
			rating_yelp        REAL NOT NULL DEFAULT 0,
			rating_overall     REAL NOT NULL DEFAULT 0,
			price_level        INTEGER NOT NULL DEFAULT 0,
			operating_hours    TEXT NOT NULL DEFAULT '[]',
			confidence         REAL NOT NULL DEFAULT 0,
			last_analyzed      TIMESTAMP NOT NULL,
			created_at         TIMESTAMP NOT NULL,
			updated_at         TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS businesses_location ON businesses (latitude, longitude);
		CREATE INDEX IF NOT EXISTS businesses_normalized_name ON businesses (normalized_name);

		CREATE TABLE IF NOT EXISTS source_bindings (
			source       TEXT NOT NULL,
			source_id    TEXT NOT NULL,
			business_id  TEXT NOT NULL REFERENCES businesses (id) ON DELETE CASCADE,
			last_fetched TIMESTAMP NOT NULL,
			PRIMARY KEY (source, source_id)
		);
		CREATE INDEX IF NOT EXISTS source_bindings_business ON source_bindings (business_id);

		CREATE TABLE IF NOT EXISTS photos (
			id             TEXT PRIMARY KEY,
			business_id    TEXT NOT NULL REFERENCES businesses (id) ON DELETE CASCADE,
			source         TEXT NOT NULL,
			source_id      TEXT NOT NULL,
			width          INTEGER NOT NULL DEFAULT 0,
			height         INTEGER NOT NULL DEFAULT 0,
			url            TEXT NOT NULL,
			key_original   TEXT NOT NULL DEFAULT '',
			key_thumbnail  TEXT NOT NULL DEFAULT '',
			key_small      TEXT NOT NULL DEFAULT '',
			key_medium     TEXT NOT NULL DEFAULT '',
			key_large      TEXT NOT NULL DEFAULT '',
			main_photo     INTEGER NOT NULL DEFAULT 0,
			format         TEXT NOT NULL DEFAULT '',
			file_size      INTEGER NOT NULL DEFAULT 0,
			last_processed TIMESTAMP NOT NULL,
			UNIQUE (business_id, source_id)
		);

		CREATE TABLE IF NOT EXISTS deals (
			id           TEXT PRIMARY KEY,
			business_id  TEXT NOT NULL REFERENCES businesses (id) ON DELETE CASCADE,
			day_of_week  INTEGER,
			start_time   TEXT NOT NULL DEFAULT '',
			end_time     TEXT NOT NULL DEFAULT '',
			title        TEXT NOT NULL,
			description  TEXT NOT NULL DEFAULT '',
			extracted_by TEXT NOT NULL DEFAULT '',
			confidence   REAL NOT NULL DEFAULT 0,
			source_text  TEXT NOT NULL DEFAULT '',
			is_active    INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS deals_business ON deals (business_id);

		CREATE TABLE IF NOT EXISTS operations (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			type           TEXT NOT NULL,
			estimated_cost REAL NOT NULL DEFAULT 0,
			bytes          INTEGER NOT NULL DEFAULT 0,
			business_id    TEXT NOT NULL DEFAULT '',
			photo_id       TEXT NOT NULL DEFAULT '',
			storage_key    TEXT NOT NULL DEFAULT '',
			cdn_purged     INTEGER NOT NULL DEFAULT 0,
			created_at     TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS budgets (
			month_year          TEXT PRIMARY KEY,
			total_budget        REAL NOT NULL,
			current_spent       REAL NOT NULL DEFAULT 0,
			alert_threshold     REAL NOT NULL DEFAULT 0.80,
			emergency_threshold REAL NOT NULL DEFAULT 0.95,
			emergency_mode      INTEGER NOT NULL DEFAULT 0,
			alert_sent          INTEGER NOT NULL DEFAULT 0,
			cdn_bandwidth_used  INTEGER NOT NULL DEFAULT 0,
			cdn_requests_used   INTEGER NOT NULL DEFAULT 0
		);
	`)
	return Error.Wrap(err)
}

// withTx runs fn inside a transaction, rolling back on error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, tx.Rollback())
			return
		}
		err = Error.Wrap(tx.Commit())
	}()
	return fn(tx)
}

func marshalJSON(values []string) string {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func unmarshalJSON(data string) []string {
	var values []string
	if err := json.Unmarshal([]byte(data), &values); err != nil {
		return nil
	}
	return values
}
