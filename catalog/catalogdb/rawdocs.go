// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/rawdocs"
)

type rawdocsDB struct {
	db *DB
}

// Upsert implements rawdocs.DB.
func (db *rawdocsDB) Upsert(ctx context.Context, source businesses.Source, sourceID string, document json.RawMessage) (err error) {
	defer mon.Task()(&ctx)(&err)

	now := time.Now().UTC()
	_, err = db.db.db.ExecContext(ctx,
		`INSERT INTO raw_businesses (source, source_id, document, first_seen, last_fetched)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (source, source_id) DO UPDATE SET
			document = excluded.document,
			last_fetched = excluded.last_fetched`,
		string(source), sourceID, string(document), now, now)
	return Error.Wrap(err)
}

// Get implements rawdocs.DB.
func (db *rawdocsDB) Get(ctx context.Context, source businesses.Source, sourceID string) (_ *rawdocs.RawBusiness, err error) {
	defer mon.Task()(&ctx)(&err)

	var raw rawdocs.RawBusiness
	var document string
	err = db.db.db.QueryRowContext(ctx,
		`SELECT source, source_id, document, first_seen, last_fetched
		 FROM raw_businesses WHERE source = ? AND source_id = ?`,
		string(source), sourceID,
	).Scan(&raw.Source, &raw.SourceID, &document, &raw.FirstSeen, &raw.LastFetched)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rawdocs.ErrNotFound.New("%s %s", source, sourceID)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	raw.Document = json.RawMessage(document)
	return &raw, nil
}
