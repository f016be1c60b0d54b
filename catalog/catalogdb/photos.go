// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"

	"github.com/zeebo/errs"

	"github.com/barhop/barhop/catalog/photos"
)

type photosDB struct {
	db *DB
}

// CountForBusiness implements photos.DB.
func (db *photosDB) CountForBusiness(ctx context.Context, businessID string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var count int64
	err = db.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM photos WHERE business_id = ?`, businessID).Scan(&count)
	return count, Error.Wrap(err)
}

// ListForBusiness implements photos.DB.
func (db *photosDB) ListForBusiness(ctx context.Context, businessID string) (_ []photos.Photo, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.db.QueryContext(ctx,
		`SELECT id, business_id, source, source_id, width, height, url,
			key_original, key_thumbnail, key_small, key_medium, key_large,
			main_photo, format, file_size, last_processed
		 FROM photos WHERE business_id = ?
		 ORDER BY main_photo DESC, last_processed ASC, id ASC`, businessID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var out []photos.Photo
	for rows.Next() {
		var photo photos.Photo
		if err := rows.Scan(
			&photo.ID, &photo.BusinessID, &photo.Source, &photo.SourceID,
			&photo.Width, &photo.Height, &photo.URL,
			&photo.KeyOriginal, &photo.KeyThumbnail, &photo.KeySmall, &photo.KeyMedium, &photo.KeyLarge,
			&photo.MainPhoto, &photo.Format, &photo.FileSize, &photo.LastProcessed,
		); err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, photo)
	}
	return out, Error.Wrap(rows.Err())
}

// BulkInsert implements photos.DB. Duplicates on
// (business_id, source_id) are skipped, not errors.
func (db *photosDB) BulkInsert(ctx context.Context, rows []photos.Photo) (inserted int, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.db.withTx(ctx, func(tx *sql.Tx) error {
		for _, photo := range rows {
			result, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO photos (
					id, business_id, source, source_id, width, height, url,
					key_original, key_thumbnail, key_small, key_medium, key_large,
					main_photo, format, file_size, last_processed
				 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				photo.ID, photo.BusinessID, string(photo.Source), photo.SourceID,
				photo.Width, photo.Height, photo.URL,
				photo.KeyOriginal, photo.KeyThumbnail, photo.KeySmall, photo.KeyMedium, photo.KeyLarge,
				photo.MainPhoto, photo.Format, photo.FileSize, photo.LastProcessed,
			)
			if err != nil {
				return err
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return err
			}
			inserted += int(affected)
		}
		return nil
	})
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return inserted, nil
}
