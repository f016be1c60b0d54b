// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/zeebo/errs"

	"github.com/barhop/barhop/catalog/deals"
)

type dealsDB struct {
	db *DB
}

// CountForBusiness implements deals.DB.
func (db *dealsDB) CountForBusiness(ctx context.Context, businessID string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	var count int64
	err = db.db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deals WHERE business_id = ?`, businessID).Scan(&count)
	return count, Error.Wrap(err)
}

// ListForBusiness implements deals.DB.
func (db *dealsDB) ListForBusiness(ctx context.Context, businessID string) (_ []deals.Deal, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.db.QueryContext(ctx,
		`SELECT id, business_id, day_of_week, start_time, end_time,
			title, description, extracted_by, confidence, source_text, is_active
		 FROM deals WHERE business_id = ? AND is_active
		 ORDER BY day_of_week, start_time`, businessID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var out []deals.Deal
	for rows.Next() {
		var deal deals.Deal
		var day sql.NullInt64
		if err := rows.Scan(
			&deal.ID, &deal.BusinessID, &day, &deal.StartTime, &deal.EndTime,
			&deal.Title, &deal.Description, &deal.ExtractedBy,
			&deal.Confidence, &deal.SourceText, &deal.IsActive,
		); err != nil {
			return nil, Error.Wrap(err)
		}
		if day.Valid {
			weekday := time.Weekday(day.Int64)
			deal.DayOfWeek = &weekday
		}
		out = append(out, deal)
	}
	return out, Error.Wrap(rows.Err())
}

// BulkInsert implements deals.DB.
func (db *dealsDB) BulkInsert(ctx context.Context, rows []deals.Deal) (inserted int, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.db.withTx(ctx, func(tx *sql.Tx) error {
		for _, deal := range rows {
			var day interface{}
			if deal.DayOfWeek != nil {
				day = int64(*deal.DayOfWeek)
			}
			result, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO deals (
					id, business_id, day_of_week, start_time, end_time,
					title, description, extracted_by, confidence, source_text, is_active
				 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				deal.ID, deal.BusinessID, day, deal.StartTime, deal.EndTime,
				deal.Title, deal.Description, deal.ExtractedBy,
				deal.Confidence, deal.SourceText, deal.IsActive,
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
