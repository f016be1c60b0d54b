// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/errs"

	"github.com/barhop/barhop/catalog/businesses"
	"github.com/barhop/barhop/catalog/match"
)

type businessesDB struct {
	db *DB
}

const businessColumns = `id, name, normalized_name, address, normalized_address,
	latitude, longitude, phone, normalized_phone, website, domain,
	is_bar, is_restaurant, categories, rating_google, rating_yelp, rating_overall,
	price_level, operating_hours, confidence, last_analyzed, created_at, updated_at`

func scanBusiness(row interface{ Scan(...interface{}) error }) (*businesses.Business, error) {
	var business businesses.Business
	var categories, hours string
	err := row.Scan(
		&business.ID, &business.Name, &business.NormalizedName,
		&business.Address, &business.NormalizedAddress,
		&business.Latitude, &business.Longitude,
		&business.Phone, &business.NormalizedPhone,
		&business.Website, &business.Domain,
		&business.IsBar, &business.IsRestaurant,
		&categories,
		&business.RatingGoogle, &business.RatingYelp, &business.RatingOverall,
		&business.PriceLevel, &hours, &business.Confidence,
		&business.LastAnalyzed, &business.CreatedAt, &business.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	business.Categories = unmarshalJSON(categories)
	business.OperatingHours = unmarshalJSON(hours)
	return &business, nil
}

// Get implements businesses.DB.
func (db *businessesDB) Get(ctx context.Context, id string) (_ *businesses.Business, err error) {
	defer mon.Task()(&ctx)(&err)

	business, err := scanBusiness(db.db.db.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, businesses.ErrNotFound.New("%s", id)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return business, nil
}

// GetBySource implements businesses.DB.
func (db *businessesDB) GetBySource(ctx context.Context, source businesses.Source, sourceID string) (_ *businesses.Business, err error) {
	defer mon.Task()(&ctx)(&err)

	business, err := scanBusiness(db.db.db.QueryRowContext(ctx,
		`SELECT `+businessColumns+` FROM businesses
		 WHERE id = (SELECT business_id FROM source_bindings WHERE source = ? AND source_id = ?)`,
		string(source), sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, businesses.ErrNotFound.New("%s %s", source, sourceID)
	}
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return business, nil
}

// Bindings implements businesses.DB.
func (db *businessesDB) Bindings(ctx context.Context, businessID string) (_ []businesses.SourceBinding, err error) {
	defer mon.Task()(&ctx)(&err)

	rows, err := db.db.db.QueryContext(ctx,
		`SELECT source, source_id, business_id, last_fetched
		 FROM source_bindings WHERE business_id = ? ORDER BY source, source_id`, businessID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var bindings []businesses.SourceBinding
	for rows.Next() {
		var binding businesses.SourceBinding
		if err := rows.Scan(&binding.Source, &binding.SourceID, &binding.BusinessID, &binding.LastFetched); err != nil {
			return nil, Error.Wrap(err)
		}
		bindings = append(bindings, binding)
	}
	return bindings, Error.Wrap(rows.Err())
}

// Search implements businesses.DB.
func (db *businessesDB) Search(ctx context.Context, criteria businesses.Criteria) (_ []businesses.Business, err error) {
	defer mon.Task()(&ctx)(&err)

	where, args := buildCriteria(criteria)
	query := `SELECT ` + businessColumns + ` FROM businesses` + where +
		` ORDER BY rating_overall DESC, name ASC`
	if criteria.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, criteria.Limit)
		if criteria.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, criteria.Offset)
		}
	}

	rows, err := db.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	var out []businesses.Business
	for rows.Next() {
		business, err := scanBusiness(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		// the bounding box over-selects near the radius edge
		if criteria.HasLocation && criteria.RadiusKm > 0 {
			if match.HaversineKm(criteria.Latitude, criteria.Longitude, business.Latitude, business.Longitude) > criteria.RadiusKm {
				continue
			}
		}
		out = append(out, *business)
	}
	return out, Error.Wrap(rows.Err())
}

// Count implements businesses.DB.
func (db *businessesDB) Count(ctx context.Context, criteria businesses.Criteria) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	criteria.Limit = 0
	criteria.Offset = 0
	if criteria.HasLocation && criteria.RadiusKm > 0 {
		// precise radius filtering happens in Go
		found, err := db.Search(ctx, criteria)
		if err != nil {
			return 0, err
		}
		return int64(len(found)), nil
	}

	where, args := buildCriteria(criteria)
	var count int64
	err = db.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM businesses`+where, args...).Scan(&count)
	return count, Error.Wrap(err)
}

func buildCriteria(criteria businesses.Criteria) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if criteria.Name != "" {
		clauses = append(clauses, `(name LIKE ? OR normalized_name LIKE ?)`)
		pattern := "%" + criteria.Name + "%"
		args = append(args, pattern, "%"+strings.ToLower(criteria.Name)+"%")
	}
	if criteria.HasLocation && criteria.RadiusKm > 0 {
		latDelta, lngDelta := boundingBox(criteria.Latitude, criteria.RadiusKm)
		clauses = append(clauses, `latitude BETWEEN ? AND ?`, `longitude BETWEEN ? AND ?`)
		args = append(args,
			criteria.Latitude-latDelta, criteria.Latitude+latDelta,
			criteria.Longitude-lngDelta, criteria.Longitude+lngDelta)
	}
	for _, category := range criteria.Categories {
		clauses = append(clauses, `categories LIKE ?`)
		args = append(args, `%"`+strings.ToLower(category)+`"%`)
	}
	if criteria.MinRating > 0 {
		clauses = append(clauses, `rating_overall >= ?`)
		args = append(args, criteria.MinRating)
	}
	if criteria.MaxPrice > 0 {
		clauses = append(clauses, `price_level > 0 AND price_level <= ?`)
		args = append(args, criteria.MaxPrice)
	}
	if criteria.IsBar != nil {
		clauses = append(clauses, `is_bar = ?`)
		args = append(args, *criteria.IsBar)
	}
	if criteria.IsRestaurant != nil {
		clauses = append(clauses, `is_restaurant = ?`)
		args = append(args, *criteria.IsRestaurant)
	}
	if criteria.WithPhotos {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM photos WHERE photos.business_id = businesses.id)`)
	}
	if criteria.WithDeals {
		clauses = append(clauses, `EXISTS (SELECT 1 FROM deals WHERE deals.business_id = businesses.id AND deals.is_active)`)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

const duplicateSearchRadiusKm = 1.0

// FindPotentialDuplicates implements businesses.DB. The bounding box
// over-selects; name/phone/domain overlap is checked in Go.
func (db *businessesDB) FindPotentialDuplicates(ctx context.Context, standardized businesses.Standardized) (_ []businesses.Business, err error) {
	defer mon.Task()(&ctx)(&err)

	latDelta, lngDelta := boundingBox(standardized.Latitude, duplicateSearchRadiusKm)
	rows, err := db.db.db.QueryContext(ctx,
		`SELECT `+businessColumns+` FROM businesses
		 WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?
		 ORDER BY id`,
		standardized.Latitude-latDelta, standardized.Latitude+latDelta,
		standardized.Longitude-lngDelta, standardized.Longitude+lngDelta)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { err = errs.Combine(err, rows.Close()) }()

	incomingWords := wordSet(standardized.NormalizedName)

	var out []businesses.Business
	for rows.Next() {
		business, err := scanBusiness(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if !overlaps(*business, standardized, incomingWords) {
			continue
		}
		out = append(out, *business)
		if len(out) == 20 {
			break
		}
	}
	return out, Error.Wrap(rows.Err())
}

func overlaps(business businesses.Business, standardized businesses.Standardized, incomingWords map[string]struct{}) bool {
	if standardized.NormalizedPhone != "" && business.NormalizedPhone == standardized.NormalizedPhone {
		return true
	}
	if standardized.Domain != "" && business.Domain == standardized.Domain {
		return true
	}
	for _, word := range strings.Fields(business.NormalizedName) {
		if _, ok := incomingWords[word]; ok {
			return true
		}
	}
	return false
}

func wordSet(name string) map[string]struct{} {
	words := map[string]struct{}{}
	for _, word := range strings.Fields(name) {
		words[word] = struct{}{}
	}
	return words
}

// boundingBox returns the lat/lng half-widths of a box covering the
// radius around the latitude.
func boundingBox(latitude, radiusKm float64) (latDelta, lngDelta float64) {
	latDelta = radiusKm / 111.0
	cos := math.Cos(latitude * math.Pi / 180)
	if cos < 0.01 {
		cos = 0.01
	}
	lngDelta = radiusKm / (111.0 * cos)
	return latDelta, lngDelta
}

// Create implements businesses.DB.
func (db *businessesDB) Create(ctx context.Context, standardized businesses.Standardized, confidence float64) (_ *businesses.Business, err error) {
	defer mon.Task()(&ctx)(&err)

	now := time.Now().UTC()
	business := businesses.FromStandardized(standardized, confidence, now)
	business.ID = uuid.NewString()

	err = db.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO businesses (`+businessColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			business.ID, business.Name, business.NormalizedName,
			business.Address, business.NormalizedAddress,
			business.Latitude, business.Longitude,
			business.Phone, business.NormalizedPhone,
			business.Website, business.Domain,
			business.IsBar, business.IsRestaurant,
			marshalJSON(business.Categories),
			business.RatingGoogle, business.RatingYelp, business.RatingOverall,
			business.PriceLevel, marshalJSON(business.OperatingHours),
			business.Confidence, business.LastAnalyzed, business.CreatedAt, business.UpdatedAt,
		); err != nil {
			return err
		}
		return upsertBinding(ctx, tx, standardized.Source, standardized.SourceID, business.ID, now)
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &business, nil
}

// Update implements businesses.DB. Confidence never goes down.
func (db *businessesDB) Update(ctx context.Context, id string, standardized businesses.Standardized, confidence float64) (_ *businesses.Business, err error) {
	defer mon.Task()(&ctx)(&err)

	now := time.Now().UTC()
	err = db.db.withTx(ctx, func(tx *sql.Tx) error {
		updated := businesses.FromStandardized(standardized, confidence, now)
		result, err := tx.ExecContext(ctx,
			`UPDATE businesses SET
				name = ?, normalized_name = ?, address = ?, normalized_address = ?,
				latitude = ?, longitude = ?, phone = ?, normalized_phone = ?,
				website = ?, domain = ?, is_bar = ?, is_restaurant = ?,
				categories = ?, rating_google = ?, rating_yelp = ?, rating_overall = ?,
				price_level = ?, operating_hours = ?,
				confidence = MAX(confidence, ?), last_analyzed = ?, updated_at = ?
			 WHERE id = ?`,
			updated.Name, updated.NormalizedName, updated.Address, updated.NormalizedAddress,
			updated.Latitude, updated.Longitude, updated.Phone, updated.NormalizedPhone,
			updated.Website, updated.Domain, updated.IsBar, updated.IsRestaurant,
			marshalJSON(updated.Categories),
			updated.RatingGoogle, updated.RatingYelp, updated.RatingOverall,
			updated.PriceLevel, marshalJSON(updated.OperatingHours),
			confidence, now, now, id,
		)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return businesses.ErrNotFound.New("%s", id)
		}
		return upsertBinding(ctx, tx, standardized.Source, standardized.SourceID, id, now)
	})
	if err != nil {
		if businesses.ErrNotFound.Has(err) {
			return nil, err
		}
		return nil, Error.Wrap(err)
	}
	return db.Get(ctx, id)
}

// Merge implements businesses.DB using the intelligent-merge rules.
func (db *businessesDB) Merge(ctx context.Context, id string, standardized businesses.Standardized, confidence float64) (_ *businesses.Business, err error) {
	defer mon.Task()(&ctx)(&err)

	now := time.Now().UTC()
	var merged businesses.Business
	err = db.db.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanBusiness(tx.QueryRowContext(ctx,
			`SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return businesses.ErrNotFound.New("%s", id)
		}
		if err != nil {
			return err
		}

		merged = businesses.Merge(*existing, standardized, confidence, now)
		if _, err := tx.ExecContext(ctx,
			`UPDATE businesses SET
				name = ?, normalized_name = ?, address = ?, normalized_address = ?,
				latitude = ?, longitude = ?, phone = ?, normalized_phone = ?,
				website = ?, domain = ?, is_bar = ?, is_restaurant = ?,
				categories = ?, rating_google = ?, rating_yelp = ?, rating_overall = ?,
				price_level = ?, operating_hours = ?,
				confidence = ?, last_analyzed = ?, updated_at = ?
			 WHERE id = ?`,
			merged.Name, merged.NormalizedName, merged.Address, merged.NormalizedAddress,
			merged.Latitude, merged.Longitude, merged.Phone, merged.NormalizedPhone,
			merged.Website, merged.Domain, merged.IsBar, merged.IsRestaurant,
			marshalJSON(merged.Categories),
			merged.RatingGoogle, merged.RatingYelp, merged.RatingOverall,
			merged.PriceLevel, marshalJSON(merged.OperatingHours),
			merged.Confidence, now, now, id,
		); err != nil {
			return err
		}
		return upsertBinding(ctx, tx, standardized.Source, standardized.SourceID, id, now)
	})
	if err != nil {
		if businesses.ErrNotFound.Has(err) {
			return nil, err
		}
		return nil, Error.Wrap(err)
	}
	return db.Get(ctx, id)
}

func upsertBinding(ctx context.Context, tx *sql.Tx, source businesses.Source, sourceID, businessID string, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO source_bindings (source, source_id, business_id, last_fetched)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (source, source_id) DO UPDATE SET
			business_id = excluded.business_id,
			last_fetched = excluded.last_fetched`,
		string(source), sourceID, businessID, now)
	return err
}
