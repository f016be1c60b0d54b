// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package catalogdb

import (
	"context"
	"database/sql"

	"github.com/barhop/barhop/catalog/costcontrol"
)

type costcontrolDB struct {
	db *DB
}

func scanBudget(row interface{ Scan(...interface{}) error }) (*costcontrol.Budget, error) {
	var budget costcontrol.Budget
	err := row.Scan(
		&budget.MonthYear, &budget.TotalBudget, &budget.CurrentSpent,
		&budget.AlertThreshold, &budget.EmergencyThreshold,
		&budget.EmergencyMode, &budget.AlertSent,
		&budget.CDNBandwidthUsed, &budget.CDNRequestsUsed,
	)
	if err != nil {
		return nil, err
	}
	return &budget, nil
}

const budgetColumns = `month_year, total_budget, current_spent,
	alert_threshold, emergency_threshold, emergency_mode, alert_sent,
	cdn_bandwidth_used, cdn_requests_used`

// EnsureBudget implements costcontrol.DB.
func (db *costcontrolDB) EnsureBudget(ctx context.Context, monthYear string, totalBudget, alertThreshold, emergencyThreshold float64) (_ *costcontrol.Budget, err error) {
	defer mon.Task()(&ctx)(&err)

	var budget *costcontrol.Budget
	err = db.db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO budgets (month_year, total_budget, alert_threshold, emergency_threshold)
			 VALUES (?, ?, ?, ?)`,
			monthYear, totalBudget, alertThreshold, emergencyThreshold); err != nil {
			return err
		}
		budget, err = scanBudget(tx.QueryRowContext(ctx,
			`SELECT `+budgetColumns+` FROM budgets WHERE month_year = ?`, monthYear))
		return err
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return budget, nil
}

// AddSpend implements costcontrol.DB. The increment and the read-back
// share one transaction so concurrent workers cannot lose spend.
func (db *costcontrolDB) AddSpend(ctx context.Context, monthYear string, cost float64) (_ *costcontrol.Budget, err error) {
	defer mon.Task()(&ctx)(&err)

	var budget *costcontrol.Budget
	err = db.db.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE budgets SET current_spent = current_spent + ? WHERE month_year = ?`,
			cost, monthYear)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return Error.New("no budget for %q", monthYear)
		}
		budget, err = scanBudget(tx.QueryRowContext(ctx,
			`SELECT `+budgetColumns+` FROM budgets WHERE month_year = ?`, monthYear))
		return err
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return budget, nil
}

// SetEmergencyMode implements costcontrol.DB.
func (db *costcontrolDB) SetEmergencyMode(ctx context.Context, monthYear string, on bool) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.db.ExecContext(ctx,
		`UPDATE budgets SET emergency_mode = ? WHERE month_year = ?`, on, monthYear)
	return Error.Wrap(err)
}

// SetAlertSent implements costcontrol.DB.
func (db *costcontrolDB) SetAlertSent(ctx context.Context, monthYear string) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.db.ExecContext(ctx,
		`UPDATE budgets SET alert_sent = 1 WHERE month_year = ?`, monthYear)
	return Error.Wrap(err)
}

// RecordOperation implements costcontrol.DB.
func (db *costcontrolDB) RecordOperation(ctx context.Context, op costcontrol.Operation) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.db.ExecContext(ctx,
		`INSERT INTO operations (type, estimated_cost, bytes, business_id, photo_id, storage_key, cdn_purged, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(op.Type), op.EstimatedCost, op.Bytes,
		op.BusinessID, op.PhotoID, op.StorageKey, op.CDNPurged, op.CreatedAt)
	return Error.Wrap(err)
}

// TotalOperationCost implements costcontrol.DB.
func (db *costcontrolDB) TotalOperationCost(ctx context.Context, monthYear string) (_ float64, err error) {
	defer mon.Task()(&ctx)(&err)

	var total float64
	err = db.db.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(estimated_cost), 0) FROM operations
		 WHERE substr(created_at, 1, 7) = ?`, monthYear).Scan(&total)
	return total, Error.Wrap(err)
}

// AddCDNUsage implements costcontrol.DB.
func (db *costcontrolDB) AddCDNUsage(ctx context.Context, monthYear string, bandwidth, requests int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.db.ExecContext(ctx,
		`UPDATE budgets SET
			cdn_bandwidth_used = cdn_bandwidth_used + ?,
			cdn_requests_used = cdn_requests_used + ?
		 WHERE month_year = ?`, bandwidth, requests, monthYear)
	return Error.Wrap(err)
}
