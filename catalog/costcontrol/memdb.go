// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package costcontrol

import (
	"context"
	"sync"
)

// MemDB is an in-memory ledger implementation used by tests and by
// tools that run without the catalog database.
type MemDB struct {
	mu         sync.Mutex
	budgets    map[string]*Budget
	operations []Operation
}

// NewMemDB creates an empty in-memory ledger.
func NewMemDB() *MemDB {
	return &MemDB{budgets: map[string]*Budget{}}
}

// EnsureBudget implements DB.
func (db *MemDB) EnsureBudget(ctx context.Context, monthYear string, totalBudget, alertThreshold, emergencyThreshold float64) (*Budget, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	budget, ok := db.budgets[monthYear]
	if !ok {
		budget = &Budget{
			MonthYear:          monthYear,
			TotalBudget:        totalBudget,
			AlertThreshold:     alertThreshold,
			EmergencyThreshold: emergencyThreshold,
		}
		db.budgets[monthYear] = budget
	}
	copied := *budget
	return &copied, nil
}

// AddSpend implements DB.
func (db *MemDB) AddSpend(ctx context.Context, monthYear string, cost float64) (*Budget, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	budget, ok := db.budgets[monthYear]
	if !ok {
		return nil, Error.New("no budget for %q", monthYear)
	}
	budget.CurrentSpent += cost
	copied := *budget
	return &copied, nil
}

// SetEmergencyMode implements DB.
func (db *MemDB) SetEmergencyMode(ctx context.Context, monthYear string, on bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	budget, ok := db.budgets[monthYear]
	if !ok {
		return Error.New("no budget for %q", monthYear)
	}
	budget.EmergencyMode = on
	return nil
}

// SetAlertSent implements DB.
func (db *MemDB) SetAlertSent(ctx context.Context, monthYear string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	budget, ok := db.budgets[monthYear]
	if !ok {
		return Error.New("no budget for %q", monthYear)
	}
	budget.AlertSent = true
	return nil
}

// RecordOperation implements DB.
func (db *MemDB) RecordOperation(ctx context.Context, op Operation) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.operations = append(db.operations, op)
	return nil
}

// TotalOperationCost implements DB.
func (db *MemDB) TotalOperationCost(ctx context.Context, monthYear string) (float64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var total float64
	for _, op := range db.operations {
		if MonthYear(op.CreatedAt) == monthYear {
			total += op.EstimatedCost
		}
	}
	return total, nil
}

// AddCDNUsage implements DB.
func (db *MemDB) AddCDNUsage(ctx context.Context, monthYear string, bandwidth, requests int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	budget, ok := db.budgets[monthYear]
	if !ok {
		return Error.New("no budget for %q", monthYear)
	}
	budget.CDNBandwidthUsed += bandwidth
	budget.CDNRequestsUsed += requests
	return nil
}

// Operations returns a copy of the operation log, for tests.
func (db *MemDB) Operations() []Operation {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]Operation{}, db.operations...)
}
