package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hugamara/sheetaudit/internal/domain"
	"github.com/hugamara/sheetaudit/internal/rules"
)

// historyRepository serves the rule engine's historical aggregates and records
// new observations from completed extractions. Aggregates that have no data
// report ok=false so rules skip the check instead of comparing against zero.
type historyRepository struct {
	pool *pgxpool.Pool
}

// NewHistoryRepository wires the history store backed by pgxpool.
func NewHistoryRepository(pool *pgxpool.Pool) HistoryStore {
	return &historyRepository{pool: pool}
}

func (r *historyRepository) AverageUnitCost(ctx context.Context, branch domain.Branch, item string, window time.Duration) (decimal.Decimal, bool, error) {
	if r.pool == nil {
		return decimal.Zero, false, fmt.Errorf("history repository not initialized")
	}

	var avg *float64
	err := r.pool.QueryRow(
		ctx,
		`SELECT AVG(unit_cost)::float8
		 FROM item_price_history
		 WHERE branch = $1 AND item = $2 AND observed_at >= $3`,
		string(branch),
		item,
		time.Now().UTC().Add(-window),
	).Scan(&avg)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to query average unit cost: %w", err)
	}
	if avg == nil {
		return decimal.Zero, false, nil
	}

	return decimal.NewFromFloat(*avg), true, nil
}

func (r *historyRepository) OtherVendorPrices(ctx context.Context, branch domain.Branch, item, vendor string, window time.Duration) (map[string]decimal.Decimal, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("history repository not initialized")
	}

	rows, err := r.pool.Query(
		ctx,
		`SELECT DISTINCT ON (vendor) vendor, unit_cost::float8
		 FROM item_price_history
		 WHERE branch = $1 AND item = $2 AND vendor <> $3 AND observed_at >= $4
		 ORDER BY vendor, observed_at DESC`,
		string(branch),
		item,
		vendor,
		time.Now().UTC().Add(-window),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query vendor prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[string]decimal.Decimal)
	for rows.Next() {
		var (
			name string
			cost float64
		)
		if scanErr := rows.Scan(&name, &cost); scanErr != nil {
			return nil, fmt.Errorf("failed to scan vendor price: %w", scanErr)
		}
		prices[name] = decimal.NewFromFloat(cost)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("failed to iterate vendor prices: %w", rowsErr)
	}

	return prices, nil
}

func (r *historyRepository) BurnRate(ctx context.Context, branch domain.Branch, item string, window time.Duration) (decimal.Decimal, bool, error) {
	if r.pool == nil {
		return decimal.Zero, false, fmt.Errorf("history repository not initialized")
	}

	days := window.Hours() / 24
	if days <= 0 {
		return decimal.Zero, false, nil
	}

	var total *float64
	err := r.pool.QueryRow(
		ctx,
		`SELECT SUM(issued)::float8
		 FROM stock_movement_history
		 WHERE branch = $1 AND item = $2 AND observed_at >= $3`,
		string(branch),
		item,
		time.Now().UTC().Add(-window),
	).Scan(&total)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to query stock movements: %w", err)
	}
	if total == nil || *total <= 0 {
		return decimal.Zero, false, nil
	}

	rate := decimal.NewFromFloat(*total).Div(decimal.NewFromFloat(days))
	return rate, true, nil
}

func (r *historyRepository) DeliveryShortfall(ctx context.Context, branch domain.Branch, vendor string, window time.Duration) (decimal.Decimal, bool, error) {
	if r.pool == nil {
		return decimal.Zero, false, fmt.Errorf("history repository not initialized")
	}

	var avg *float64
	err := r.pool.QueryRow(
		ctx,
		`SELECT AVG(1.0 - delivered_quantity / NULLIF(ordered_quantity, 0))::float8
		 FROM vendor_deliveries
		 WHERE branch = $1 AND vendor = $2 AND ordered_at >= $3`,
		string(branch),
		vendor,
		time.Now().UTC().Add(-window),
	).Scan(&avg)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("failed to query delivery shortfall: %w", err)
	}
	if avg == nil {
		return decimal.Zero, false, nil
	}

	return decimal.NewFromFloat(*avg), true, nil
}

func (r *historyRepository) LateDeliveries(ctx context.Context, branch domain.Branch, vendor string, window time.Duration) (int, bool, error) {
	if r.pool == nil {
		return 0, false, fmt.Errorf("history repository not initialized")
	}

	var count int
	var any bool
	err := r.pool.QueryRow(
		ctx,
		`SELECT COUNT(*) FILTER (WHERE delivered_at > promised_at), COUNT(*) > 0
		 FROM vendor_deliveries
		 WHERE branch = $1 AND vendor = $2 AND ordered_at >= $3 AND delivered_at IS NOT NULL`,
		string(branch),
		vendor,
		time.Now().UTC().Add(-window),
	).Scan(&count, &any)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to query late deliveries: %w", err)
	}

	return count, any, nil
}

func (r *historyRepository) RecordPrices(ctx context.Context, observations []PriceObservation) error {
	if r.pool == nil {
		return fmt.Errorf("history repository not initialized")
	}

	for _, obs := range observations {
		_, err := r.pool.Exec(
			ctx,
			`INSERT INTO item_price_history (branch, item, vendor, unit_cost, observed_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			string(obs.Branch),
			obs.Item,
			obs.Vendor,
			obs.UnitCost,
			obs.ObservedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record price observation: %w", err)
		}
	}

	return nil
}

func (r *historyRepository) RecordStockMovements(ctx context.Context, observations []StockObservation) error {
	if r.pool == nil {
		return fmt.Errorf("history repository not initialized")
	}

	for _, obs := range observations {
		_, err := r.pool.Exec(
			ctx,
			`INSERT INTO stock_movement_history (branch, item, issued, observed_at)
			 VALUES ($1, $2, $3, $4)`,
			string(obs.Branch),
			obs.Item,
			obs.Issued,
			obs.ObservedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to record stock observation: %w", err)
		}
	}

	return nil
}

var (
	_ rules.HistoryProvider = (*historyRepository)(nil)
	_ HistoryRepository     = (*historyRepository)(nil)
)
