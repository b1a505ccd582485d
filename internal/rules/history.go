package rules

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hugamara/sheetaudit/internal/domain"
)

// HistoryProvider is the capability rules use to reach historical aggregates.
// Every method reports ok=false when there is no data for the item or vendor;
// rules treat that, and any lookup error, as "no signal" and skip the check.
type HistoryProvider interface {
	// AverageUnitCost returns the mean unit cost of an item over the window.
	AverageUnitCost(ctx context.Context, branch domain.Branch, item string, window time.Duration) (decimal.Decimal, bool, error)

	// OtherVendorPrices returns the latest unit cost per vendor other than
	// the given one, for the same item within the window.
	OtherVendorPrices(ctx context.Context, branch domain.Branch, item, vendor string, window time.Duration) (map[string]decimal.Decimal, error)

	// BurnRate returns the average quantity of an item consumed per day over
	// the window.
	BurnRate(ctx context.Context, branch domain.Branch, item string, window time.Duration) (decimal.Decimal, bool, error)

	// DeliveryShortfall returns the mean fraction by which a vendor's
	// deliveries fell short of the ordered quantity over the window.
	DeliveryShortfall(ctx context.Context, branch domain.Branch, vendor string, window time.Duration) (decimal.Decimal, bool, error)

	// LateDeliveries counts a vendor's deliveries that arrived after the
	// promised date within the window.
	LateDeliveries(ctx context.Context, branch domain.Branch, vendor string, window time.Duration) (int, bool, error)
}

// StaticHistory is an in-memory HistoryProvider keyed by item or vendor name.
// Lookups miss for anything not seeded, which rules read as no signal.
type StaticHistory struct {
	AverageCosts map[string]decimal.Decimal
	VendorPrices map[string]map[string]decimal.Decimal
	BurnRates    map[string]decimal.Decimal
	Shortfalls   map[string]decimal.Decimal
	LateCounts   map[string]int
}

func (h *StaticHistory) AverageUnitCost(_ context.Context, _ domain.Branch, item string, _ time.Duration) (decimal.Decimal, bool, error) {
	avg, ok := h.AverageCosts[item]
	return avg, ok, nil
}

func (h *StaticHistory) OtherVendorPrices(_ context.Context, _ domain.Branch, item, vendor string, _ time.Duration) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal)
	for v, price := range h.VendorPrices[item] {
		if v != vendor {
			prices[v] = price
		}
	}
	return prices, nil
}

func (h *StaticHistory) BurnRate(_ context.Context, _ domain.Branch, item string, _ time.Duration) (decimal.Decimal, bool, error) {
	rate, ok := h.BurnRates[item]
	return rate, ok, nil
}

func (h *StaticHistory) DeliveryShortfall(_ context.Context, _ domain.Branch, vendor string, _ time.Duration) (decimal.Decimal, bool, error) {
	frac, ok := h.Shortfalls[vendor]
	return frac, ok, nil
}

func (h *StaticHistory) LateDeliveries(_ context.Context, _ domain.Branch, vendor string, _ time.Duration) (int, bool, error) {
	count, ok := h.LateCounts[vendor]
	return count, ok, nil
}

var _ HistoryProvider = (*StaticHistory)(nil)
