// Package rules evaluates extracted rows against historical aggregates and
// flags business anomalies as severity-tagged alerts.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hugamara/sheetaudit/internal/domain"
)

// Tuning thresholds. Any change here is a design change; no other component
// carries numeric anomaly thresholds.
var (
	priceSpikeFactor  = decimal.NewFromFloat(1.15)
	crossVendorFactor = decimal.NewFromFloat(1.20)
	stockoutDays      = decimal.NewFromInt(2)
	excessDays        = decimal.NewFromInt(15)
	shortfallFraction = decimal.NewFromFloat(0.10)
)

const (
	lateDeliveryLimit = 3
	historyWindow     = 30 * 24 * time.Hour
)

// Row is the canonical view of one extracted data row, as far as the rule
// engine cares about it. Absent fields are marked by the Has flags.
type Row struct {
	Item        string
	Vendor      string
	UnitCost    decimal.Decimal
	HasUnitCost bool
	Quantity    decimal.Decimal
	HasQuantity bool
}

// Input carries everything a rule may consult. Rules never mutate it.
type Input struct {
	Branch  domain.Branch
	Rows    []Row
	History HistoryProvider
}

// Rule is one independent anomaly check. Implementations are pure: same input,
// same alerts, no side effects, and no rule short-circuits another.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, in Input) []domain.Alert
}

// Engine runs a fixed set of rules and accumulates their alerts.
type Engine struct {
	rules []Rule
}

// NewEngine builds the default rule set.
func NewEngine() *Engine {
	return &Engine{rules: []Rule{
		priceSpikeRule{},
		crossVendorRule{},
		stockoutRule{},
		excessStockRule{},
		procurementFlagsRule{},
	}}
}

// NewEngineWith builds an engine over an explicit rule set.
func NewEngineWith(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate runs every rule over the input. Alert order follows rule
// registration order but carries no meaning; rules are independent.
func (e *Engine) Evaluate(ctx context.Context, in Input) []domain.Alert {
	alerts := []domain.Alert{}
	for _, rule := range e.rules {
		alerts = append(alerts, rule.Evaluate(ctx, in)...)
	}
	return alerts
}

// priceSpikeRule flags unit costs above 1.15x the 30-day average.
type priceSpikeRule struct{}

func (priceSpikeRule) Name() string { return "price_spike" }

func (priceSpikeRule) Evaluate(ctx context.Context, in Input) []domain.Alert {
	var alerts []domain.Alert
	for _, row := range in.Rows {
		if row.Item == "" || !row.HasUnitCost {
			continue
		}
		avg, ok, err := in.History.AverageUnitCost(ctx, in.Branch, row.Item, historyWindow)
		if err != nil || !ok || !avg.IsPositive() {
			continue
		}
		if row.UnitCost.GreaterThan(avg.Mul(priceSpikeFactor)) {
			delta := row.UnitCost.Sub(avg).Div(avg).Mul(decimal.NewFromInt(100))
			alerts = append(alerts, domain.NewAlert(domain.SeverityCritical,
				fmt.Sprintf("Price spike: %s up %.1f%% vs 30-day average", row.Item, delta.InexactFloat64())))
		}
	}
	return alerts
}

// crossVendorRule flags unit costs more than 1.20x another vendor's price for
// the same item.
type crossVendorRule struct{}

func (crossVendorRule) Name() string { return "cross_vendor_delta" }

func (crossVendorRule) Evaluate(ctx context.Context, in Input) []domain.Alert {
	var alerts []domain.Alert
	for _, row := range in.Rows {
		if row.Item == "" || !row.HasUnitCost {
			continue
		}
		prices, err := in.History.OtherVendorPrices(ctx, in.Branch, row.Item, row.Vendor, historyWindow)
		if err != nil {
			continue
		}
		for other, price := range prices {
			if !price.IsPositive() {
				continue
			}
			if row.UnitCost.GreaterThan(price.Mul(crossVendorFactor)) {
				alerts = append(alerts, domain.NewAlert(domain.SeverityWarning,
					fmt.Sprintf("Market delta: %s is 20%%+ higher than %s for %s", vendorLabel(row.Vendor), other, row.Item)))
				break
			}
		}
	}
	return alerts
}

func vendorLabel(vendor string) string {
	if vendor == "" {
		return "current vendor"
	}
	return vendor
}

// stockoutRule flags items whose stock covers fewer than two days of demand.
type stockoutRule struct{}

func (stockoutRule) Name() string { return "stockout_risk" }

func (stockoutRule) Evaluate(ctx context.Context, in Input) []domain.Alert {
	var alerts []domain.Alert
	for _, row := range in.Rows {
		if days, ok := coverageDays(ctx, in, row); ok && days.LessThan(stockoutDays) {
			alerts = append(alerts, domain.NewAlert(domain.SeverityCritical,
				fmt.Sprintf("Stockout risk: %s will deplete in %.1f days", row.Item, days.InexactFloat64())))
		}
	}
	return alerts
}

// excessStockRule flags items whose stock exceeds fifteen days of demand.
type excessStockRule struct{}

func (excessStockRule) Name() string { return "excess_stock" }

func (excessStockRule) Evaluate(ctx context.Context, in Input) []domain.Alert {
	var alerts []domain.Alert
	for _, row := range in.Rows {
		if days, ok := coverageDays(ctx, in, row); ok && days.GreaterThan(excessDays) {
			alerts = append(alerts, domain.NewAlert(domain.SeverityInfo,
				fmt.Sprintf("Excess stock: %s covers %.1f days, above the 15-day demand window", row.Item, days.InexactFloat64())))
		}
	}
	return alerts
}

func coverageDays(ctx context.Context, in Input, row Row) (decimal.Decimal, bool) {
	if row.Item == "" || !row.HasQuantity {
		return decimal.Zero, false
	}
	rate, ok, err := in.History.BurnRate(ctx, in.Branch, row.Item, historyWindow)
	if err != nil || !ok || !rate.IsPositive() {
		return decimal.Zero, false
	}
	return row.Quantity.Div(rate), true
}

// procurementFlagsRule covers delivery-quantity shortfalls and recurring
// vendor lateness. Both aggregates come from the history seam; with nothing
// recorded the rule stays silent.
type procurementFlagsRule struct{}

func (procurementFlagsRule) Name() string { return "procurement_flags" }

func (procurementFlagsRule) Evaluate(ctx context.Context, in Input) []domain.Alert {
	var alerts []domain.Alert
	for _, vendor := range distinctVendors(in.Rows) {
		shortfall, ok, err := in.History.DeliveryShortfall(ctx, in.Branch, vendor, historyWindow)
		if err == nil && ok && shortfall.GreaterThanOrEqual(shortfallFraction) {
			alerts = append(alerts, domain.NewAlert(domain.SeverityWarning,
				fmt.Sprintf("Delivery shortfall: %s short by %.0f%% on average over 30 days", vendor,
					shortfall.Mul(decimal.NewFromInt(100)).InexactFloat64())))
		}

		late, ok, err := in.History.LateDeliveries(ctx, in.Branch, vendor, historyWindow)
		if err == nil && ok && late >= lateDeliveryLimit {
			alerts = append(alerts, domain.NewAlert(domain.SeverityCritical,
				fmt.Sprintf("Vendor alert: %s late on %d deliveries in the last 30 days", vendor, late)))
		}
	}
	return alerts
}

func distinctVendors(rows []Row) []string {
	seen := make(map[string]bool)
	var vendors []string
	for _, row := range rows {
		if row.Vendor == "" || seen[row.Vendor] {
			continue
		}
		seen[row.Vendor] = true
		vendors = append(vendors, row.Vendor)
	}
	return vendors
}
