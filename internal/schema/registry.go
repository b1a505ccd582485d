// Package schema holds the canonical field registry that all branch specific
// column layouts are mapped onto.
package schema

import (
	"fmt"

	"github.com/hugamara/sheetaudit/internal/domain"
)

// The canonical field lists are identical across branches today; the lookup is
// still keyed by branch so baselines can diverge without an API change.
var canonicalFields = map[domain.DocumentKind][]string{
	domain.KindProcurement: {"vendor_name", "item", "quantity", "unit_price", "total"},
	domain.KindInventory:   {"item", "opening_stock", "received", "issued", "closing_stock", "unit"},
	domain.KindSales:       {"date", "revenue", "covers", "avg_check", "food_cost", "labor_cost"},
	domain.KindFinance:     {"invoice_number", "vendor_name", "invoice_date", "due_date", "total_amount", "paid_amount"},
	domain.KindPettyCash:   {"date", "description", "amount", "direction"},
}

var knownBranches = map[domain.Branch]bool{
	domain.BranchPatiobella: true,
	domain.BranchEateroo:    true,
}

// For returns the ordered canonical field names for a (branch, document kind)
// pair. Callers must not proceed with an empty schema, so an unknown pair is a
// ConfigurationError rather than an empty slice.
func For(branch domain.Branch, kind domain.DocumentKind) ([]string, error) {
	if !knownBranches[branch] {
		return nil, domain.ConfigurationError{Reason: fmt.Sprintf("no schema registered for branch %q", branch)}
	}
	fields, ok := canonicalFields[kind]
	if !ok {
		return nil, domain.ConfigurationError{Reason: fmt.Sprintf("no schema registered for document kind %q", kind)}
	}
	out := make([]string, len(fields))
	copy(out, fields)
	return out, nil
}
