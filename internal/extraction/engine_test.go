package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hugamara/sheetaudit/internal/domain"
	"github.com/hugamara/sheetaudit/internal/rules"
)

func newTestEngine(history rules.HistoryProvider) *Engine {
	if history == nil {
		history = &rules.StaticHistory{}
	}
	return New(rules.NewEngine(), history)
}

func TestExtractFullyMappedProcurementSheet(t *testing.T) {
	data := []byte("vendor_name,item,quantity,unit_price,total\nFreshCo,tilapia,10,95,950\nBulkPro,rice,20,4,80\n")

	result, err := newTestEngine(nil).Extract(context.Background(), data, "week32.csv", domain.BranchPatiobella, domain.KindProcurement)
	if err != nil {
		t.Fatalf("extract returned error: %v", err)
	}

	if result.Score != 9.5 {
		t.Fatalf("expected score 9.5 for a fully mapped sheet, got %v", result.Score)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", result.Warnings)
	}
	if len(result.Anomalies) != 0 {
		t.Fatalf("expected no anomalies without history, got %+v", result.Anomalies)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(result.Rows))
	}
	if result.Rows[0]["item"] != "tilapia" {
		t.Fatalf("unexpected first row: %+v", result.Rows[0])
	}
	for field, confidence := range result.FieldConfidence {
		if confidence != 0.95 {
			t.Fatalf("field %s: expected confidence 0.95, got %v", field, confidence)
		}
	}
}

func TestExtractMissingColumnsProducesWarningsAndReducedScore(t *testing.T) {
	data := []byte("vendor_name,item,quantity\nFreshCo,tilapia,10\n")

	result, err := newTestEngine(nil).Extract(context.Background(), data, "partial.csv", domain.BranchEateroo, domain.KindProcurement)
	if err != nil {
		t.Fatalf("extract returned error: %v", err)
	}

	if len(result.Warnings) != 2 {
		t.Fatalf("expected 2 warnings for 2 unmapped fields, got %v", result.Warnings)
	}
	for _, warning := range result.Warnings {
		if !strings.HasPrefix(warning, "missing mapping for field ") {
			t.Fatalf("unexpected warning format: %q", warning)
		}
	}

	// 3 of 5 fields at 0.95: (3*0.95/5)*10 = 5.7
	if result.Score != 5.7 {
		t.Fatalf("expected score 5.7, got %v", result.Score)
	}
}

func TestExtractScoreStaysWithinBounds(t *testing.T) {
	data := []byte("alpha,beta\n1,2\n")

	result, err := newTestEngine(nil).Extract(context.Background(), data, "none.csv", domain.BranchPatiobella, domain.KindPettyCash)
	if err != nil {
		t.Fatalf("extract returned error: %v", err)
	}
	if result.Score < 1 || result.Score > 10 {
		t.Fatalf("score %v outside [1,10]", result.Score)
	}
	if result.Score != 1 {
		t.Fatalf("zero mapped fields should clamp to 1, got %v", result.Score)
	}
}

func TestExtractCapsRowSample(t *testing.T) {
	var b strings.Builder
	b.WriteString("date,description,amount,direction\n")
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&b, "2025-01-%02d,supplies,%d,out\n", i%28+1, i)
	}

	result, err := newTestEngine(nil).Extract(context.Background(), []byte(b.String()), "cash.csv", domain.BranchPatiobella, domain.KindPettyCash)
	if err != nil {
		t.Fatalf("extract returned error: %v", err)
	}
	if len(result.Rows) != 50 {
		t.Fatalf("expected row sample capped at 50, got %d", len(result.Rows))
	}
}

func TestExtractMalformedPayloadFails(t *testing.T) {
	cases := map[string]struct {
		payload  []byte
		fileName string
	}{
		"binary garbage xlsx": {[]byte{0x01, 0x02, 0x03, 0x04}, "junk.xlsx"},
		"empty payload":       {nil, "empty.csv"},
		"unsupported format":  {[]byte("hello"), "notes.txt"},
		"blank csv":           {[]byte("\n\n\n"), "blank.csv"},
	}

	for name, tc := range cases {
		_, err := newTestEngine(nil).Extract(context.Background(), tc.payload, tc.fileName, domain.BranchPatiobella, domain.KindSales)
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		var malformed domain.MalformedDocumentError
		if !errors.As(err, &malformed) {
			t.Fatalf("%s: expected MalformedDocumentError, got %T (%v)", name, err, err)
		}
	}
}

func TestExtractUnknownKindIsConfigurationError(t *testing.T) {
	data := []byte("a,b\n1,2\n")
	_, err := newTestEngine(nil).Extract(context.Background(), data, "x.csv", domain.BranchPatiobella, domain.DocumentKind("payroll"))
	var cfgErr domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T (%v)", err, err)
	}
}

func TestExtractFeedsCanonicalRowsToRules(t *testing.T) {
	history := &rules.StaticHistory{
		AverageCosts: map[string]decimal.Decimal{"tilapia": decimal.NewFromInt(100)},
	}
	// Headers differ in case/spacing but map onto the canonical schema.
	data := []byte("Vendor_Name, Item ,Quantity,Unit_Price,Total\nFreshCo,tilapia,10,120,1200\n")

	result, err := newTestEngine(history).Extract(context.Background(), data, "spike.csv", domain.BranchPatiobella, domain.KindProcurement)
	if err != nil {
		t.Fatalf("extract returned error: %v", err)
	}
	if len(result.Anomalies) != 1 {
		t.Fatalf("expected the price spike to fire through header normalization, got %+v", result.Anomalies)
	}
	if result.Anomalies[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected critical severity, got %s", result.Anomalies[0].Severity)
	}
}

func TestExtractDuplicateHeadersReadFirstMatchedColumn(t *testing.T) {
	history := &rules.StaticHistory{
		AverageCosts: map[string]decimal.Decimal{"tilapia": decimal.NewFromInt(100)},
	}
	// The repeated item column must not shadow the one the mapping reports.
	data := []byte("vendor_name,item,item,quantity,unit_price,total\nFreshCo,tilapia,rice,10,120,1200\n")

	result, err := newTestEngine(history).Extract(context.Background(), data, "dup.csv", domain.BranchPatiobella, domain.KindProcurement)
	if err != nil {
		t.Fatalf("extract returned error: %v", err)
	}

	if got := result.CanonicalRows[0]["item"]; got != "tilapia" {
		t.Fatalf("canonical row item = %q, want %q", got, "tilapia")
	}
	if len(result.Anomalies) != 1 || result.Anomalies[0].Severity != domain.SeverityCritical {
		t.Fatalf("expected the price spike for the first item column, got %+v", result.Anomalies)
	}
}

func TestExtractInventoryUsesClosingStockForCoverage(t *testing.T) {
	history := &rules.StaticHistory{
		BurnRates: map[string]decimal.Decimal{"flour": decimal.NewFromInt(10)},
	}
	data := []byte("item,opening_stock,received,issued,closing_stock,unit\nflour,20,2,10,12,kg\n")

	result, err := newTestEngine(history).Extract(context.Background(), data, "stock.csv", domain.BranchEateroo, domain.KindInventory)
	if err != nil {
		t.Fatalf("extract returned error: %v", err)
	}
	if len(result.Anomalies) != 1 || !strings.Contains(result.Anomalies[0].Message, "Stockout") {
		t.Fatalf("expected stockout from closing stock coverage, got %+v", result.Anomalies)
	}
}

func TestPreviewReturnsBoundedStringRows(t *testing.T) {
	data := []byte("vendor_name,item\nFreshCo,tilapia\nBulkPro,rice\nAgriMart,beans\n")

	preview, err := Preview(data, "sheet.csv", 2)
	if err != nil {
		t.Fatalf("preview returned error: %v", err)
	}
	if len(preview.Columns) != 2 {
		t.Fatalf("expected 2 columns, got %v", preview.Columns)
	}
	if len(preview.Rows) != 2 {
		t.Fatalf("expected 2 preview rows, got %d", len(preview.Rows))
	}
	if preview.Rows[0][0] != "FreshCo" {
		t.Fatalf("unexpected preview content: %+v", preview.Rows)
	}
}
