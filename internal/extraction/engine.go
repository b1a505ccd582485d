// Package extraction turns raw tabular bytes into a scored extraction result:
// column mappings, a bounded row sample, confidence scores, and anomalies.
package extraction

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/hugamara/sheetaudit/internal/domain"
	"github.com/hugamara/sheetaudit/internal/mapper"
	"github.com/hugamara/sheetaudit/internal/rules"
	"github.com/hugamara/sheetaudit/internal/schema"
)

// sampleRowLimit bounds the row sample carried in audit documents. Full
// datasets are not retained by the pipeline.
const sampleRowLimit = 50

// Result is the body of an ExtractionDocument plus the attempt's score.
// CanonicalRows carry the same sample re-keyed by canonical field name; the
// worker reads them when recording history observations.
type Result struct {
	Score           float64
	FieldConfidence map[string]float64
	Mappings        []domain.ColumnMapping
	Rows            []domain.ExtractedRow
	CanonicalRows   []domain.ExtractedRow
	Anomalies       []domain.Alert
	Warnings        []string
}

// Engine orchestrates schema lookup, column mapping, row materialization,
// confidence scoring, and anomaly evaluation for one document.
type Engine struct {
	rules   *rules.Engine
	history rules.HistoryProvider
}

// New wires an extraction engine over a rule engine and its history source.
func New(ruleEngine *rules.Engine, history rules.HistoryProvider) *Engine {
	return &Engine{rules: ruleEngine, history: history}
}

// Extract processes one payload. It fails with MalformedDocumentError when the
// payload is not parseable and ConfigurationError for an unknown
// branch/document-kind pair; it never returns a partial result.
func (e *Engine) Extract(ctx context.Context, payload []byte, fileName string, branch domain.Branch, kind domain.DocumentKind) (Result, error) {
	table, err := parseTable(fileName, payload)
	if err != nil {
		return Result{}, err
	}

	canonical, err := schema.For(branch, kind)
	if err != nil {
		return Result{}, err
	}

	mappings := mapper.MapColumns(table.rawHeaders, canonical)

	rows := materializeRows(table)

	canonicalRows := canonicalRows(rows, mappings, table)

	result := Result{
		Score:           overallScore(mappings),
		FieldConfidence: fieldConfidence(mappings),
		Mappings:        mappings,
		Rows:            rows,
		CanonicalRows:   canonicalRows,
		Warnings:        missingMappingWarnings(mappings),
	}

	result.Anomalies = e.rules.Evaluate(ctx, rules.Input{
		Branch:  branch,
		Rows:    ruleRows(canonicalRows),
		History: e.history,
	})

	return result, nil
}

// PreviewResult carries column headers plus stringified sample rows.
type PreviewResult struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Preview parses a payload and returns its headers and first limit rows
// without running the extraction pipeline.
func Preview(payload []byte, fileName string, limit int) (PreviewResult, error) {
	table, err := parseTable(fileName, payload)
	if err != nil {
		return PreviewResult{}, err
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > len(table.rows) {
		limit = len(table.rows)
	}
	return PreviewResult{
		Columns: table.rawHeaders,
		Rows:    table.rows[:limit],
	}, nil
}

func materializeRows(table tableData) []domain.ExtractedRow {
	count := len(table.rows)
	if count > sampleRowLimit {
		count = sampleRowLimit
	}

	rows := make([]domain.ExtractedRow, 0, count)
	for _, raw := range table.rows[:count] {
		row := make(domain.ExtractedRow, len(table.headers))
		for idx, header := range table.headers {
			if idx < len(raw) {
				row[header] = strings.TrimSpace(raw[idx])
			} else {
				row[header] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// overallScore is the mean mapping confidence scaled to 1-10, clamped, and
// rounded to one decimal.
func overallScore(mappings []domain.ColumnMapping) float64 {
	if len(mappings) == 0 {
		return 1
	}
	var sum float64
	for _, m := range mappings {
		sum += m.Confidence
	}
	score := sum / float64(len(mappings)) * 10
	score = math.Max(1, math.Min(10, score))
	return math.Round(score*10) / 10
}

func fieldConfidence(mappings []domain.ColumnMapping) map[string]float64 {
	confidence := make(map[string]float64, len(mappings))
	for _, m := range mappings {
		confidence[m.Canonical] = m.Confidence
	}
	return confidence
}

func missingMappingWarnings(mappings []domain.ColumnMapping) []string {
	warnings := []string{}
	for _, m := range mappings {
		if !m.Mapped() {
			warnings = append(warnings, fmt.Sprintf("missing mapping for field %s", m.Canonical))
		}
	}
	return warnings
}

// canonicalRows re-keys the row sample through the column mappings so
// downstream consumers see canonical field names regardless of the source
// layout. Unmapped fields are omitted, not blanked.
func canonicalRows(rows []domain.ExtractedRow, mappings []domain.ColumnMapping, table tableData) []domain.ExtractedRow {
	// Sanitized header name per canonical field. The mapping's Original is
	// the matched header verbatim, so the first positional occurrence is the
	// column the mapper picked even when headers repeat.
	sanitizedFor := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if !m.Mapped() {
			continue
		}
		for idx, raw := range table.rawHeaders {
			if raw == *m.Original && idx < len(table.headers) {
				sanitizedFor[m.Canonical] = table.headers[idx]
				break
			}
		}
	}

	out := make([]domain.ExtractedRow, 0, len(rows))
	for _, row := range rows {
		canonical := make(domain.ExtractedRow, len(sanitizedFor))
		for field, header := range sanitizedFor {
			if value, ok := row[header]; ok && value != "" {
				canonical[field] = value
			}
		}
		out = append(out, canonical)
	}
	return out
}

// ruleRows projects canonical rows into the rule engine's input shape.
func ruleRows(rows []domain.ExtractedRow) []rules.Row {
	out := make([]rules.Row, 0, len(rows))
	for _, row := range rows {
		r := rules.Row{
			Item:   row["item"],
			Vendor: row["vendor_name"],
		}
		if v, ok := row["unit_price"]; ok {
			if cost, err := decimal.NewFromString(v); err == nil {
				r.UnitCost = cost
				r.HasUnitCost = true
			}
		}
		quantity, ok := row["quantity"]
		if !ok {
			// Inventory sheets carry stock levels instead of order quantities.
			quantity, ok = row["closing_stock"]
		}
		if ok {
			if qty, err := decimal.NewFromString(quantity); err == nil {
				r.Quantity = qty
				r.HasQuantity = true
			}
		}
		out = append(out, r)
	}
	return out
}
