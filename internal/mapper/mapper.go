// Package mapper matches observed spreadsheet headers onto canonical schema
// fields with a per-field confidence score.
package mapper

import (
	"strings"

	"github.com/hugamara/sheetaudit/internal/domain"
)

// Matcher is the pluggable matching strategy. Given a canonical field and the
// normalized observed headers it returns the index of the matching header and
// a confidence in [0,1], or ok=false when nothing matched.
type Matcher interface {
	Match(canonical string, normalized []string) (idx int, confidence float64, ok bool)
}

// exactMatcher matches case-insensitively after whitespace trimming. First
// match wins when headers repeat.
type exactMatcher struct{}

const exactMatchConfidence = 0.95

func (exactMatcher) Match(canonical string, normalized []string) (int, float64, bool) {
	want := normalize(canonical)
	for idx, header := range normalized {
		if header == want {
			return idx, exactMatchConfidence, true
		}
	}
	return 0, 0, false
}

// ExactMatcher returns the default exact-match strategy.
func ExactMatcher() Matcher {
	return exactMatcher{}
}

// MapColumns maps observed headers onto the canonical schema, producing one
// ColumnMapping per canonical field in canonical order. Fields with no match
// are reported unmapped with confidence 0.
func MapColumns(headers []string, canonical []string) []domain.ColumnMapping {
	return MapColumnsWith(ExactMatcher(), headers, canonical)
}

// MapColumnsWith runs the mapping with an explicit strategy.
func MapColumnsWith(strategy Matcher, headers []string, canonical []string) []domain.ColumnMapping {
	normalized := make([]string, len(headers))
	for i, header := range headers {
		normalized[i] = normalize(header)
	}

	mappings := make([]domain.ColumnMapping, 0, len(canonical))
	for _, field := range canonical {
		idx, confidence, ok := strategy.Match(field, normalized)
		if !ok {
			mappings = append(mappings, domain.ColumnMapping{Canonical: field, Confidence: 0})
			continue
		}
		original := headers[idx]
		mappings = append(mappings, domain.ColumnMapping{
			Original:   &original,
			Canonical:  field,
			Confidence: confidence,
		})
	}
	return mappings
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
