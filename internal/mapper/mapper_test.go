package mapper

import "testing"

func TestMapColumnsExactMatchConfidence(t *testing.T) {
	headers := []string{"  Vendor_Name ", "ITEM", "quantity"}
	canonical := []string{"vendor_name", "item", "quantity"}

	mappings := MapColumns(headers, canonical)
	if len(mappings) != 3 {
		t.Fatalf("expected 3 mappings, got %d", len(mappings))
	}

	for i, m := range mappings {
		if !m.Mapped() {
			t.Fatalf("field %s not mapped", m.Canonical)
		}
		if m.Confidence != 0.95 {
			t.Fatalf("field %s: expected confidence 0.95, got %v", m.Canonical, m.Confidence)
		}
		if *m.Original != headers[i] {
			t.Fatalf("field %s: expected original %q, got %q", m.Canonical, headers[i], *m.Original)
		}
	}
}

func TestMapColumnsUnmappedFieldsScoreZero(t *testing.T) {
	mappings := MapColumns([]string{"vendor_name"}, []string{"vendor_name", "unit_price"})

	if !mappings[0].Mapped() || mappings[0].Confidence != 0.95 {
		t.Fatalf("expected vendor_name mapped at 0.95, got %+v", mappings[0])
	}
	if mappings[1].Mapped() {
		t.Fatalf("expected unit_price unmapped, got original %q", *mappings[1].Original)
	}
	if mappings[1].Confidence != 0 {
		t.Fatalf("expected confidence 0 for unmapped field, got %v", mappings[1].Confidence)
	}
}

func TestMapColumnsConfidenceIsBinary(t *testing.T) {
	headers := []string{"vendor_name", "Item ", "qty", "", "total"}
	canonical := []string{"vendor_name", "item", "quantity", "unit_price", "total"}

	for _, m := range MapColumns(headers, canonical) {
		if m.Confidence != 0.95 && m.Confidence != 0 {
			t.Fatalf("field %s: confidence %v outside the exact-match strategy's range", m.Canonical, m.Confidence)
		}
	}
}

func TestMapColumnsFirstMatchWinsOnDuplicates(t *testing.T) {
	headers := []string{"item", "Item"}
	mappings := MapColumns(headers, []string{"item"})

	if *mappings[0].Original != "item" {
		t.Fatalf("expected first duplicate header to win, got %q", *mappings[0].Original)
	}
}

func TestMapColumnsPreservesCanonicalOrder(t *testing.T) {
	headers := []string{"total", "quantity", "item", "unit_price", "vendor_name"}
	canonical := []string{"vendor_name", "item", "quantity", "unit_price", "total"}

	mappings := MapColumns(headers, canonical)
	for i, field := range canonical {
		if mappings[i].Canonical != field {
			t.Fatalf("position %d: expected %s, got %s", i, field, mappings[i].Canonical)
		}
	}
}

func TestMapColumnsEmptySchema(t *testing.T) {
	if got := MapColumns([]string{"a", "b"}, nil); len(got) != 0 {
		t.Fatalf("expected no mappings for empty schema, got %d", len(got))
	}
}
