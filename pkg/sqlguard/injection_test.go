package sqlguard

import "testing"

func TestCheckFilterValue(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		wantSQLi bool
	}{
		{"plain id", "SITE-001", false},
		{"plain country", "Germany", false},
		{"classic injection", "'; DROP TABLE gold_inventory--", true},
		{"tautology", "' OR '1'='1", true},
		{"union probe", "x' UNION SELECT password FROM users--", true},
		{"integer value skipped", 42, false},
		{"boolean value skipped", true, false},
		{"nil value skipped", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := CheckFilterValue("filter", tt.value)
			if got := v != nil; got != tt.wantSQLi {
				t.Errorf("CheckFilterValue(%v) detected=%v, want %v", tt.value, got, tt.wantSQLi)
			}
			if v != nil {
				if !v.IsSQLi {
					t.Error("violation returned with IsSQLi=false")
				}
				if v.Fingerprint == "" {
					t.Error("violation has empty fingerprint")
				}
				if v.FilterName != "filter" {
					t.Errorf("FilterName = %q", v.FilterName)
				}
			}
		})
	}
}

func TestCheckFilters(t *testing.T) {
	filters := map[string]any{
		"country": "Germany",
		"status":  "' OR '1'='1",
		"limit":   50,
	}

	violations := CheckFilters(filters)
	if len(violations) != 1 {
		t.Fatalf("got %d violations, want 1", len(violations))
	}
	if violations[0].FilterName != "status" {
		t.Errorf("FilterName = %q, want status", violations[0].FilterName)
	}

	if got := CheckFilters(map[string]any{"site": "SITE-001"}); len(got) != 0 {
		t.Errorf("clean filters produced %d violations", len(got))
	}
}
