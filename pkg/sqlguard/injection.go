package sqlguard

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// FilterViolation describes an injection pattern detected in a request
// filter value.
type FilterViolation struct {
	IsSQLi      bool   // true if an injection pattern was detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	FilterName  string // name of the filter that failed the check
	FilterValue any    // the value that was checked
}

// CheckFilterValue uses libinjection to detect SQL injection patterns in a
// single filter value. Only string values are checked; numbers, booleans and
// other types cannot carry injection payloads and return nil.
func CheckFilterValue(name string, value any) *FilterViolation {
	strValue, ok := value.(string)
	if !ok {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if isSQLi {
		return &FilterViolation{
			IsSQLi:      true,
			Fingerprint: string(fingerprint),
			FilterName:  name,
			FilterValue: value,
		}
	}

	return nil
}

// CheckFilters validates every filter value on a request. It returns one
// violation per tainted filter, or an empty slice when all values are clean.
func CheckFilters(filters map[string]any) []*FilterViolation {
	var violations []*FilterViolation
	for name, value := range filters {
		if v := CheckFilterValue(name, value); v != nil {
			violations = append(violations, v)
		}
	}
	return violations
}
