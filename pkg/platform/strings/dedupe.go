// Package strings provides string slice utilities.
package strings

// Dedupe removes duplicates and empty strings from a slice. Values are
// compared verbatim (no trimming or case folding) and first-seen order is
// preserved.
//
// Example:
//
//	Dedupe([]string{"b", "a", "b", ""})
//	// Returns: []string{"b", "a"}
func Dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			result = append(result, v)
		}
	}

	return result
}

// LeadWith returns lead followed by the distinct non-empty values other than
// lead, in first-seen order. An empty lead is omitted.
//
// Example:
//
//	LeadWith("a", []string{"b", "a", "c", "b"})
//	// Returns: []string{"a", "b", "c"}
func LeadWith(lead string, values []string) []string {
	rest := Dedupe(values)
	result := make([]string, 0, len(rest)+1)
	if lead != "" {
		result = append(result, lead)
	}
	for _, v := range rest {
		if v != lead {
			result = append(result, v)
		}
	}
	return result
}
