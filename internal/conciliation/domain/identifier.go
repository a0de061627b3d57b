package conciliation

import (
	"fmt"
	"strings"
)

// NormalizeIdentifier trims a selection id and converts a comma decimal
// artifact to a dot, so ids copied out of localized numeric cells still
// resolve.
func NormalizeIdentifier(raw string) string {
	return strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
}

// ValidIdentifier reports whether a normalized id is acceptable: only
// letters, digits, underscore, dot, colon and hyphen, and not an all-digit
// literal carrying more than one dot.
func ValidIdentifier(id string) bool {
	if id == "" {
		return false
	}
	dots := 0
	digitsAndDotsOnly := true
	for _, r := range id {
		switch {
		case r >= '0' && r <= '9':
		case r == '.':
			dots++
		case r == '-' || r == '_' || r == ':':
			digitsAndDotsOnly = false
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			digitsAndDotsOnly = false
		default:
			return false
		}
	}
	if digitsAndDotsOnly && dots > 1 {
		return false
	}
	return true
}

// NormalizeIdentifiers validates and normalizes a full selection. It returns
// the normalized ids or an InvalidIdentifierError naming every raw value
// that failed.
func NormalizeIdentifiers(raw []string) ([]string, error) {
	var bad []string
	normalized := make([]string, 0, len(raw))
	for _, r := range raw {
		id := NormalizeIdentifier(r)
		if !ValidIdentifier(id) {
			bad = append(bad, r)
			continue
		}
		normalized = append(normalized, id)
	}
	if len(bad) > 0 {
		return nil, &InvalidIdentifierError{Values: bad}
	}
	return normalized, nil
}

// InvalidIdentifierError reports malformed selection ids.
type InvalidIdentifierError struct {
	Values []string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("conciliation: invalid identifiers: %s", strings.Join(e.Values, ", "))
}
