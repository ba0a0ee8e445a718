package export

import (
	"fmt"
	"strconv"
	"strings"
)

// toNumber converts a decoded JSON value or a query string to float64
func toNumber(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		num, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("cannot convert string '%s' to number", v)
		}
		return num, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", value)
	}
}

// looselyEqual compares a document value with a query value, numerically
// when both sides are numbers and as text otherwise.
func looselyEqual(actual any, expected string) bool {
	if a, err := toNumber(actual); err == nil {
		if b, err := toNumber(expected); err == nil {
			return a == b
		}
	}
	if b, ok := actual.(bool); ok {
		parsed, err := strconv.ParseBool(strings.TrimSpace(expected))
		return err == nil && b == parsed
	}
	return formatCell(actual) == expected
}

func compareNumbers(actual any, expected string) (int, error) {
	a, err := toNumber(actual)
	if err != nil {
		return 0, fmt.Errorf("cannot compare: left value - %w", err)
	}
	b, err := toNumber(expected)
	if err != nil {
		return 0, fmt.Errorf("cannot compare: right value - %w", err)
	}

	switch {
	case a < b:
		return -1, nil
	case a > b:
		return 1, nil
	default:
		return 0, nil
	}
}
