package export

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/oliveagle/jsonpath"
)

// ErrInvalidCondition is returned for a where clause that cannot be used
var ErrInvalidCondition = errors.New("invalid export condition")

// Supported condition operators
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpLt       = "lt"
	OpGte      = "gte"
	OpLte      = "lte"
	OpContains = "contains"
	OpExists   = "exists"
	OpRegex    = "regex"
)

var operators = []string{OpEq, OpNe, OpGte, OpLte, OpGt, OpLt, OpContains, OpExists, OpRegex}

// Condition keeps an order only when the value at Expression satisfies Operator
type Condition struct {
	Expression string
	Operator   string
	Value      string

	pattern *jsonpath.Compiled
	re      *regexp.Regexp
}

// Filter selects which orders are exported. Status is pushed down to the
// store; Where is evaluated per order.
type Filter struct {
	Status string
	Where  []Condition
}

// ParseCondition parses "$.path:op:value", or "$.path:exists".
func ParseCondition(spec string) (Condition, error) {
	expr, op, value, ok := splitCondition(spec)
	if !ok {
		return Condition{}, fmt.Errorf("%w: %q must look like $.path:op:value", ErrInvalidCondition, spec)
	}
	if !strings.HasPrefix(expr, "$") {
		return Condition{}, fmt.Errorf("%w: %q must start with a JSONPath", ErrInvalidCondition, spec)
	}

	pattern, err := jsonpath.Compile(expr)
	if err != nil {
		return Condition{}, fmt.Errorf("%w: invalid JSONPath expression '%s': %v", ErrInvalidCondition, expr, err)
	}

	cond := Condition{Expression: expr, Operator: op, Value: value, pattern: pattern}
	if op == OpRegex {
		cond.re, err = regexp.Compile(value)
		if err != nil {
			return Condition{}, fmt.Errorf("%w: invalid regex pattern '%s': %v", ErrInvalidCondition, value, err)
		}
	}
	return cond, nil
}

// ParseConditions parses every where clause
func ParseConditions(specs []string) ([]Condition, error) {
	conditions := make([]Condition, 0, len(specs))
	for _, spec := range specs {
		cond, err := ParseCondition(spec)
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, cond)
	}
	return conditions, nil
}

// splitCondition finds the earliest ":op:" (or trailing ":exists") so that
// JSONPath slices like [0:2] stay part of the expression.
func splitCondition(spec string) (expr, op, value string, ok bool) {
	best := -1
	for _, candidate := range operators {
		token := ":" + candidate
		idx := strings.Index(spec, token+":")
		if candidate == OpExists && strings.HasSuffix(spec, token) {
			idx = len(spec) - len(token)
		}
		if idx > 0 && (best < 0 || idx < best) {
			best, op = idx, candidate
		}
	}
	if best < 0 {
		return "", "", "", false
	}

	expr = strings.TrimSpace(spec[:best])
	rest := spec[best+1+len(op):]
	if op == OpExists {
		return expr, op, "", rest == ""
	}
	return expr, op, strings.TrimPrefix(rest, ":"), true
}

// Match reports whether the decoded order satisfies the condition.
// Values that cannot be compared do not match.
func (c Condition) Match(doc any) bool {
	actual, err := c.pattern.Lookup(doc)
	if err != nil {
		actual = nil
	}

	switch c.Operator {
	case OpExists:
		return actual != nil
	case OpEq:
		return actual != nil && looselyEqual(actual, c.Value)
	case OpNe:
		return actual == nil || !looselyEqual(actual, c.Value)
	case OpGt, OpLt, OpGte, OpLte:
		cmp, err := compareNumbers(actual, c.Value)
		if err != nil {
			return false
		}
		switch c.Operator {
		case OpGt:
			return cmp > 0
		case OpLt:
			return cmp < 0
		case OpGte:
			return cmp >= 0
		default:
			return cmp <= 0
		}
	case OpContains:
		if list, ok := actual.([]any); ok {
			for _, item := range list {
				if looselyEqual(item, c.Value) {
					return true
				}
			}
			return false
		}
		return actual != nil && strings.Contains(formatCell(actual), c.Value)
	case OpRegex:
		return actual != nil && c.re.MatchString(formatCell(actual))
	}
	return false
}

// Match reports whether the decoded order passes every where clause
func (f Filter) Match(doc any) bool {
	for _, cond := range f.Where {
		if !cond.Match(doc) {
			return false
		}
	}
	return true
}
