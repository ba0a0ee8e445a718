package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/oliveagle/jsonpath"
)

// ErrInvalidColumn is returned for a column spec that cannot be used
var ErrInvalidColumn = errors.New("invalid export column")

// Column is one CSV column: a header and the JSONPath that fills it
type Column struct {
	Header     string
	Expression string
	pattern    *jsonpath.Compiled
}

// DefaultColumns are used when the caller asks for none
var DefaultColumns = []string{
	"id=$.id",
	"restaurant_id=$.restaurant_id",
	"status=$.status",
	"email=$.email",
	"total=$.total",
	"created_at=$.created_at",
	"checked_out_at=$.checked_out_at",
	"paid_at=$.paid_at",
	"items=$.items[*].name",
}

// ParseColumn parses "header=$.path". A bare "$.path" uses the path as header.
func ParseColumn(spec string) (Column, error) {
	header, expr, found := strings.Cut(spec, "=")
	if !found {
		expr = spec
		header = spec
	}
	header = strings.TrimSpace(header)
	expr = strings.TrimSpace(expr)

	if header == "" {
		return Column{}, fmt.Errorf("%w: %q has an empty header", ErrInvalidColumn, spec)
	}
	if !strings.HasPrefix(expr, "$") {
		return Column{}, fmt.Errorf("%w: %q must be a JSONPath starting with $", ErrInvalidColumn, spec)
	}

	pattern, err := jsonpath.Compile(expr)
	if err != nil {
		return Column{}, fmt.Errorf("%w: invalid JSONPath expression '%s': %v", ErrInvalidColumn, expr, err)
	}

	return Column{Header: header, Expression: expr, pattern: pattern}, nil
}

// ParseColumns parses every spec, falling back to DefaultColumns when specs is empty
func ParseColumns(specs []string) ([]Column, error) {
	if len(specs) == 0 {
		specs = DefaultColumns
	}

	columns := make([]Column, 0, len(specs))
	for _, spec := range specs {
		col, err := ParseColumn(spec)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// Extract evaluates the column against a decoded JSON document.
// A path that does not resolve yields nil.
func (c Column) Extract(doc any) any {
	value, err := c.pattern.Lookup(doc)
	if err != nil {
		return nil
	}
	return value
}
