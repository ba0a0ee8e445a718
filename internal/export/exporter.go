// Package export streams orders as CSV with JSONPath-selected columns.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dandantas/ordersweep/internal/model"
)

// OrderSource iterates orders, optionally filtered by status
type OrderSource interface {
	Each(ctx context.Context, status string, fn func(*model.Order) error) error
}

// Exporter writes orders as CSV
type Exporter struct {
	orders OrderSource
}

// NewExporter creates a new exporter
func NewExporter(orders OrderSource) *Exporter {
	return &Exporter{orders: orders}
}

// Export writes a header row and one row per order matching filter.
// Returns the number of order rows written.
func (e *Exporter) Export(ctx context.Context, w io.Writer, filter Filter, columns []Column) (int, error) {
	cw := csv.NewWriter(w)

	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col.Header
	}
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	rows := 0
	row := make([]string, len(columns))
	err := e.orders.Each(ctx, filter.Status, func(order *model.Order) error {
		doc, err := toDocument(order)
		if err != nil {
			return err
		}
		if !filter.Match(doc) {
			return nil
		}
		for i, col := range columns {
			row[i] = formatCell(col.Extract(doc))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		rows++
		return nil
	})

	cw.Flush()
	if err == nil {
		err = cw.Error()
	}
	if err != nil {
		return rows, err
	}

	slog.Info("Exported orders",
		"status", filter.Status,
		"conditions", len(filter.Where),
		"rows", rows,
		"columns", len(columns),
	)
	return rows, nil
}

// toDocument converts an order to the generic JSON form JSONPath works on
func toDocument(order *model.Order) (any, error) {
	raw, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	return doc, nil
}

// formatCell renders a JSONPath result as a CSV cell. Lists are joined with ";".
func formatCell(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = formatCell(item)
		}
		return strings.Join(parts, ";")
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}
