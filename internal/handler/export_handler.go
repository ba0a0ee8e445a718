package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dandantas/ordersweep/internal/export"
	"github.com/dandantas/ordersweep/pkg/middleware"
)

// ExportHandler streams order exports
type ExportHandler struct {
	exporter *export.Exporter
}

// NewExportHandler creates a new export handler
func NewExportHandler(exporter *export.Exporter) *ExportHandler {
	return &ExportHandler{exporter: exporter}
}

// Orders handles GET /api/v1/export/orders?status=&column=header=$.path&where=$.path:op:value
func (h *ExportHandler) Orders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	columns, err := export.ParseColumns(query["column"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	where, err := export.ParseConditions(query["where"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter := export.Filter{Status: query.Get("status"), Where: where}

	filename := fmt.Sprintf("orders-%s.csv", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	// Headers are gone once the first row is written, so a failure can only be logged
	if _, err := h.exporter.Export(r.Context(), w, filter, columns); err != nil {
		slog.Error("Order export failed",
			"correlation_id", middleware.GetCorrelationID(r.Context()),
			"error", err,
		)
	}
}
