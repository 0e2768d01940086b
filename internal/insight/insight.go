// Package insight produces AI-backed business reports and price-deck
// extraction, with a deterministic local fallback when no API key is set.
package insight

import (
	"context"

	"tradehub/backend/internal/domain"
)

// Snapshot is the aggregate business state a report is generated from.
type Snapshot struct {
	Revenue       string   `json:"revenue"`
	Cost          string   `json:"cost"`
	GrossMargin   string   `json:"gross_margin"`
	MarginPercent string   `json:"margin_percent"`
	UnitsSold     int      `json:"units_sold"`
	UnitsInStock  int      `json:"units_in_stock"`
	StockValue    string   `json:"stock_value"`
	TopBrands     []string `json:"top_brands"`
	PendingOrders int      `json:"pending_orders"`
}

type Generator interface {
	GenerateReport(ctx context.Context, snapshot Snapshot) (*domain.InsightReport, error)
	ParsePriceDeck(ctx context.Context, text string) ([]domain.PriceItemCreateRequest, error)
}
