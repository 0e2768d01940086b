package insight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradehub/backend/internal/domain"
	"tradehub/backend/internal/xid"
)

// LocalGenerator is the offline fallback used when no OpenAI key is
// configured. Reports are derived from the snapshot with fixed rules and
// deck parsing accepts comma-separated rows.
type LocalGenerator struct{}

func NewLocalGenerator() *LocalGenerator {
	return &LocalGenerator{}
}

func (g *LocalGenerator) GenerateReport(_ context.Context, snapshot Snapshot) (*domain.InsightReport, error) {
	report := &domain.InsightReport{
		ID: xid.New("rep"),
		Summary: fmt.Sprintf("Revenue %s against cost %s for a gross margin of %s (%s%%). %d units sold, %d in stock worth %s.",
			snapshot.Revenue, snapshot.Cost, snapshot.GrossMargin, snapshot.MarginPercent,
			snapshot.UnitsSold, snapshot.UnitsInStock, snapshot.StockValue),
		GeneratedAt: time.Now().UTC(),
	}

	if len(snapshot.TopBrands) > 0 {
		report.Opportunities = append(report.Opportunities,
			fmt.Sprintf("Deepen the assortment for top brands: %s.", strings.Join(snapshot.TopBrands, ", ")))
	}
	if snapshot.UnitsInStock > 0 && snapshot.UnitsSold == 0 {
		report.Risks = append(report.Risks, "Stock is held but nothing sold in the window; ageing risk.")
	}
	if snapshot.PendingOrders > 0 {
		report.Actions = append(report.Actions,
			fmt.Sprintf("%d purchase orders await review; approve or reject them to unblock consolidation.", snapshot.PendingOrders))
	}
	if len(report.Opportunities) == 0 {
		report.Opportunities = append(report.Opportunities, "Broaden the price deck to widen retailer choice.")
	}
	if len(report.Risks) == 0 {
		report.Risks = append(report.Risks, "No acute risks detected from the snapshot.")
	}
	if len(report.Actions) == 0 {
		report.Actions = append(report.Actions, "Review slow-moving models against their minimum margins.")
	}
	return report, nil
}

// ParsePriceDeck accepts rows of the form:
// manufacturer, model, category, basic price, gst percent[, upfront, backend]
func (g *LocalGenerator) ParsePriceDeck(_ context.Context, text string) ([]domain.PriceItemCreateRequest, error) {
	items := make([]domain.PriceItemCreateRequest, 0, 16)
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Split(line, ",")
		if len(fields) < 5 {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		basic, err := decimal.NewFromString(fields[3])
		if err != nil {
			continue
		}
		gst, err := decimal.NewFromString(fields[4])
		if err != nil {
			continue
		}
		item := domain.PriceItemCreateRequest{
			Manufacturer: fields[0],
			Model:        fields[1],
			Category:     fields[2],
			BasicPrice:   basic,
			GSTPercent:   gst,
		}
		if len(fields) > 5 {
			if v, err := decimal.NewFromString(fields[5]); err == nil && v.IsPositive() {
				item.UpfrontDiscounts = []domain.SchemeDiscount{{Name: "upfront scheme", Amount: v}}
			}
		}
		if len(fields) > 6 {
			if v, err := decimal.NewFromString(fields[6]); err == nil && v.IsPositive() {
				item.BackendDiscounts = []domain.SchemeDiscount{{Name: "backend scheme", Amount: v}}
			}
		}
		items = append(items, item)
	}
	return items, nil
}
