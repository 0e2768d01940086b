// Package pricing derives landed cost and selling floors from price-deck rows.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"tradehub/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// DefaultMarginPercent applies when a price item carries no minimum margin.
var DefaultMarginPercent = decimal.NewFromInt(10)

func sumDiscounts(discounts []domain.SchemeDiscount) decimal.Decimal {
	total := decimal.Zero
	for _, d := range discounts {
		total = total.Add(d.Amount)
	}
	return total
}

// FinalCost is the net landed cost of one unit:
// (basic - upfront discounts) grossed up by GST, less backend discounts.
func FinalCost(item domain.PriceItem) decimal.Decimal {
	netBasic := item.BasicPrice.Sub(sumDiscounts(item.UpfrontDiscounts))
	gstFactor := decimal.NewFromInt(1).Add(item.GSTPercent.Div(hundred))
	invoiceAmount := netBasic.Mul(gstFactor)
	return invoiceAmount.Sub(sumDiscounts(item.BackendDiscounts))
}

// MSP is the minimum selling price that preserves the given margin percent
// of the selling price. A margin at or above 100 has no finite answer.
func MSP(finalCost, marginPercent decimal.Decimal) (decimal.Decimal, error) {
	if marginPercent.IsZero() {
		marginPercent = DefaultMarginPercent
	}
	denominator := decimal.NewFromInt(1).Sub(marginPercent.Div(hundred))
	if denominator.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("margin percent %s leaves no selling price", marginPercent)
	}
	return finalCost.Div(denominator), nil
}

// Breakdown expands a price item into its full cost view. When the MSP is
// undefined for the item's margin it is reported as zero.
func Breakdown(item domain.PriceItem) domain.CostBreakdown {
	upfront := sumDiscounts(item.UpfrontDiscounts)
	backend := sumDiscounts(item.BackendDiscounts)
	netBasic := item.BasicPrice.Sub(upfront)
	gstAmount := netBasic.Mul(item.GSTPercent).Div(hundred)
	invoiceAmount := netBasic.Add(gstAmount)
	finalCost := invoiceAmount.Sub(backend)

	msp := decimal.Zero
	if v, err := MSP(finalCost, item.MinMarginPercent); err == nil {
		msp = v
	}

	return domain.CostBreakdown{
		UpfrontTotal:  upfront,
		NetBasic:      netBasic,
		GSTAmount:     gstAmount,
		InvoiceAmount: invoiceAmount,
		BackendTotal:  backend,
		FinalCost:     finalCost,
		MSP:           msp,
	}
}

// MappingPercent is received over ordered as a percentage, zero when nothing
// was ordered.
func MappingPercent(received, ordered int) decimal.Decimal {
	if ordered == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(received)).Mul(hundred).Div(decimal.NewFromInt(int64(ordered)))
}

// OrderValue sums unit cost times quantity over an order's lines.
func OrderValue(order domain.PurchaseOrder) decimal.Decimal {
	total := decimal.Zero
	for _, line := range order.Lines {
		total = total.Add(line.UnitCost.Mul(decimal.NewFromInt(int64(line.Qty))))
	}
	return total
}
