package pricing

import (
	"testing"

	"github.com/shopspring/decimal"

	"tradehub/backend/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestFinalCostWorkedExample(t *testing.T) {
	item := domain.PriceItem{
		BasicPrice: dec("82000"),
		GSTPercent: dec("18"),
		UpfrontDiscounts: []domain.SchemeDiscount{
			{Name: "launch scheme", Amount: dec("5000")},
		},
		BackendDiscounts: []domain.SchemeDiscount{
			{Name: "quarterly volume", Amount: dec("3000")},
		},
	}

	got := FinalCost(item)
	if !got.Equal(dec("87860")) {
		t.Fatalf("expected final cost 87860, got %s", got)
	}
}

func TestFinalCostNoDiscounts(t *testing.T) {
	item := domain.PriceItem{BasicPrice: dec("1000"), GSTPercent: dec("18")}
	if got := FinalCost(item); !got.Equal(dec("1180")) {
		t.Fatalf("expected 1180, got %s", got)
	}
}

func TestMSPDefaultsMarginToTenPercent(t *testing.T) {
	msp, err := MSP(dec("900"), decimal.Zero)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !msp.Equal(dec("1000")) {
		t.Fatalf("expected msp 1000 at default margin, got %s", msp)
	}
}

func TestMSPRejectsMarginAtOrAboveHundred(t *testing.T) {
	for _, margin := range []string{"100", "150"} {
		if _, err := MSP(dec("900"), dec(margin)); err == nil {
			t.Fatalf("expected error for margin %s", margin)
		}
	}
}

func TestBreakdownFieldsAreConsistent(t *testing.T) {
	item := domain.PriceItem{
		BasicPrice:       dec("82000"),
		GSTPercent:       dec("18"),
		UpfrontDiscounts: []domain.SchemeDiscount{{Amount: dec("5000")}},
		BackendDiscounts: []domain.SchemeDiscount{{Amount: dec("3000")}},
		MinMarginPercent: dec("10"),
	}

	b := Breakdown(item)
	if !b.NetBasic.Equal(dec("77000")) {
		t.Fatalf("net basic: got %s", b.NetBasic)
	}
	if !b.InvoiceAmount.Equal(dec("90860")) {
		t.Fatalf("invoice amount: got %s", b.InvoiceAmount)
	}
	if !b.FinalCost.Equal(dec("87860")) {
		t.Fatalf("final cost: got %s", b.FinalCost)
	}
	if !b.FinalCost.Equal(FinalCost(item)) {
		t.Fatalf("breakdown final cost diverges from FinalCost")
	}
	want := b.FinalCost.Div(dec("0.9"))
	if !b.MSP.Equal(want) {
		t.Fatalf("msp: expected %s, got %s", want, b.MSP)
	}
}

func TestMappingPercent(t *testing.T) {
	if got := MappingPercent(5, 10); !got.Equal(dec("50")) {
		t.Fatalf("expected 50, got %s", got)
	}
	if got := MappingPercent(12, 10); !got.Equal(dec("120")) {
		t.Fatalf("over-receipt: expected 120, got %s", got)
	}
	if got := MappingPercent(3, 0); !got.IsZero() {
		t.Fatalf("zero ordered: expected 0, got %s", got)
	}
}

func TestOrderValue(t *testing.T) {
	order := domain.PurchaseOrder{Lines: []domain.OrderLine{
		{Qty: 2, UnitCost: dec("100.50")},
		{Qty: 1, UnitCost: dec("49")},
	}}
	if got := OrderValue(order); !got.Equal(dec("250")) {
		t.Fatalf("expected 250, got %s", got)
	}
}
