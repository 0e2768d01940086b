package insight

import (
	"context"
	"testing"
)

func TestLocalGeneratorReportNeverEmpty(t *testing.T) {
	gen := NewLocalGenerator()
	report, err := gen.GenerateReport(context.Background(), Snapshot{
		Revenue: "0", Cost: "0", GrossMargin: "0", MarginPercent: "0",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Summary == "" {
		t.Fatalf("expected non-empty summary")
	}
	if len(report.Opportunities) == 0 || len(report.Risks) == 0 || len(report.Actions) == 0 {
		t.Fatalf("expected all report sections populated, got %+v", report)
	}
}

func TestLocalGeneratorFlagsPendingOrders(t *testing.T) {
	gen := NewLocalGenerator()
	report, err := gen.GenerateReport(context.Background(), Snapshot{PendingOrders: 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found := false
	for _, action := range report.Actions {
		if len(action) > 0 && action[0] == '3' {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected pending-order action, got %v", report.Actions)
	}
}

func TestLocalParsePriceDeck(t *testing.T) {
	gen := NewLocalGenerator()
	text := "LG, 55UQ7500, TV, 42000, 18, 2500, 1200\n" +
		"garbage line\n" +
		"Samsung, 55CU8000, TV, 48500, 18\n"

	items, err := gen.ParsePriceDeck(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 parsed rows, got %d", len(items))
	}
	if items[0].Model != "55UQ7500" || len(items[0].UpfrontDiscounts) != 1 || len(items[0].BackendDiscounts) != 1 {
		t.Fatalf("first row parsed wrong: %+v", items[0])
	}
	if !items[1].BasicPrice.Equal(items[1].BasicPrice.Truncate(0)) || items[1].BasicPrice.String() != "48500" {
		t.Fatalf("second row basic price parsed wrong: %s", items[1].BasicPrice)
	}
}
