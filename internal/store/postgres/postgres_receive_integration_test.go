package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"tradehub/backend/internal/domain"
)

func TestReceivePurchaseOrderCreatesUnits(t *testing.T) {
	databaseURL := os.Getenv("TRADEHUB_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TRADEHUB_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	retailerID := fmt.Sprintf("ret-recv-it-%d", stamp)
	priceItemID := fmt.Sprintf("pi-recv-it-%d", stamp)
	orderID := fmt.Sprintf("po-recv-it-%d", stamp)
	brandInvoiceID := fmt.Sprintf("BRINV-IT-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_units WHERE retailer_po_id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM purchase_orders WHERE id = $1`, orderID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM price_items WHERE id = $1`, priceItemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM retailers WHERE id = $1`, retailerID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO retailers (id, name, owner_name, phone, email, city, area, pincode,
			showroom_address, godown_address, credit_limit, credit_used, partner_share_percent, created_at)
		VALUES ($1, 'Receive IT Retailer', 'IT Owner', '', '', 'Mumbai', '', '', '', '', 0, 0, 50, now())
	`, retailerID); err != nil {
		t.Fatalf("insert retailer: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO price_items (id, manufacturer, model, category, mrp, basic_price, gst_percent,
			upfront_discounts, backend_discounts, min_margin_percent, batch_date, created_at)
		VALUES ($1, 'LG', $2, 'TV', 64990, 42000, 18, '[]', '[]', 10, now(), now())
	`, priceItemID, fmt.Sprintf("MODEL-IT-%d", stamp)); err != nil {
		t.Fatalf("insert price item: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, retailer_id, manufacturer, status, lines, created_by, created_at, updated_at)
		VALUES ($1, $2, 'LG', 'SHIPPED', $3, 'it-runner', now(), now())
	`, orderID, retailerID,
		fmt.Sprintf(`[{"price_item_id":"%s","model":"MODEL-IT","manufacturer":"LG","qty":3,"unit_cost":"47060"}]`, priceItemID)); err != nil {
		t.Fatalf("insert purchase order: %v", err)
	}

	at := time.Now().UTC()
	units := []domain.InventoryUnit{
		{SerialNumber: fmt.Sprintf("SN-IT-%d-1", stamp), PriceItemID: priceItemID, RetailerID: retailerID, RetailerPOID: orderID, BrandInvoiceID: brandInvoiceID},
		{SerialNumber: fmt.Sprintf("SN-IT-%d-2", stamp), PriceItemID: priceItemID, RetailerID: retailerID, RetailerPOID: orderID, BrandInvoiceID: brandInvoiceID},
	}
	mapping := []domain.MappingLine{
		{PriceItemID: priceItemID, OrderedQty: 3, ReceivedQty: 2, Serials: []string{units[0].SerialNumber, units[1].SerialNumber}},
	}

	order, err := s.ReceivePurchaseOrder(ctx, orderID, brandInvoiceID, mapping, units, at)
	if err != nil {
		t.Fatalf("receive purchase order: %v", err)
	}
	if order.Status != domain.OrderReceived {
		t.Fatalf("expected order status RECEIVED, got %s", order.Status)
	}
	if order.BrandInvoiceID != brandInvoiceID {
		t.Fatalf("expected brand invoice %s, got %s", brandInvoiceID, order.BrandInvoiceID)
	}

	var unitCount int
	if err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM inventory_units WHERE retailer_po_id = $1 AND status = 'IN_STOCK'
	`, orderID).Scan(&unitCount); err != nil {
		t.Fatalf("count units: %v", err)
	}
	if unitCount != 2 {
		t.Fatalf("expected 2 in-stock units, got %d", unitCount)
	}

	// Receiving twice must be rejected from the terminal state.
	if _, err := s.ReceivePurchaseOrder(ctx, orderID, brandInvoiceID, mapping, nil, at); err == nil {
		t.Fatalf("expected second receive to fail")
	}
}
