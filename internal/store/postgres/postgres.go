package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tradehub/backend/internal/domain"
	"tradehub/backend/internal/store"
	"tradehub/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreatePriceItem(ctx context.Context, item domain.PriceItem) (*domain.PriceItem, error) {
	item.Manufacturer = strings.TrimSpace(item.Manufacturer)
	item.Model = strings.TrimSpace(item.Model)
	if item.Manufacturer == "" || item.Model == "" {
		return nil, store.ErrValidation
	}
	if item.BasicPrice.LessThanOrEqual(decimal.Zero) {
		return nil, store.ErrValidation
	}
	if item.MRP.IsNegative() {
		return nil, store.ErrValidation
	}
	if item.GSTPercent.IsNegative() || item.GSTPercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, store.ErrValidation
	}
	if item.ID == "" {
		item.ID = xid.New("pi")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.BatchDate.IsZero() {
		item.BatchDate = item.CreatedAt
	}

	upfrontJSON, err := json.Marshal(item.UpfrontDiscounts)
	if err != nil {
		return nil, err
	}
	backendJSON, err := json.Marshal(item.BackendDiscounts)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO price_items (
			id, manufacturer, model, category, mrp, basic_price, gst_percent,
			upfront_discounts, backend_discounts, min_margin_percent,
			batch_id, batch_date, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, item.ID, item.Manufacturer, item.Model, item.Category, item.MRP, item.BasicPrice, item.GSTPercent,
		upfrontJSON, backendJSON, item.MinMarginPercent,
		nullIfEmpty(item.BatchID), item.BatchDate, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := item
	return &created, nil
}

const priceItemColumns = `
	id, manufacturer, model, category, mrp, basic_price, gst_percent,
	upfront_discounts, backend_discounts, min_margin_percent,
	COALESCE(batch_id, ''), batch_date, created_at
`

func scanPriceItem(row interface{ Scan(...any) error }) (domain.PriceItem, error) {
	var item domain.PriceItem
	var upfrontRaw, backendRaw []byte
	err := row.Scan(&item.ID, &item.Manufacturer, &item.Model, &item.Category,
		&item.MRP, &item.BasicPrice, &item.GSTPercent, &upfrontRaw, &backendRaw,
		&item.MinMarginPercent, &item.BatchID, &item.BatchDate, &item.CreatedAt)
	if err != nil {
		return item, err
	}
	if len(upfrontRaw) > 0 {
		if err := json.Unmarshal(upfrontRaw, &item.UpfrontDiscounts); err != nil {
			return item, err
		}
	}
	if len(backendRaw) > 0 {
		if err := json.Unmarshal(backendRaw, &item.BackendDiscounts); err != nil {
			return item, err
		}
	}
	item.BatchDate = item.BatchDate.UTC()
	item.CreatedAt = item.CreatedAt.UTC()
	return item, nil
}

func (s *Store) GetPriceItemByID(ctx context.Context, id string) (*domain.PriceItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+priceItemColumns+` FROM price_items WHERE id = $1`, id)
	item, err := scanPriceItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetPriceItemsByIDs(ctx context.Context, ids []string) (map[string]domain.PriceItem, error) {
	result := make(map[string]domain.PriceItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+priceItemColumns+` FROM price_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanPriceItem(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetLatestPriceItemByModel(ctx context.Context, model string) (*domain.PriceItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+priceItemColumns+`
		FROM price_items
		WHERE lower(model) = lower($1)
		ORDER BY batch_date DESC, created_at DESC
		LIMIT 1
	`, strings.TrimSpace(model))
	item, err := scanPriceItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPriceItems(ctx context.Context, manufacturer string, search string, limit int) ([]domain.PriceItem, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+priceItemColumns+`
		FROM price_items
		WHERE ($1 = '' OR lower(manufacturer) = lower($1))
		  AND ($2 = '' OR model ILIKE '%' || $2 || '%' OR manufacturer ILIKE '%' || $2 || '%')
		ORDER BY batch_date DESC, model
		LIMIT $3
	`, strings.TrimSpace(manufacturer), strings.TrimSpace(search), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PriceItem, 0, limit)
	for rows.Next() {
		item, err := scanPriceItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdatePriceItemMinMargin(ctx context.Context, id string, marginPercent string) (*domain.PriceItem, error) {
	margin, err := decimal.NewFromString(marginPercent)
	if err != nil || margin.IsNegative() {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE price_items SET min_margin_percent = $2 WHERE id = $1
	`, id, margin)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetPriceItemByID(ctx, id)
}

const orderColumns = `
	id, retailer_id, manufacturer, status, lines,
	COALESCE(master_po_id, ''), COALESCE(brand_invoice_id, ''),
	mapping, attachments, created_by, created_at, updated_at
`

func scanOrder(row interface{ Scan(...any) error }) (domain.PurchaseOrder, error) {
	var order domain.PurchaseOrder
	var linesRaw, mappingRaw, attachmentsRaw []byte
	err := row.Scan(&order.ID, &order.RetailerID, &order.Manufacturer, &order.Status,
		&linesRaw, &order.MasterPOID, &order.BrandInvoiceID,
		&mappingRaw, &attachmentsRaw, &order.CreatedBy, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return order, err
	}
	if len(linesRaw) > 0 {
		if err := json.Unmarshal(linesRaw, &order.Lines); err != nil {
			return order, err
		}
	}
	if len(mappingRaw) > 0 {
		_ = json.Unmarshal(mappingRaw, &order.Mapping)
	}
	if len(attachmentsRaw) > 0 {
		_ = json.Unmarshal(attachmentsRaw, &order.Attachments)
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

func (s *Store) CreatePurchaseOrder(ctx context.Context, order domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if order.RetailerID == "" || len(order.Lines) == 0 {
		return nil, store.ErrValidation
	}
	if order.ID == "" {
		order.ID = xid.New("po")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.UpdatedAt = order.CreatedAt
	if order.Status == "" {
		order.Status = domain.OrderRequested
	}

	linesJSON, err := json.Marshal(order.Lines)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO purchase_orders (
			id, retailer_id, manufacturer, status, lines, created_by, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, order.ID, order.RetailerID, order.Manufacturer, order.Status, linesJSON,
		order.CreatedBy, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	created := order
	return &created, nil
}

func (s *Store) GetPurchaseOrderByID(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, retailerID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 200
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM purchase_orders
		WHERE ($1 = '' OR retailer_id = $1)
		  AND ($2 = '' OR status = upper($2))
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, retailerID, strings.TrimSpace(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.PurchaseOrder, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) UpdatePurchaseOrderStatus(ctx context.Context, id string, status string, at time.Time) (*domain.PurchaseOrder, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM purchase_orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !domain.CanTransition(current, status) {
		return nil, fmt.Errorf("order %s cannot move %s -> %s: %w", id, current, status, store.ErrPrecondition)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE purchase_orders SET status = $2, updated_at = $3 WHERE id = $1
	`, id, status, at)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetPurchaseOrderByID(ctx, id)
}

func (s *Store) StampMasterPO(ctx context.Context, orderIDs []string, masterPOID string, status string, at time.Time) error {
	if masterPOID == "" || len(orderIDs) == 0 {
		return store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, status FROM purchase_orders WHERE id = ANY($1) FOR UPDATE
	`, orderIDs)
	if err != nil {
		return err
	}
	statuses := make(map[string]string, len(orderIDs))
	for rows.Next() {
		var id, current string
		if err := rows.Scan(&id, &current); err != nil {
			rows.Close()
			return err
		}
		statuses[id] = current
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Validate the whole batch before touching any order.
	for _, id := range orderIDs {
		current, ok := statuses[id]
		if !ok {
			return store.ErrNotFound
		}
		if !domain.CanTransition(current, status) {
			return fmt.Errorf("order %s cannot move %s -> %s: %w", id, current, status, store.ErrPrecondition)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE purchase_orders SET master_po_id = $2, status = $3, updated_at = $4 WHERE id = ANY($1)
	`, orderIDs, masterPOID, status, at)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ReceivePurchaseOrder(ctx context.Context, id string, brandInvoiceID string, mapping []domain.MappingLine, units []domain.InventoryUnit, at time.Time) (*domain.PurchaseOrder, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM purchase_orders WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !domain.CanTransition(current, domain.OrderReceived) {
		return nil, fmt.Errorf("order %s cannot move %s -> %s: %w", id, current, domain.OrderReceived, store.ErrPrecondition)
	}

	for i := range units {
		if units[i].ID == "" {
			units[i].ID = xid.New("unit")
		}
		if units[i].Status == "" {
			units[i].Status = domain.UnitInStock
		}
		if units[i].InwardDate.IsZero() {
			units[i].InwardDate = at
		}
	}
	for _, unit := range units {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_units (
				id, serial_number, price_item_id, retailer_id, status,
				retailer_po_id, master_po_id, brand_invoice_id, inward_date,
				selling_price, discount
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, unit.ID, unit.SerialNumber, unit.PriceItemID, unit.RetailerID, unit.Status,
			nullIfEmpty(unit.RetailerPOID), nullIfEmpty(unit.MasterPOID), nullIfEmpty(unit.BrandInvoiceID),
			unit.InwardDate, unit.SellingPrice, unit.Discount)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrValidation
			}
			return nil, err
		}
	}

	mappingJSON, err := json.Marshal(mapping)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $2, brand_invoice_id = $3, mapping = $4, updated_at = $5
		WHERE id = $1
	`, id, domain.OrderReceived, nullIfEmpty(brandInvoiceID), mappingJSON, at)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetPurchaseOrderByID(ctx, id)
}

func (s *Store) AddOrderAttachment(ctx context.Context, orderID string, attachment domain.Attachment) (*domain.PurchaseOrder, error) {
	if attachment.ID == "" {
		attachment.ID = xid.New("att")
	}
	if attachment.UploadedAt.IsZero() {
		attachment.UploadedAt = time.Now().UTC()
	}

	attachmentJSON, err := json.Marshal(attachment)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE purchase_orders
		SET attachments = COALESCE(attachments, '[]'::jsonb) || $2::jsonb, updated_at = now()
		WHERE id = $1
	`, orderID, attachmentJSON)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetPurchaseOrderByID(ctx, orderID)
}

const unitColumns = `
	id, serial_number, price_item_id, retailer_id, status,
	COALESCE(retailer_po_id, ''), COALESCE(master_po_id, ''), COALESCE(brand_invoice_id, ''),
	inward_date, COALESCE(sale_invoice_number, ''), sale_date, selling_price, discount
`

func scanUnit(row interface{ Scan(...any) error }) (domain.InventoryUnit, error) {
	var unit domain.InventoryUnit
	var saleDate sql.NullTime
	err := row.Scan(&unit.ID, &unit.SerialNumber, &unit.PriceItemID, &unit.RetailerID, &unit.Status,
		&unit.RetailerPOID, &unit.MasterPOID, &unit.BrandInvoiceID,
		&unit.InwardDate, &unit.SaleInvoiceNumber, &saleDate, &unit.SellingPrice, &unit.Discount)
	if err != nil {
		return unit, err
	}
	if saleDate.Valid {
		t := saleDate.Time.UTC()
		unit.SaleDate = &t
	}
	unit.InwardDate = unit.InwardDate.UTC()
	return unit, nil
}

func (s *Store) ListInventoryUnits(ctx context.Context, retailerID string, status string, limit int) ([]domain.InventoryUnit, error) {
	if limit < 1 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+unitColumns+`
		FROM inventory_units
		WHERE ($1 = '' OR retailer_id = $1)
		  AND ($2 = '' OR status = upper($2))
		ORDER BY inward_date DESC, id
		LIMIT $3
	`, retailerID, strings.TrimSpace(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make([]domain.InventoryUnit, 0, limit)
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return units, nil
}

func (s *Store) GetInventoryUnitsByIDs(ctx context.Context, ids []string) (map[string]domain.InventoryUnit, error) {
	result := make(map[string]domain.InventoryUnit, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+unitColumns+` FROM inventory_units WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		result[unit.ID] = unit
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) MarkUnitsSold(ctx context.Context, lines []domain.SaleLine, invoiceNumber string, at time.Time) error {
	if invoiceNumber == "" || len(lines) == 0 {
		return store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.UnitID)
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, status FROM inventory_units WHERE id = ANY($1) FOR UPDATE
	`, ids)
	if err != nil {
		return err
	}
	statuses := make(map[string]string, len(ids))
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return err
		}
		statuses[id] = status
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Validate the whole cart before touching any unit.
	for _, line := range lines {
		status, ok := statuses[line.UnitID]
		if !ok {
			return store.ErrNotFound
		}
		if status != domain.UnitInStock {
			return fmt.Errorf("unit %s is %s, not %s: %w", line.UnitID, status, domain.UnitInStock, store.ErrPrecondition)
		}
	}

	for _, line := range lines {
		_, err = tx.ExecContext(ctx, `
			UPDATE inventory_units
			SET status = $2, sale_invoice_number = $3, sale_date = $4, selling_price = $5, discount = $6
			WHERE id = $1
		`, line.UnitID, domain.UnitSold, invoiceNumber, at, line.SellingPrice, line.Discount)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.RetailerID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrValidation
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	linesJSON, err := json.Marshal(sale.Lines)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sales (
			id, invoice_number, retailer_id, customer_name, customer_phone,
			payment_mode, lines, total, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, sale.ID, sale.InvoiceNumber, sale.RetailerID, sale.CustomerName, sale.CustomerPhone,
		sale.PaymentMode, linesJSON, sale.Total, sale.CreatedBy, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) ListSales(ctx context.Context, retailerID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 200
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_number, retailer_id, customer_name, customer_phone,
			payment_mode, lines, total, created_by, created_at
		FROM sales
		WHERE ($1 = '' OR retailer_id = $1)
		  AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, retailerID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var linesRaw []byte
		if err := rows.Scan(&sale.ID, &sale.InvoiceNumber, &sale.RetailerID, &sale.CustomerName,
			&sale.CustomerPhone, &sale.PaymentMode, &linesRaw, &sale.Total, &sale.CreatedBy, &sale.CreatedAt); err != nil {
			return nil, err
		}
		if len(linesRaw) > 0 {
			if err := json.Unmarshal(linesRaw, &sale.Lines); err != nil {
				return nil, err
			}
		}
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) NextInvoiceSequence(ctx context.Context, year int) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (year, seq)
		VALUES ($1, 1)
		ON CONFLICT (year)
		DO UPDATE SET seq = invoice_sequences.seq + 1
		RETURNING seq
	`, year).Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

const retailerColumns = `
	id, name, owner_name, phone, email, city, area, pincode,
	showroom_address, godown_address, credit_limit, credit_used,
	partner_share_percent, created_at
`

func scanRetailer(row interface{ Scan(...any) error }) (domain.Retailer, error) {
	var r domain.Retailer
	err := row.Scan(&r.ID, &r.Name, &r.OwnerName, &r.Phone, &r.Email, &r.City, &r.Area, &r.Pincode,
		&r.ShowroomAddress, &r.GodownAddress, &r.CreditLimit, &r.CreditUsed,
		&r.PartnerSharePercent, &r.CreatedAt)
	if err != nil {
		return r, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func (s *Store) CreateRetailer(ctx context.Context, retailer domain.Retailer) (*domain.Retailer, error) {
	retailer.Name = strings.TrimSpace(retailer.Name)
	if retailer.Name == "" {
		return nil, store.ErrValidation
	}
	if retailer.ID == "" {
		retailer.ID = xid.New("ret")
	}
	if retailer.CreatedAt.IsZero() {
		retailer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO retailers (
			id, name, owner_name, phone, email, city, area, pincode,
			showroom_address, godown_address, credit_limit, credit_used,
			partner_share_percent, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, retailer.ID, retailer.Name, retailer.OwnerName, retailer.Phone, retailer.Email,
		retailer.City, retailer.Area, retailer.Pincode, retailer.ShowroomAddress, retailer.GodownAddress,
		retailer.CreditLimit, retailer.CreditUsed, retailer.PartnerSharePercent, retailer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := retailer
	return &created, nil
}

func (s *Store) GetRetailerByID(ctx context.Context, id string) (*domain.Retailer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+retailerColumns+` FROM retailers WHERE id = $1`, id)
	retailer, err := scanRetailer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &retailer, nil
}

func (s *Store) ListRetailers(ctx context.Context) ([]domain.Retailer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+retailerColumns+` FROM retailers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	retailers := make([]domain.Retailer, 0, 64)
	for rows.Next() {
		retailer, err := scanRetailer(rows)
		if err != nil {
			return nil, err
		}
		retailers = append(retailers, retailer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return retailers, nil
}

func (s *Store) UpdateRetailer(ctx context.Context, retailer domain.Retailer) (*domain.Retailer, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE retailers
		SET name = $2, owner_name = $3, phone = $4, email = $5, city = $6, area = $7,
			pincode = $8, showroom_address = $9, godown_address = $10,
			credit_limit = $11, credit_used = $12, partner_share_percent = $13
		WHERE id = $1
	`, retailer.ID, retailer.Name, retailer.OwnerName, retailer.Phone, retailer.Email,
		retailer.City, retailer.Area, retailer.Pincode, retailer.ShowroomAddress, retailer.GodownAddress,
		retailer.CreditLimit, retailer.CreditUsed, retailer.PartnerSharePercent)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := retailer
	return &updated, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || user.PasswordHash == "" {
		return nil, store.ErrValidation
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, sub_role, retailer_id, password_hash, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, user.ID, user.Email, user.Name, user.Role, nullIfEmpty(user.SubRole),
		nullIfEmpty(user.RetailerID), user.PasswordHash, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		return nil, err
	}

	created := user
	return &created, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, COALESCE(sub_role, ''), COALESCE(retailer_id, ''), password_hash, created_at
		FROM users
		WHERE email = lower($1)
	`, strings.TrimSpace(email)).Scan(&user.ID, &user.Email, &user.Name, &user.Role,
		&user.SubRole, &user.RetailerID, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, name, role, COALESCE(sub_role, ''), COALESCE(retailer_id, ''), password_hash, created_at
		FROM users
		ORDER BY email
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.User, 0, 64)
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.Role,
			&user.SubRole, &user.RetailerID, &user.PasswordHash, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpsertAllowedUser(ctx context.Context, entry domain.AllowedUser) error {
	entry.Email = strings.ToLower(strings.TrimSpace(entry.Email))
	if entry.Email == "" || entry.Role == "" {
		return store.ErrValidation
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO allowed_users (email, role, sub_role, retailer_id, added_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (email)
		DO UPDATE SET role = EXCLUDED.role, sub_role = EXCLUDED.sub_role,
			retailer_id = EXCLUDED.retailer_id, added_by = EXCLUDED.added_by
	`, entry.Email, entry.Role, nullIfEmpty(entry.SubRole), nullIfEmpty(entry.RetailerID),
		entry.AddedBy, entry.CreatedAt)
	return err
}

func (s *Store) GetAllowedUser(ctx context.Context, email string) (*domain.AllowedUser, error) {
	var entry domain.AllowedUser
	err := s.db.QueryRowContext(ctx, `
		SELECT email, role, COALESCE(sub_role, ''), COALESCE(retailer_id, ''), added_by, created_at
		FROM allowed_users
		WHERE email = lower($1)
	`, strings.TrimSpace(email)).Scan(&entry.Email, &entry.Role, &entry.SubRole,
		&entry.RetailerID, &entry.AddedBy, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	return &entry, nil
}

func (s *Store) ListAllowedUsers(ctx context.Context, retailerID string) ([]domain.AllowedUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT email, role, COALESCE(sub_role, ''), COALESCE(retailer_id, ''), added_by, created_at
		FROM allowed_users
		WHERE ($1 = '' OR retailer_id = $1)
		ORDER BY email
	`, retailerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.AllowedUser, 0, 64)
	for rows.Next() {
		var entry domain.AllowedUser
		if err := rows.Scan(&entry.Email, &entry.Role, &entry.SubRole,
			&entry.RetailerID, &entry.AddedBy, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) DeleteAllowedUser(ctx context.Context, email string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM allowed_users WHERE email = lower($1)`, strings.TrimSpace(email))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SaveInsightReport(ctx context.Context, report domain.InsightReport, keep int) error {
	if keep < 1 {
		keep = 15
	}
	if report.ID == "" {
		report.ID = xid.New("rep")
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now().UTC()
	}

	opportunitiesJSON, err := json.Marshal(report.Opportunities)
	if err != nil {
		return err
	}
	risksJSON, err := json.Marshal(report.Risks)
	if err != nil {
		return err
	}
	actionsJSON, err := json.Marshal(report.Actions)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO insight_reports (id, summary, opportunities, risks, actions, generated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, report.ID, report.Summary, opportunitiesJSON, risksJSON, actionsJSON, report.GeneratedAt)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM insight_reports
		WHERE id NOT IN (
			SELECT id FROM insight_reports ORDER BY generated_at DESC, id DESC LIMIT $1
		)
	`, keep)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListInsightReports(ctx context.Context) ([]domain.InsightReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, summary, opportunities, risks, actions, generated_at
		FROM insight_reports
		ORDER BY generated_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]domain.InsightReport, 0, 16)
	for rows.Next() {
		var report domain.InsightReport
		var opportunitiesRaw, risksRaw, actionsRaw []byte
		if err := rows.Scan(&report.ID, &report.Summary, &opportunitiesRaw, &risksRaw, &actionsRaw, &report.GeneratedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(opportunitiesRaw, &report.Opportunities)
		_ = json.Unmarshal(risksRaw, &report.Risks)
		_ = json.Unmarshal(actionsRaw, &report.Actions)
		report.GeneratedAt = report.GeneratedAt.UTC()
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (s *Store) GetInvoiceSettings(ctx context.Context) (*domain.InvoiceSettings, error) {
	var settings domain.InvoiceSettings
	err := s.db.QueryRowContext(ctx, `
		SELECT company_name, address_line1, address_line2, gstin, logo_url, terms, bank_details, updated_at
		FROM invoice_settings
		WHERE singleton = true
	`).Scan(&settings.CompanyName, &settings.AddressLine1, &settings.AddressLine2,
		&settings.GSTIN, &settings.LogoURL, &settings.Terms, &settings.BankDetails, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return &settings, nil
}

func (s *Store) SaveInvoiceSettings(ctx context.Context, settings domain.InvoiceSettings) (*domain.InvoiceSettings, error) {
	if strings.TrimSpace(settings.CompanyName) == "" {
		return nil, store.ErrValidation
	}
	settings.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoice_settings (singleton, company_name, address_line1, address_line2, gstin, logo_url, terms, bank_details, updated_at)
		VALUES (true,$1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (singleton)
		DO UPDATE SET company_name = EXCLUDED.company_name, address_line1 = EXCLUDED.address_line1,
			address_line2 = EXCLUDED.address_line2, gstin = EXCLUDED.gstin, logo_url = EXCLUDED.logo_url,
			terms = EXCLUDED.terms, bank_details = EXCLUDED.bank_details, updated_at = EXCLUDED.updated_at
	`, settings.CompanyName, settings.AddressLine1, settings.AddressLine2, settings.GSTIN,
		settings.LogoURL, settings.Terms, settings.BankDetails, settings.UpdatedAt)
	if err != nil {
		return nil, err
	}

	saved := settings
	return &saved, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
