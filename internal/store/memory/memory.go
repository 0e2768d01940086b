package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tradehub/backend/internal/domain"
	"tradehub/backend/internal/store"
	"tradehub/backend/internal/xid"
)

type Store struct {
	mu                 sync.RWMutex
	priceItemsByID     map[string]domain.PriceItem
	latestPriceByModel map[string]string
	ordersByID         map[string]domain.PurchaseOrder
	unitsByID          map[string]domain.InventoryUnit
	unitIDsBySerial    map[string]string
	salesByID          map[string]domain.Sale
	invoiceSeqByYear   map[int]int64
	retailersByID      map[string]domain.Retailer
	usersByEmail       map[string]domain.User
	allowedByEmail     map[string]domain.AllowedUser
	insightReports     []domain.InsightReport
	invoiceSettings    *domain.InvoiceSettings
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_RETAILER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.User {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	retailerPwd := envOr("SEED_RETAILER_PASSWORD", "retailer123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_RETAILER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_RETAILER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.User{}
	for _, u := range []struct {
		email      string
		name       string
		password   string
		role       string
		subRole    string
		retailerID string
	}{
		{"admin@tradehub.local", "Hub Admin", adminPwd, domain.RoleAdmin, "", ""},
		{"owner@sharma.local", "Rajesh Sharma", retailerPwd, domain.RoleRetailer, domain.SubRoleOwner, "ret-sharma"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.email, err)
		}
		users[u.email] = domain.User{
			ID:           xid.New("usr"),
			Email:        u.email,
			Name:         u.name,
			Role:         u.role,
			SubRole:      u.subRole,
			RetailerID:   u.retailerID,
			PasswordHash: string(hash),
			CreatedAt:    now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	batchDate := now.AddDate(0, 0, -7)

	retailers := []domain.Retailer{
		{
			ID: domain.HubRetailerID, Name: "Central Hub", OwnerName: "Hub Admin",
			City: "Mumbai", CreatedAt: now,
		},
		{
			ID: "ret-sharma", Name: "Sharma Electronics", OwnerName: "Rajesh Sharma",
			Phone: "9820012345", Email: "owner@sharma.local",
			City: "Mumbai", Area: "Andheri West", Pincode: "400058",
			ShowroomAddress: "12 Link Road, Andheri West", GodownAddress: "Unit 4, MIDC Marol",
			CreditLimit: dec("2500000"), CreditUsed: dec("640000"),
			PartnerSharePercent: dec("60"), CreatedAt: now,
		},
		{
			ID: "ret-kumar", Name: "Kumar Home Appliances", OwnerName: "Vivek Kumar",
			Phone: "9890054321", Email: "vivek@kumarha.local",
			City: "Pune", Area: "Kothrud", Pincode: "411038",
			ShowroomAddress: "7 Paud Road, Kothrud",
			CreditLimit: dec("1500000"), CreditUsed: dec("230000"),
			PartnerSharePercent: dec("50"), CreatedAt: now,
		},
	}

	priceItems := []domain.PriceItem{
		{
			ID: "pi-lg-55uq75", Manufacturer: "LG", Model: "55UQ7500", Category: "TV",
			MRP: dec("64990"), BasicPrice: dec("42000"), GSTPercent: dec("18"),
			UpfrontDiscounts: []domain.SchemeDiscount{{Name: "festival scheme", Amount: dec("2500")}},
			BackendDiscounts: []domain.SchemeDiscount{{Name: "quarterly volume", Amount: dec("1200")}},
			MinMarginPercent: dec("10"), BatchID: "batch-seed-1", BatchDate: batchDate, CreatedAt: now,
		},
		{
			ID: "pi-sam-cu8000", Manufacturer: "Samsung", Model: "55CU8000", Category: "TV",
			MRP: dec("72990"), BasicPrice: dec("48500"), GSTPercent: dec("18"),
			UpfrontDiscounts: []domain.SchemeDiscount{{Name: "launch support", Amount: dec("3000")}},
			MinMarginPercent: dec("8"), BatchID: "batch-seed-1", BatchDate: batchDate, CreatedAt: now,
		},
		{
			ID: "pi-lg-ac15", Manufacturer: "LG", Model: "RS-Q19YNZE", Category: "AC",
			MRP: dec("52990"), BasicPrice: dec("34000"), GSTPercent: dec("28"),
			BackendDiscounts: []domain.SchemeDiscount{{Name: "season close", Amount: dec("1800")}},
			MinMarginPercent: dec("12"), BatchID: "batch-seed-1", BatchDate: batchDate, CreatedAt: now,
		},
	}

	priceMap := make(map[string]domain.PriceItem, len(priceItems))
	latestByModel := make(map[string]string, len(priceItems))
	for _, item := range priceItems {
		priceMap[item.ID] = item
		latestByModel[strings.ToLower(item.Model)] = item.ID
	}

	retailerMap := make(map[string]domain.Retailer, len(retailers))
	for _, r := range retailers {
		retailerMap[r.ID] = r
	}

	return &Store{
		priceItemsByID:     priceMap,
		latestPriceByModel: latestByModel,
		ordersByID:         make(map[string]domain.PurchaseOrder),
		unitsByID:          make(map[string]domain.InventoryUnit),
		unitIDsBySerial:    make(map[string]string),
		salesByID:          make(map[string]domain.Sale),
		invoiceSeqByYear:   make(map[int]int64),
		retailersByID:      retailerMap,
		usersByEmail:       seedUsers(),
		allowedByEmail:     make(map[string]domain.AllowedUser),
		insightReports:     make([]domain.InsightReport, 0, 16),
	}
}

func (s *Store) CreatePriceItem(_ context.Context, item domain.PriceItem) (*domain.PriceItem, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = xid.New("pi")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.BatchDate.IsZero() {
		item.BatchDate = item.CreatedAt
	}

	s.priceItemsByID[item.ID] = clonePriceItem(item)

	modelKey := strings.ToLower(item.Model)
	if currentID, ok := s.latestPriceByModel[modelKey]; ok {
		if current, exists := s.priceItemsByID[currentID]; !exists || !item.BatchDate.Before(current.BatchDate) {
			s.latestPriceByModel[modelKey] = item.ID
		}
	} else {
		s.latestPriceByModel[modelKey] = item.ID
	}

	created := clonePriceItem(item)
	return &created, nil
}

func (s *Store) GetPriceItemByID(_ context.Context, id string) (*domain.PriceItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.priceItemsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyItem := clonePriceItem(item)
	return &copyItem, nil
}

func (s *Store) GetPriceItemsByIDs(_ context.Context, ids []string) (map[string]domain.PriceItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.PriceItem, len(ids))
	for _, id := range ids {
		if item, ok := s.priceItemsByID[id]; ok {
			result[id] = clonePriceItem(item)
		}
	}
	return result, nil
}

func (s *Store) GetLatestPriceItemByModel(_ context.Context, model string) (*domain.PriceItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.latestPriceByModel[strings.ToLower(strings.TrimSpace(model))]
	if !exists {
		return nil, store.ErrNotFound
	}
	item, exists := s.priceItemsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyItem := clonePriceItem(item)
	return &copyItem, nil
}

func (s *Store) ListPriceItems(_ context.Context, manufacturer string, search string, limit int) ([]domain.PriceItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	manufacturer = strings.ToLower(strings.TrimSpace(manufacturer))
	search = strings.ToLower(strings.TrimSpace(search))

	result := make([]domain.PriceItem, 0, len(s.priceItemsByID))
	for _, item := range s.priceItemsByID {
		if manufacturer != "" && strings.ToLower(item.Manufacturer) != manufacturer {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(item.Model), search) &&
			!strings.Contains(strings.ToLower(item.Manufacturer), search) {
			continue
		}
		result = append(result, clonePriceItem(item))
	}

	slices.SortFunc(result, func(a, b domain.PriceItem) int {
		if a.BatchDate.Equal(b.BatchDate) {
			return cmpString(a.Model, b.Model)
		}
		if a.BatchDate.After(b.BatchDate) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdatePriceItemMinMargin(_ context.Context, id string, marginPercent string) (*domain.PriceItem, error) {
	margin, err := decimal.NewFromString(marginPercent)
	if err != nil || margin.IsNegative() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.priceItemsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	item.MinMarginPercent = margin
	s.priceItemsByID[id] = item
	updated := clonePriceItem(item)
	return &updated, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, order domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if order.RetailerID == "" || len(order.Lines) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.retailersByID[order.RetailerID]; !exists {
		return nil, store.ErrNotFound
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

	s.ordersByID[order.ID] = cloneOrder(order)
	saved := cloneOrder(s.ordersByID[order.ID])
	return &saved, nil
}

func (s *Store) GetPurchaseOrderByID(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.ordersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyOrder := cloneOrder(order)
	return &copyOrder, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, retailerID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status = strings.ToUpper(strings.TrimSpace(status))
	result := make([]domain.PurchaseOrder, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if retailerID != "" && order.RetailerID != retailerID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		result = append(result, cloneOrder(order))
	}
	slices.SortFunc(result, func(a, b domain.PurchaseOrder) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) UpdatePurchaseOrderStatus(_ context.Context, id string, status string, at time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !domain.CanTransition(order.Status, status) {
		return nil, fmt.Errorf("order %s cannot move %s -> %s: %w", id, order.Status, status, store.ErrPrecondition)
	}
	order.Status = status
	order.UpdatedAt = at
	s.ordersByID[id] = order
	updated := cloneOrder(order)
	return &updated, nil
}

func (s *Store) StampMasterPO(_ context.Context, orderIDs []string, masterPOID string, status string, at time.Time) error {
	if masterPOID == "" || len(orderIDs) == 0 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch before touching any order.
	for _, id := range orderIDs {
		order, exists := s.ordersByID[id]
		if !exists {
			return store.ErrNotFound
		}
		if !domain.CanTransition(order.Status, status) {
			return fmt.Errorf("order %s cannot move %s -> %s: %w", id, order.Status, status, store.ErrPrecondition)
		}
	}

	for _, id := range orderIDs {
		order := s.ordersByID[id]
		order.MasterPOID = masterPOID
		order.Status = status
		order.UpdatedAt = at
		s.ordersByID[id] = order
	}
	return nil
}

func (s *Store) ReceivePurchaseOrder(_ context.Context, id string, brandInvoiceID string, mapping []domain.MappingLine, units []domain.InventoryUnit, at time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !domain.CanTransition(order.Status, domain.OrderReceived) {
		return nil, fmt.Errorf("order %s cannot move %s -> %s: %w", id, order.Status, domain.OrderReceived, store.ErrPrecondition)
	}

	// Validate the whole batch before touching any unit.
	seen := make(map[string]struct{}, len(units))
	for _, unit := range units {
		if unit.SerialNumber == "" {
			continue
		}
		if _, dup := seen[unit.SerialNumber]; dup {
			return nil, fmt.Errorf("duplicate serial %s in batch: %w", unit.SerialNumber, store.ErrValidation)
		}
		seen[unit.SerialNumber] = struct{}{}
		if _, taken := s.unitIDsBySerial[unit.SerialNumber]; taken {
			return nil, fmt.Errorf("serial %s already inwarded: %w", unit.SerialNumber, store.ErrValidation)
		}
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
		s.unitsByID[unit.ID] = unit
		if unit.SerialNumber != "" {
			s.unitIDsBySerial[unit.SerialNumber] = unit.ID
		}
	}

	order.Status = domain.OrderReceived
	order.BrandInvoiceID = brandInvoiceID
	order.Mapping = mapping
	order.UpdatedAt = at
	s.ordersByID[id] = order
	updated := cloneOrder(order)
	return &updated, nil
}

func (s *Store) AddOrderAttachment(_ context.Context, orderID string, attachment domain.Attachment) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, exists := s.ordersByID[orderID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if attachment.ID == "" {
		attachment.ID = xid.New("att")
	}
	if attachment.UploadedAt.IsZero() {
		attachment.UploadedAt = time.Now().UTC()
	}
	order.Attachments = append(order.Attachments, attachment)
	s.ordersByID[orderID] = order
	updated := cloneOrder(order)
	return &updated, nil
}

func (s *Store) ListInventoryUnits(_ context.Context, retailerID string, status string, limit int) ([]domain.InventoryUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status = strings.ToUpper(strings.TrimSpace(status))
	result := make([]domain.InventoryUnit, 0, len(s.unitsByID))
	for _, unit := range s.unitsByID {
		if retailerID != "" && unit.RetailerID != retailerID {
			continue
		}
		if status != "" && unit.Status != status {
			continue
		}
		result = append(result, unit)
	}
	slices.SortFunc(result, func(a, b domain.InventoryUnit) int {
		if a.InwardDate.Equal(b.InwardDate) {
			return cmpString(a.ID, b.ID)
		}
		if a.InwardDate.After(b.InwardDate) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) GetInventoryUnitsByIDs(_ context.Context, ids []string) (map[string]domain.InventoryUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.InventoryUnit, len(ids))
	for _, id := range ids {
		if unit, ok := s.unitsByID[id]; ok {
			result[id] = unit
		}
	}
	return result, nil
}

func (s *Store) MarkUnitsSold(_ context.Context, lines []domain.SaleLine, invoiceNumber string, at time.Time) error {
	if invoiceNumber == "" || len(lines) == 0 {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole cart before touching any unit.
	for _, line := range lines {
		unit, exists := s.unitsByID[line.UnitID]
		if !exists {
			return store.ErrNotFound
		}
		if unit.Status != domain.UnitInStock {
			return fmt.Errorf("unit %s is %s, not %s: %w", line.UnitID, unit.Status, domain.UnitInStock, store.ErrPrecondition)
		}
	}

	for _, line := range lines {
		unit := s.unitsByID[line.UnitID]
		unit.Status = domain.UnitSold
		unit.SaleInvoiceNumber = invoiceNumber
		saleDate := at
		unit.SaleDate = &saleDate
		unit.SellingPrice = line.SellingPrice
		unit.Discount = line.Discount
		s.unitsByID[line.UnitID] = unit
	}
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.RetailerID == "" || len(sale.Lines) == 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	s.salesByID[sale.ID] = cloneSale(sale)
	saved := cloneSale(s.salesByID[sale.ID])
	return &saved, nil
}

func (s *Store) ListSales(_ context.Context, retailerID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Sale, 0, len(s.salesByID))
	for _, sale := range s.salesByID {
		if retailerID != "" && sale.RetailerID != retailerID {
			continue
		}
		if !from.IsZero() && sale.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !sale.CreatedAt.Before(to) {
			continue
		}
		result = append(result, cloneSale(sale))
	}
	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) NextInvoiceSequence(_ context.Context, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.invoiceSeqByYear[year]++
	return s.invoiceSeqByYear[year], nil
}

func (s *Store) CreateRetailer(_ context.Context, retailer domain.Retailer) (*domain.Retailer, error) {
	retailer.Name = strings.TrimSpace(retailer.Name)
	if retailer.Name == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if retailer.ID == "" {
		retailer.ID = xid.New("ret")
	}
	if retailer.CreatedAt.IsZero() {
		retailer.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.retailersByID[retailer.ID]; exists {
		return nil, store.ErrValidation
	}
	s.retailersByID[retailer.ID] = retailer
	copyRetailer := retailer
	return &copyRetailer, nil
}

func (s *Store) GetRetailerByID(_ context.Context, id string) (*domain.Retailer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	retailer, exists := s.retailersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyRetailer := retailer
	return &copyRetailer, nil
}

func (s *Store) ListRetailers(_ context.Context) ([]domain.Retailer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	retailers := make([]domain.Retailer, 0, len(s.retailersByID))
	for _, retailer := range s.retailersByID {
		retailers = append(retailers, retailer)
	}
	slices.SortFunc(retailers, func(a, b domain.Retailer) int {
		return cmpString(a.Name, b.Name)
	})
	return retailers, nil
}

func (s *Store) UpdateRetailer(_ context.Context, retailer domain.Retailer) (*domain.Retailer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.retailersByID[retailer.ID]; !exists {
		return nil, store.ErrNotFound
	}
	s.retailersByID[retailer.ID] = retailer
	copyRetailer := retailer
	return &copyRetailer, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Email == "" || user.PasswordHash == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByEmail[user.Email]; exists {
		return nil, store.ErrValidation
	}
	if user.ID == "" {
		user.ID = xid.New("usr")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByEmail[user.Email] = user
	copyUser := user
	return &copyUser, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.usersByEmail))
	for _, user := range s.usersByEmail {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return cmpString(a.Email, b.Email)
	})
	return users, nil
}

func (s *Store) UpsertAllowedUser(_ context.Context, entry domain.AllowedUser) error {
	entry.Email = strings.ToLower(strings.TrimSpace(entry.Email))
	if entry.Email == "" || entry.Role == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.allowedByEmail[entry.Email] = entry
	return nil
}

func (s *Store) GetAllowedUser(_ context.Context, email string) (*domain.AllowedUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.allowedByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyEntry := entry
	return &copyEntry, nil
}

func (s *Store) ListAllowedUsers(_ context.Context, retailerID string) ([]domain.AllowedUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AllowedUser, 0, len(s.allowedByEmail))
	for _, entry := range s.allowedByEmail {
		if retailerID != "" && entry.RetailerID != retailerID {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AllowedUser) int {
		return cmpString(a.Email, b.Email)
	})
	return result, nil
}

func (s *Store) DeleteAllowedUser(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	if _, exists := s.allowedByEmail[email]; !exists {
		return store.ErrNotFound
	}
	delete(s.allowedByEmail, email)
	return nil
}

func (s *Store) SaveInsightReport(_ context.Context, report domain.InsightReport, keep int) error {
	if keep < 1 {
		keep = 15
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if report.ID == "" {
		report.ID = xid.New("rep")
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now().UTC()
	}

	next := make([]domain.InsightReport, 0, keep)
	next = append(next, report)
	for _, prev := range s.insightReports {
		if len(next) == keep {
			break
		}
		next = append(next, prev)
	}
	s.insightReports = next
	return nil
}

func (s *Store) ListInsightReports(_ context.Context) ([]domain.InsightReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.InsightReport, len(s.insightReports))
	copy(result, s.insightReports)
	return result, nil
}

func (s *Store) GetInvoiceSettings(_ context.Context) (*domain.InvoiceSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.invoiceSettings == nil {
		return nil, store.ErrNotFound
	}
	copySettings := *s.invoiceSettings
	return &copySettings, nil
}

func (s *Store) SaveInvoiceSettings(_ context.Context, settings domain.InvoiceSettings) (*domain.InvoiceSettings, error) {
	if strings.TrimSpace(settings.CompanyName) == "" {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings.UpdatedAt = time.Now().UTC()
	s.invoiceSettings = &settings
	copySettings := settings
	return &copySettings, nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func clonePriceItem(src domain.PriceItem) domain.PriceItem {
	dup := src
	upfront := make([]domain.SchemeDiscount, len(src.UpfrontDiscounts))
	copy(upfront, src.UpfrontDiscounts)
	dup.UpfrontDiscounts = upfront
	backend := make([]domain.SchemeDiscount, len(src.BackendDiscounts))
	copy(backend, src.BackendDiscounts)
	dup.BackendDiscounts = backend
	return dup
}

func cloneOrder(src domain.PurchaseOrder) domain.PurchaseOrder {
	dup := src
	lines := make([]domain.OrderLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	if src.Mapping != nil {
		mapping := make([]domain.MappingLine, len(src.Mapping))
		for i, m := range src.Mapping {
			serials := make([]string, len(m.Serials))
			copy(serials, m.Serials)
			m.Serials = serials
			mapping[i] = m
		}
		dup.Mapping = mapping
	}
	if src.Attachments != nil {
		attachments := make([]domain.Attachment, len(src.Attachments))
		copy(attachments, src.Attachments)
		dup.Attachments = attachments
	}
	return dup
}

func cloneSale(src domain.Sale) domain.Sale {
	dup := src
	lines := make([]domain.SaleLine, len(src.Lines))
	copy(lines, src.Lines)
	dup.Lines = lines
	return dup
}
