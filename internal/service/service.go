package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradehub/backend/internal/blob"
	"tradehub/backend/internal/cache"
	"tradehub/backend/internal/domain"
	"tradehub/backend/internal/insight"
	"tradehub/backend/internal/logger"
	"tradehub/backend/internal/pricing"
	"tradehub/backend/internal/store"
	"tradehub/backend/internal/xid"
)

// ErrExternalCall marks failures of outbound AI calls so the API layer can
// answer 502 instead of 500.
var ErrExternalCall = errors.New("external call failed")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const insightHistoryKeep = 15

type Service struct {
	repo           store.Repository
	insights       insight.Generator
	insightCache   cache.InsightCache
	blobs          blob.Store
	insightTTL     time.Duration
	insightTimeout time.Duration
}

func New(repo store.Repository, insights insight.Generator, insightCache cache.InsightCache, blobs blob.Store, insightTTL time.Duration, insightTimeout time.Duration) *Service {
	if insightTTL < time.Second {
		insightTTL = 10 * time.Minute
	}
	if insightTimeout < time.Second {
		insightTimeout = 30 * time.Second
	}

	return &Service{
		repo:           repo,
		insights:       insights,
		insightCache:   insightCache,
		blobs:          blobs,
		insightTTL:     insightTTL,
		insightTimeout: insightTimeout,
	}
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Actor{}, fmt.Errorf("admin role required")
	}
	return actor, nil
}

// Price deck

func (s *Service) ListPriceItems(ctx context.Context, manufacturer string, search string, limit int) ([]domain.PriceItemView, error) {
	items, err := s.repo.ListPriceItems(ctx, manufacturer, search, limit)
	if err != nil {
		return nil, err
	}

	views := make([]domain.PriceItemView, 0, len(items))
	for _, item := range items {
		views = append(views, domain.PriceItemView{PriceItem: item, Breakdown: pricing.Breakdown(item)})
	}
	return views, nil
}

func (s *Service) UploadPriceDeck(ctx context.Context, req domain.PriceDeckUploadRequest) ([]domain.PriceItemView, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("empty price deck: %w", store.ErrValidation)
	}

	batchID := xid.New("batch")
	batchDate := time.Now().UTC()
	if req.BatchDate != "" {
		parsed, err := time.Parse("2006-01-02", req.BatchDate)
		if err != nil {
			return nil, fmt.Errorf("bad batch date %q: %w", req.BatchDate, store.ErrValidation)
		}
		batchDate = parsed
	}

	views := make([]domain.PriceItemView, 0, len(req.Items))
	for _, row := range req.Items {
		if row.MinMarginPercent.IsNegative() || row.MinMarginPercent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("min margin %s for model %s: %w", row.MinMarginPercent, row.Model, store.ErrValidation)
		}
		itemBatchDate := batchDate
		if row.BatchDate != "" {
			parsed, err := time.Parse("2006-01-02", row.BatchDate)
			if err != nil {
				return nil, fmt.Errorf("bad batch date %q: %w", row.BatchDate, store.ErrValidation)
			}
			itemBatchDate = parsed
		}
		created, err := s.repo.CreatePriceItem(ctx, domain.PriceItem{
			Manufacturer:     row.Manufacturer,
			Model:            row.Model,
			Category:         row.Category,
			MRP:              row.MRP,
			BasicPrice:       row.BasicPrice,
			GSTPercent:       row.GSTPercent,
			UpfrontDiscounts: row.UpfrontDiscounts,
			BackendDiscounts: row.BackendDiscounts,
			MinMarginPercent: row.MinMarginPercent,
			BatchID:          batchID,
			BatchDate:        itemBatchDate,
		})
		if err != nil {
			return nil, err
		}
		views = append(views, domain.PriceItemView{PriceItem: *created, Breakdown: pricing.Breakdown(*created)})
	}

	logger.Log.Info().Str("batch_id", batchID).Int("rows", len(views)).Msg("price deck uploaded")
	return views, nil
}

func (s *Service) ParsePriceDeck(ctx context.Context, text string) ([]domain.PriceItemCreateRequest, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty deck text: %w", store.ErrValidation)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.insightTimeout)
	defer cancel()

	items, err := s.insights.ParsePriceDeck(callCtx, text)
	if err != nil {
		return nil, fmt.Errorf("price deck extraction: %v: %w", err, ErrExternalCall)
	}
	return items, nil
}

func (s *Service) UpdateMinMargin(ctx context.Context, priceItemID string, margin decimal.Decimal) (domain.PriceItemView, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.PriceItemView{}, err
	}
	if margin.IsNegative() || margin.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return domain.PriceItemView{}, fmt.Errorf("min margin %s out of range: %w", margin, store.ErrValidation)
	}

	updated, err := s.repo.UpdatePriceItemMinMargin(ctx, priceItemID, margin.String())
	if err != nil {
		return domain.PriceItemView{}, err
	}
	return domain.PriceItemView{PriceItem: *updated, Breakdown: pricing.Breakdown(*updated)}, nil
}

// Purchase orders

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.PurchaseOrder, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.PurchaseOrder{}, fmt.Errorf("authentication required")
	}
	if len(req.Lines) == 0 {
		return domain.PurchaseOrder{}, fmt.Errorf("order needs at least one line: %w", store.ErrValidation)
	}

	retailerID := actor.RetailerID
	status := domain.OrderRequested
	if actor.Role == domain.RoleAdmin {
		// Admin hub orders skip the request queue.
		retailerID = domain.HubRetailerID
		if req.RetailerID != "" {
			retailerID = req.RetailerID
		}
		status = domain.OrderApproved
	}
	if retailerID == "" {
		return domain.PurchaseOrder{}, fmt.Errorf("actor has no retailer: %w", store.ErrValidation)
	}

	retailer, err := s.repo.GetRetailerByID(ctx, retailerID)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	lines := make([]domain.OrderLine, 0, len(req.Lines))
	manufacturer := ""
	for _, lr := range req.Lines {
		if lr.Qty < 1 {
			return domain.PurchaseOrder{}, fmt.Errorf("qty must be positive for model %s: %w", lr.Model, store.ErrValidation)
		}
		item, err := s.repo.GetLatestPriceItemByModel(ctx, lr.Model)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.PurchaseOrder{}, fmt.Errorf("model %s has no price deck entry: %w", lr.Model, store.ErrNotFound)
			}
			return domain.PurchaseOrder{}, err
		}
		if manufacturer == "" {
			manufacturer = item.Manufacturer
		} else if !strings.EqualFold(manufacturer, item.Manufacturer) {
			return domain.PurchaseOrder{}, fmt.Errorf("order mixes manufacturers %s and %s: %w", manufacturer, item.Manufacturer, store.ErrValidation)
		}
		lines = append(lines, domain.OrderLine{
			PriceItemID:  item.ID,
			Model:        item.Model,
			Manufacturer: item.Manufacturer,
			Qty:          lr.Qty,
			UnitCost:     pricing.FinalCost(*item),
		})
	}

	order := domain.PurchaseOrder{
		ID:           requestOrderID(retailer.Name),
		RetailerID:   retailerID,
		Manufacturer: manufacturer,
		Status:       status,
		Lines:        lines,
		CreatedBy:    actor.Email,
	}

	created, err := s.repo.CreatePurchaseOrder(ctx, order)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	logger.Log.Info().Str("order_id", created.ID).Str("retailer_id", retailerID).Str("status", created.Status).Msg("purchase order created")
	return *created, nil
}

// requestOrderID builds ids like REQ-SH-1b2a9 from the retailer name.
func requestOrderID(retailerName string) string {
	initials := "XX"
	trimmed := strings.ToUpper(strings.TrimSpace(retailerName))
	if len(trimmed) >= 2 {
		initials = trimmed[:2]
	}
	raw := xid.New("req")
	suffix := raw[strings.LastIndex(raw, "-")+1:]
	return fmt.Sprintf("REQ-%s-%s", initials, suffix)
}

func (s *Service) ListOrders(ctx context.Context, retailerID string, status string, limit int) ([]domain.PurchaseOrder, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin {
		retailerID = actor.RetailerID
	}
	return s.repo.ListPurchaseOrders(ctx, retailerID, status, limit)
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.PurchaseOrder{}, fmt.Errorf("authentication required")
	}
	order, err := s.repo.GetPurchaseOrderByID(ctx, id)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	if actor.Role != domain.RoleAdmin && order.RetailerID != actor.RetailerID {
		return domain.PurchaseOrder{}, store.ErrNotFound
	}
	return *order, nil
}

func (s *Service) transitionOrder(ctx context.Context, id string, status string) (domain.PurchaseOrder, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.PurchaseOrder{}, err
	}
	updated, err := s.repo.UpdatePurchaseOrderStatus(ctx, id, status, time.Now().UTC())
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	logger.Log.Info().Str("order_id", id).Str("status", status).Msg("order status changed")
	return *updated, nil
}

func (s *Service) ApproveOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	return s.transitionOrder(ctx, id, domain.OrderApproved)
}

func (s *Service) HoldOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	return s.transitionOrder(ctx, id, domain.OrderOnHold)
}

func (s *Service) RejectOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	return s.transitionOrder(ctx, id, domain.OrderRejected)
}

func (s *Service) ShipOrder(ctx context.Context, id string) (domain.PurchaseOrder, error) {
	return s.transitionOrder(ctx, id, domain.OrderShipped)
}

func (s *Service) Consolidate(ctx context.Context, req domain.ConsolidateRequest) (domain.ConsolidateResponse, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ConsolidateResponse{}, err
	}
	if len(req.Selections) == 0 {
		return domain.ConsolidateResponse{}, fmt.Errorf("nothing selected: %w", store.ErrValidation)
	}

	// Selections are composite order+line keys; collect the line ids
	// claimed per order so dangling references can be rejected.
	orderIDs := make([]string, 0, len(req.Selections))
	linesByOrder := make(map[string][]string, len(req.Selections))
	for _, sel := range req.Selections {
		if _, ok := linesByOrder[sel.OrderID]; !ok {
			orderIDs = append(orderIDs, sel.OrderID)
			linesByOrder[sel.OrderID] = nil
		}
		if sel.PriceItemID != "" {
			linesByOrder[sel.OrderID] = append(linesByOrder[sel.OrderID], sel.PriceItemID)
		}
	}

	// Same-brand guard: validated across the whole selection before any
	// order is touched.
	manufacturer := ""
	for _, id := range orderIDs {
		order, err := s.repo.GetPurchaseOrderByID(ctx, id)
		if err != nil {
			return domain.ConsolidateResponse{}, err
		}
		if order.Status != domain.OrderApproved {
			return domain.ConsolidateResponse{}, fmt.Errorf("order %s is %s, not %s: %w", id, order.Status, domain.OrderApproved, store.ErrPrecondition)
		}
		for _, priceItemID := range linesByOrder[id] {
			if !orderHasLine(*order, priceItemID) {
				return domain.ConsolidateResponse{}, fmt.Errorf("order %s has no line for price item %s: %w", id, priceItemID, store.ErrValidation)
			}
		}
		if manufacturer == "" {
			manufacturer = order.Manufacturer
		} else if !strings.EqualFold(manufacturer, order.Manufacturer) {
			return domain.ConsolidateResponse{}, fmt.Errorf("selection mixes manufacturers %s and %s: %w", manufacturer, order.Manufacturer, store.ErrValidation)
		}
	}

	masterPOID := masterOrderID(manufacturer)
	if err := s.repo.StampMasterPO(ctx, orderIDs, masterPOID, domain.OrderMasterOrdered, time.Now().UTC()); err != nil {
		return domain.ConsolidateResponse{}, err
	}

	logger.Log.Info().Str("master_po_id", masterPOID).Int("orders", len(orderIDs)).Msg("orders consolidated")
	return domain.ConsolidateResponse{MasterPOID: masterPOID, OrderIDs: orderIDs}, nil
}

func orderHasLine(order domain.PurchaseOrder, priceItemID string) bool {
	for _, line := range order.Lines {
		if line.PriceItemID == priceItemID {
			return true
		}
	}
	return false
}

func masterOrderID(manufacturer string) string {
	raw := xid.New("mpo")
	suffix := raw[strings.LastIndex(raw, "-")+1:]
	brand := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(manufacturer), " ", ""))
	return fmt.Sprintf("M-PO-%s-%d-%s", brand, time.Now().Unix(), suffix)
}

func splitSerials(text string) []string {
	serials := make([]string, 0, 16)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		serials = append(serials, line)
	}
	return serials
}

func (s *Service) ReceiveOrder(ctx context.Context, orderID string, req domain.ReceiveOrderRequest) (domain.PurchaseOrder, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.PurchaseOrder{}, err
	}
	if len(req.Lines) == 0 {
		return domain.PurchaseOrder{}, fmt.Errorf("no receive lines: %w", store.ErrValidation)
	}

	order, err := s.repo.GetPurchaseOrderByID(ctx, orderID)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}

	orderedByItem := make(map[string]int, len(order.Lines))
	for _, line := range order.Lines {
		orderedByItem[line.PriceItemID] += line.Qty
	}

	now := time.Now().UTC()
	units := make([]domain.InventoryUnit, 0, 32)
	mapping := make([]domain.MappingLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		serials := splitSerials(line.SerialsText)
		// One unit per supplied serial; ordered quantity does not cap this.
		for _, serial := range serials {
			units = append(units, domain.InventoryUnit{
				SerialNumber:   serial,
				PriceItemID:    line.PriceItemID,
				RetailerID:     order.RetailerID,
				Status:         domain.UnitInStock,
				RetailerPOID:   order.ID,
				MasterPOID:     order.MasterPOID,
				BrandInvoiceID: req.BrandInvoiceID,
				InwardDate:     now,
			})
		}
		mapping = append(mapping, domain.MappingLine{
			PriceItemID: line.PriceItemID,
			OrderedQty:  orderedByItem[line.PriceItemID],
			ReceivedQty: len(serials),
			Serials:     serials,
		})
	}

	received, err := s.repo.ReceivePurchaseOrder(ctx, orderID, req.BrandInvoiceID, mapping, units, now)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	logger.Log.Info().Str("order_id", orderID).Int("units", len(units)).Str("brand_invoice_id", req.BrandInvoiceID).Msg("order received")
	return *received, nil
}

func (s *Service) AttachOrderDocument(ctx context.Context, orderID string, fileName string, contentType string, data []byte) (domain.PurchaseOrder, error) {
	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	if len(data) == 0 || strings.TrimSpace(fileName) == "" {
		return domain.PurchaseOrder{}, fmt.Errorf("empty attachment: %w", store.ErrValidation)
	}
	if _, err := s.repo.GetPurchaseOrderByID(ctx, orderID); err != nil {
		return domain.PurchaseOrder{}, err
	}

	attachmentID := xid.New("att")
	objectKey := fmt.Sprintf("orders/%s/%s-%s", orderID, attachmentID, fileName)
	if err := s.blobs.Put(ctx, objectKey, data, contentType); err != nil {
		return domain.PurchaseOrder{}, err
	}

	updated, err := s.repo.AddOrderAttachment(ctx, orderID, domain.Attachment{
		ID:          attachmentID,
		FileName:    fileName,
		ContentType: contentType,
		ObjectKey:   objectKey,
		SizeBytes:   int64(len(data)),
		UploadedBy:  actor.Email,
		UploadedAt:  time.Now().UTC(),
	})
	if err != nil {
		return domain.PurchaseOrder{}, err
	}
	return *updated, nil
}

func (s *Service) GetOrderAttachment(ctx context.Context, orderID string, attachmentID string) ([]byte, string, string, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, "", "", fmt.Errorf("authentication required")
	}
	order, err := s.repo.GetPurchaseOrderByID(ctx, orderID)
	if err != nil {
		return nil, "", "", err
	}
	for _, att := range order.Attachments {
		if att.ID != attachmentID {
			continue
		}
		data, contentType, err := s.blobs.Get(ctx, att.ObjectKey)
		if err != nil {
			return nil, "", "", err
		}
		return data, contentType, att.FileName, nil
	}
	return nil, "", "", fmt.Errorf("attachment %s: %w", attachmentID, store.ErrNotFound)
}

// Inventory

func (s *Service) InventoryGroups(ctx context.Context, retailerID string, search string, sortKey string, sortDir string) ([]domain.InventoryGroup, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin {
		retailerID = actor.RetailerID
	}

	less, err := inventoryGroupLess(sortKey, sortDir)
	if err != nil {
		return nil, err
	}

	units, err := s.repo.ListInventoryUnits(ctx, retailerID, domain.UnitInStock, 0)
	if err != nil {
		return nil, err
	}

	priceItems, err := s.priceItemsForUnits(ctx, units)
	if err != nil {
		return nil, err
	}

	search = strings.ToLower(strings.TrimSpace(search))
	now := time.Now().UTC()
	groups := make(map[string]*domain.InventoryGroup)
	order := make([]string, 0, 16)
	for _, unit := range units {
		item, hasItem := priceItems[unit.PriceItemID]
		if search != "" {
			haystack := strings.ToLower(unit.SerialNumber + " " + item.Model + " " + item.Manufacturer)
			if !strings.Contains(haystack, search) {
				continue
			}
		}

		key := unit.PriceItemID + "::" + unit.RetailerID
		group, exists := groups[key]
		if !exists {
			group = &domain.InventoryGroup{
				PriceItemID: unit.PriceItemID,
				RetailerID:  unit.RetailerID,
			}
			if hasItem {
				group.Model = item.Model
				group.Manufacturer = item.Manufacturer
				group.UnitCost = pricing.FinalCost(item)
			}
			groups[key] = group
			order = append(order, key)
		}
		group.UnitCount++
		group.TotalValue = group.TotalValue.Add(group.UnitCost)
		group.Units = append(group.Units, domain.InventoryGroupUnit{
			ID:           unit.ID,
			SerialNumber: unit.SerialNumber,
			AgeDays:      int(now.Sub(unit.InwardDate).Hours() / 24),
		})
	}

	result := make([]domain.InventoryGroup, 0, len(order))
	for _, key := range order {
		result = append(result, *groups[key])
	}
	sort.SliceStable(result, func(i, j int) bool {
		return less(result[i], result[j])
	})
	return result, nil
}

// inventoryGroupLess builds the comparator for a caller-selected sort key.
// String keys compare case-insensitively, numeric keys by value. The
// direction toggles between ascending (default) and descending.
func inventoryGroupLess(sortKey string, sortDir string) (func(a, b domain.InventoryGroup) bool, error) {
	desc := false
	switch strings.ToLower(strings.TrimSpace(sortDir)) {
	case "", "asc":
	case "desc":
		desc = true
	default:
		return nil, fmt.Errorf("sort direction %q: %w", sortDir, store.ErrValidation)
	}

	var less func(a, b domain.InventoryGroup) bool
	switch strings.ToLower(strings.TrimSpace(sortKey)) {
	case "", "model":
		less = func(a, b domain.InventoryGroup) bool {
			return strings.ToLower(a.Model) < strings.ToLower(b.Model)
		}
	case "manufacturer":
		less = func(a, b domain.InventoryGroup) bool {
			return strings.ToLower(a.Manufacturer) < strings.ToLower(b.Manufacturer)
		}
	case "unit_count":
		less = func(a, b domain.InventoryGroup) bool {
			return a.UnitCount < b.UnitCount
		}
	case "unit_cost":
		less = func(a, b domain.InventoryGroup) bool {
			return a.UnitCost.LessThan(b.UnitCost)
		}
	case "total_value":
		less = func(a, b domain.InventoryGroup) bool {
			return a.TotalValue.LessThan(b.TotalValue)
		}
	default:
		return nil, fmt.Errorf("sort key %q: %w", sortKey, store.ErrValidation)
	}

	if desc {
		inner := less
		less = func(a, b domain.InventoryGroup) bool { return inner(b, a) }
	}
	return less, nil
}

func (s *Service) priceItemsForUnits(ctx context.Context, units []domain.InventoryUnit) (map[string]domain.PriceItem, error) {
	idSet := make(map[string]struct{}, len(units))
	ids := make([]string, 0, len(units))
	for _, unit := range units {
		if _, ok := idSet[unit.PriceItemID]; ok {
			continue
		}
		idSet[unit.PriceItemID] = struct{}{}
		ids = append(ids, unit.PriceItemID)
	}
	return s.repo.GetPriceItemsByIDs(ctx, ids)
}

const untaggedGroupID = "UNTAGGED"

func (s *Service) Reconciliation(ctx context.Context) ([]domain.ReconciliationGroup, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}

	units, err := s.repo.ListInventoryUnits(ctx, "", "", 0)
	if err != nil {
		return nil, err
	}
	orders, err := s.repo.ListPurchaseOrders(ctx, "", "", 0)
	if err != nil {
		return nil, err
	}
	priceItems, err := s.priceItemsForUnits(ctx, units)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		group domain.ReconciliationGroup
	}
	buckets := make(map[string]*bucket)
	keyOrder := make([]string, 0, 16)

	groupKey := func(unit domain.InventoryUnit) (string, string, string) {
		if unit.BrandInvoiceID != "" {
			return unit.BrandInvoiceID, unit.BrandInvoiceID, unit.RetailerPOID
		}
		if unit.RetailerPOID != "" {
			return unit.RetailerPOID, "", unit.RetailerPOID
		}
		return untaggedGroupID, "", ""
	}

	for _, unit := range units {
		key, brandInvoiceID, retailerPOID := groupKey(unit)
		b, exists := buckets[key]
		if !exists {
			b = &bucket{group: domain.ReconciliationGroup{
				GroupID:        key,
				BrandInvoiceID: brandInvoiceID,
				RetailerPOID:   retailerPOID,
			}}
			buckets[key] = b
			keyOrder = append(keyOrder, key)
		}
		b.group.ReceivedUnits++
		if item, ok := priceItems[unit.PriceItemID]; ok {
			b.group.ReceivedValue = b.group.ReceivedValue.Add(pricing.FinalCost(item))
		}
	}

	// Ordered totals come from every order sharing the group's invoice or
	// request id, via master-PO linkage.
	ordersByID := make(map[string]domain.PurchaseOrder, len(orders))
	for _, order := range orders {
		ordersByID[order.ID] = order
	}
	for _, b := range buckets {
		if b.group.GroupID == untaggedGroupID {
			continue
		}
		related := make(map[string]domain.PurchaseOrder)
		if b.group.BrandInvoiceID != "" {
			for _, order := range orders {
				if order.BrandInvoiceID == b.group.BrandInvoiceID {
					related[order.ID] = order
				}
			}
		}
		if b.group.RetailerPOID != "" {
			if order, ok := ordersByID[b.group.RetailerPOID]; ok {
				related[order.ID] = order
				if order.MasterPOID != "" {
					for _, sibling := range orders {
						if sibling.MasterPOID == order.MasterPOID {
							related[sibling.ID] = sibling
						}
					}
				}
			}
		}
		for _, order := range related {
			for _, line := range order.Lines {
				b.group.OrderedUnits += line.Qty
			}
			b.group.OrderedValue = b.group.OrderedValue.Add(pricing.OrderValue(order))
		}
	}

	result := make([]domain.ReconciliationGroup, 0, len(keyOrder))
	for _, key := range keyOrder {
		group := buckets[key].group
		group.MappingPercent = pricing.MappingPercent(group.ReceivedUnits, group.OrderedUnits)
		result = append(result, group)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].GroupID < result[j].GroupID })
	return result, nil
}

// Sales

func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Sale{}, fmt.Errorf("authentication required")
	}
	retailerID := actor.RetailerID
	if actor.Role == domain.RoleAdmin {
		retailerID = domain.HubRetailerID
	}
	if retailerID == "" {
		return domain.Sale{}, fmt.Errorf("actor has no retailer: %w", store.ErrValidation)
	}
	if len(req.Lines) == 0 {
		return domain.Sale{}, fmt.Errorf("empty cart: %w", store.ErrValidation)
	}
	if !domain.ValidPaymentMode(req.PaymentMode) {
		return domain.Sale{}, fmt.Errorf("unknown payment mode %q: %w", req.PaymentMode, store.ErrValidation)
	}

	unitIDs := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		unitIDs = append(unitIDs, line.UnitID)
	}
	units, err := s.repo.GetInventoryUnitsByIDs(ctx, unitIDs)
	if err != nil {
		return domain.Sale{}, err
	}

	unitsSlice := make([]domain.InventoryUnit, 0, len(units))
	for _, unit := range units {
		unitsSlice = append(unitsSlice, unit)
	}
	priceItems, err := s.priceItemsForUnits(ctx, unitsSlice)
	if err != nil {
		return domain.Sale{}, err
	}

	total := decimal.Zero
	saleLines := make([]domain.SaleLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		unit, exists := units[line.UnitID]
		if !exists {
			return domain.Sale{}, fmt.Errorf("unit %s: %w", line.UnitID, store.ErrNotFound)
		}
		if unit.RetailerID != retailerID {
			return domain.Sale{}, fmt.Errorf("unit %s belongs to another retailer: %w", line.UnitID, store.ErrValidation)
		}

		price := line.SellingPrice
		item, hasItem := priceItems[unit.PriceItemID]
		if price.IsZero() && hasItem {
			// Default to MSP, falling back to basic price.
			breakdown := pricing.Breakdown(item)
			price = breakdown.MSP
			if price.IsZero() {
				price = item.BasicPrice
			}
		}
		if price.LessThanOrEqual(decimal.Zero) {
			return domain.Sale{}, fmt.Errorf("unit %s has no selling price: %w", line.UnitID, store.ErrValidation)
		}
		if line.Discount.IsNegative() || line.Discount.GreaterThan(price) {
			return domain.Sale{}, fmt.Errorf("discount %s out of range for unit %s: %w", line.Discount, line.UnitID, store.ErrValidation)
		}

		total = total.Add(price.Sub(line.Discount))
		saleLine := domain.SaleLine{
			UnitID:       unit.ID,
			SerialNumber: unit.SerialNumber,
			PriceItemID:  unit.PriceItemID,
			SellingPrice: price,
			Discount:     line.Discount,
		}
		if hasItem {
			saleLine.Model = item.Model
		}
		saleLines = append(saleLines, saleLine)
	}

	now := time.Now().UTC()
	seq, err := s.repo.NextInvoiceSequence(ctx, now.Year())
	if err != nil {
		return domain.Sale{}, err
	}
	invoiceNumber := fmt.Sprintf("INV-%d-%06d", now.Year(), seq)

	if err := s.repo.MarkUnitsSold(ctx, saleLines, invoiceNumber, now); err != nil {
		return domain.Sale{}, err
	}

	sale := domain.Sale{
		InvoiceNumber: invoiceNumber,
		RetailerID:    retailerID,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		PaymentMode:   req.PaymentMode,
		Lines:         saleLines,
		Total:         total,
		CreatedBy:     actor.Email,
		CreatedAt:     now,
	}
	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}
	logger.Log.Info().Str("invoice", invoiceNumber).Str("retailer_id", retailerID).Str("total", total.String()).Msg("sale finalized")
	return *created, nil
}

func (s *Service) ListSales(ctx context.Context, retailerID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin {
		retailerID = actor.RetailerID
	}
	return s.repo.ListSales(ctx, retailerID, from, to, limit)
}

// Retailers

func (s *Service) CreateRetailer(ctx context.Context, req domain.RetailerCreateRequest) (domain.Retailer, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Retailer{}, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return domain.Retailer{}, fmt.Errorf("retailer name required: %w", store.ErrValidation)
	}
	if req.PartnerSharePercent.IsNegative() || req.PartnerSharePercent.GreaterThan(decimal.NewFromInt(100)) {
		return domain.Retailer{}, fmt.Errorf("partner share %s out of range: %w", req.PartnerSharePercent, store.ErrValidation)
	}

	created, err := s.repo.CreateRetailer(ctx, domain.Retailer{
		Name:                req.Name,
		OwnerName:           req.OwnerName,
		Phone:               req.Phone,
		Email:               req.Email,
		City:                req.City,
		Area:                req.Area,
		Pincode:             req.Pincode,
		ShowroomAddress:     req.ShowroomAddress,
		GodownAddress:       req.GodownAddress,
		CreditLimit:         req.CreditLimit,
		PartnerSharePercent: req.PartnerSharePercent,
	})
	if err != nil {
		return domain.Retailer{}, err
	}
	return *created, nil
}

func (s *Service) ListRetailers(ctx context.Context) ([]domain.Retailer, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return nil, fmt.Errorf("authentication required")
	}
	return s.repo.ListRetailers(ctx)
}

func (s *Service) GetRetailer(ctx context.Context, id string) (domain.Retailer, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Retailer{}, fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin && actor.RetailerID != id {
		return domain.Retailer{}, store.ErrNotFound
	}
	retailer, err := s.repo.GetRetailerByID(ctx, id)
	if err != nil {
		return domain.Retailer{}, err
	}
	return *retailer, nil
}

func (s *Service) UpdateRetailer(ctx context.Context, id string, req domain.RetailerUpdateRequest) (domain.Retailer, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Retailer{}, err
	}

	existing, err := s.repo.GetRetailerByID(ctx, id)
	if err != nil {
		return domain.Retailer{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Retailer{}, fmt.Errorf("retailer name required: %w", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.OwnerName != nil {
		updated.OwnerName = *req.OwnerName
	}
	if req.Phone != nil {
		updated.Phone = *req.Phone
	}
	if req.City != nil {
		updated.City = *req.City
	}
	if req.Area != nil {
		updated.Area = *req.Area
	}
	if req.Pincode != nil {
		updated.Pincode = *req.Pincode
	}
	if req.ShowroomAddress != nil {
		updated.ShowroomAddress = *req.ShowroomAddress
	}
	if req.GodownAddress != nil {
		updated.GodownAddress = *req.GodownAddress
	}
	if req.CreditLimit != nil {
		if req.CreditLimit.IsNegative() {
			return domain.Retailer{}, fmt.Errorf("credit limit negative: %w", store.ErrValidation)
		}
		updated.CreditLimit = *req.CreditLimit
	}
	if req.CreditUsed != nil {
		if req.CreditUsed.IsNegative() {
			return domain.Retailer{}, fmt.Errorf("credit used negative: %w", store.ErrValidation)
		}
		updated.CreditUsed = *req.CreditUsed
	}
	if req.PartnerSharePercent != nil {
		if req.PartnerSharePercent.IsNegative() || req.PartnerSharePercent.GreaterThan(decimal.NewFromInt(100)) {
			return domain.Retailer{}, fmt.Errorf("partner share out of range: %w", store.ErrValidation)
		}
		updated.PartnerSharePercent = *req.PartnerSharePercent
	}

	saved, err := s.repo.UpdateRetailer(ctx, updated)
	if err != nil {
		return domain.Retailer{}, err
	}
	return *saved, nil
}

func (s *Service) RetailerPerformance(ctx context.Context, retailerID string, from time.Time, to time.Time) (domain.RetailerPerformance, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.RetailerPerformance{}, fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin && actor.RetailerID != retailerID {
		return domain.RetailerPerformance{}, fmt.Errorf("admin role required")
	}

	retailer, err := s.repo.GetRetailerByID(ctx, retailerID)
	if err != nil {
		return domain.RetailerPerformance{}, err
	}

	units, err := s.repo.ListInventoryUnits(ctx, retailerID, domain.UnitSold, 0)
	if err != nil {
		return domain.RetailerPerformance{}, err
	}
	priceItems, err := s.priceItemsForUnits(ctx, units)
	if err != nil {
		return domain.RetailerPerformance{}, err
	}

	perf := domain.RetailerPerformance{RetailerID: retailerID}
	for _, unit := range units {
		if unit.SaleDate == nil {
			continue
		}
		if !from.IsZero() && unit.SaleDate.Before(from) {
			continue
		}
		if !to.IsZero() && !unit.SaleDate.Before(to) {
			continue
		}
		perf.UnitsSold++
		perf.Revenue = perf.Revenue.Add(unit.SellingPrice.Sub(unit.Discount))
		if item, ok := priceItems[unit.PriceItemID]; ok {
			perf.Cost = perf.Cost.Add(pricing.FinalCost(item))
		}
	}
	perf.GrossMargin = perf.Revenue.Sub(perf.Cost)
	if perf.Revenue.IsPositive() {
		perf.MarginPercent = perf.GrossMargin.Mul(decimal.NewFromInt(100)).Div(perf.Revenue)
	}
	perf.PartnerShare = perf.GrossMargin.Mul(retailer.PartnerSharePercent).Div(decimal.NewFromInt(100))
	perf.HubShare = perf.GrossMargin.Sub(perf.PartnerShare)
	return perf, nil
}

// Dashboard

func (s *Service) DashboardMetrics(ctx context.Context, from time.Time, to time.Time) (domain.DashboardMetrics, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.DashboardMetrics{}, fmt.Errorf("authentication required")
	}
	retailerID := ""
	if actor.Role != domain.RoleAdmin {
		retailerID = actor.RetailerID
	}

	sold, err := s.repo.ListInventoryUnits(ctx, retailerID, domain.UnitSold, 0)
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	inStock, err := s.repo.ListInventoryUnits(ctx, retailerID, domain.UnitInStock, 0)
	if err != nil {
		return domain.DashboardMetrics{}, err
	}
	priceItems, err := s.priceItemsForUnits(ctx, append(append([]domain.InventoryUnit{}, sold...), inStock...))
	if err != nil {
		return domain.DashboardMetrics{}, err
	}

	metrics := domain.DashboardMetrics{}
	if !from.IsZero() {
		metrics.From = from.Format("2006-01-02")
	}
	if !to.IsZero() {
		metrics.To = to.Format("2006-01-02")
	}

	brandIndex := make(map[string]int)
	for _, unit := range sold {
		if unit.SaleDate == nil {
			continue
		}
		if !from.IsZero() && unit.SaleDate.Before(from) {
			continue
		}
		if !to.IsZero() && !unit.SaleDate.Before(to) {
			continue
		}
		revenue := unit.SellingPrice.Sub(unit.Discount)
		cost := decimal.Zero
		brand := "UNKNOWN"
		if item, ok := priceItems[unit.PriceItemID]; ok {
			cost = pricing.FinalCost(item)
			brand = item.Manufacturer
		}
		metrics.UnitsSold++
		metrics.Revenue = metrics.Revenue.Add(revenue)
		metrics.Cost = metrics.Cost.Add(cost)

		idx, ok := brandIndex[brand]
		if !ok {
			idx = len(metrics.ByBrand)
			brandIndex[brand] = idx
			metrics.ByBrand = append(metrics.ByBrand, domain.BrandMetric{Manufacturer: brand})
		}
		metrics.ByBrand[idx].UnitsSold++
		metrics.ByBrand[idx].Revenue = metrics.ByBrand[idx].Revenue.Add(revenue)
		metrics.ByBrand[idx].GrossMargin = metrics.ByBrand[idx].GrossMargin.Add(revenue.Sub(cost))
	}

	metrics.GrossMargin = metrics.Revenue.Sub(metrics.Cost)
	if metrics.Revenue.IsPositive() {
		metrics.MarginPercent = metrics.GrossMargin.Mul(decimal.NewFromInt(100)).Div(metrics.Revenue)
	}

	for _, unit := range inStock {
		metrics.UnitsInStock++
		if item, ok := priceItems[unit.PriceItemID]; ok {
			metrics.StockValue = metrics.StockValue.Add(pricing.FinalCost(item))
		}
	}

	sort.Slice(metrics.ByBrand, func(i, j int) bool {
		return metrics.ByBrand[i].Manufacturer < metrics.ByBrand[j].Manufacturer
	})
	return metrics, nil
}

// Users and access

func (s *Service) Signup(ctx context.Context, req domain.SignupRequest, passwordHash string) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || passwordHash == "" {
		return domain.User{}, fmt.Errorf("email and password required: %w", store.ErrValidation)
	}

	entry, err := s.repo.GetAllowedUser(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, fmt.Errorf("email %s is not on the allow-list: %w", email, store.ErrValidation)
		}
		return domain.User{}, err
	}

	created, err := s.repo.CreateUser(ctx, domain.User{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		Role:         entry.Role,
		SubRole:      entry.SubRole,
		RetailerID:   entry.RetailerID,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return domain.User{}, err
	}
	logger.Log.Info().Str("email", email).Str("role", created.Role).Msg("user signed up")
	return *created, nil
}

func (s *Service) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

func (s *Service) UpsertAllowedUser(ctx context.Context, req domain.AllowedUserCreateRequest) (domain.AllowedUser, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.AllowedUser{}, fmt.Errorf("authentication required")
	}

	entry := domain.AllowedUser{
		Email:      strings.ToLower(strings.TrimSpace(req.Email)),
		Role:       req.Role,
		SubRole:    req.SubRole,
		RetailerID: req.RetailerID,
		AddedBy:    actor.Email,
	}
	if entry.Email == "" {
		return domain.AllowedUser{}, fmt.Errorf("email required: %w", store.ErrValidation)
	}
	if entry.Role != domain.RoleAdmin && entry.Role != domain.RoleRetailer {
		return domain.AllowedUser{}, fmt.Errorf("unknown role %q: %w", entry.Role, store.ErrValidation)
	}

	if actor.Role != domain.RoleAdmin {
		// Retailers may only manage staff entries for their own retailer.
		if entry.Role != domain.RoleRetailer || actor.RetailerID == "" {
			return domain.AllowedUser{}, fmt.Errorf("admin role required")
		}
		entry.RetailerID = actor.RetailerID
	}
	if entry.Role == domain.RoleRetailer && entry.RetailerID == "" {
		return domain.AllowedUser{}, fmt.Errorf("retailer entry needs a retailer id: %w", store.ErrValidation)
	}

	if err := s.repo.UpsertAllowedUser(ctx, entry); err != nil {
		return domain.AllowedUser{}, err
	}
	return entry, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.User, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) ListAllowedUsers(ctx context.Context) ([]domain.AllowedUser, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	retailerID := ""
	if actor.Role != domain.RoleAdmin {
		retailerID = actor.RetailerID
	}
	return s.repo.ListAllowedUsers(ctx, retailerID)
}

func (s *Service) DeleteAllowedUser(ctx context.Context, email string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin {
		entry, err := s.repo.GetAllowedUser(ctx, email)
		if err != nil {
			return err
		}
		if entry.RetailerID == "" || entry.RetailerID != actor.RetailerID {
			return fmt.Errorf("admin role required")
		}
	}
	return s.repo.DeleteAllowedUser(ctx, email)
}

// Insights

func (s *Service) GenerateInsightReport(ctx context.Context) (domain.InsightReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.InsightReport{}, err
	}

	snapshot, err := s.buildSnapshot(ctx)
	if err != nil {
		return domain.InsightReport{}, err
	}

	cacheKey, err := snapshotCacheKey(snapshot)
	if err == nil {
		if cached, hit, cacheErr := s.insightCache.Get(ctx, cacheKey); cacheErr == nil && hit {
			return *cached, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.insightTimeout)
	defer cancel()

	report, err := s.insights.GenerateReport(callCtx, snapshot)
	if err != nil {
		return domain.InsightReport{}, fmt.Errorf("insight generation: %v: %w", err, ErrExternalCall)
	}

	if err := s.repo.SaveInsightReport(ctx, *report, insightHistoryKeep); err != nil {
		return domain.InsightReport{}, err
	}
	if cacheKey != "" {
		if err := s.insightCache.Set(ctx, cacheKey, report, s.insightTTL); err != nil {
			logger.Log.Warn().Err(err).Msg("failed to cache insight report")
		}
	}
	return *report, nil
}

func (s *Service) ListInsightReports(ctx context.Context) ([]domain.InsightReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListInsightReports(ctx)
}

func snapshotCacheKey(snapshot insight.Snapshot) (string, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return "insight:" + hex.EncodeToString(sum[:]), nil
}

func (s *Service) buildSnapshot(ctx context.Context) (insight.Snapshot, error) {
	metrics, err := s.DashboardMetrics(ctx, time.Time{}, time.Time{})
	if err != nil {
		return insight.Snapshot{}, err
	}
	pending, err := s.repo.ListPurchaseOrders(ctx, "", domain.OrderRequested, 0)
	if err != nil {
		return insight.Snapshot{}, err
	}

	topBrands := make([]string, 0, 3)
	byRevenue := append([]domain.BrandMetric{}, metrics.ByBrand...)
	sort.Slice(byRevenue, func(i, j int) bool { return byRevenue[i].Revenue.GreaterThan(byRevenue[j].Revenue) })
	for _, brand := range byRevenue {
		if len(topBrands) == 3 {
			break
		}
		topBrands = append(topBrands, brand.Manufacturer)
	}

	return insight.Snapshot{
		Revenue:       metrics.Revenue.String(),
		Cost:          metrics.Cost.String(),
		GrossMargin:   metrics.GrossMargin.String(),
		MarginPercent: metrics.MarginPercent.Round(2).String(),
		UnitsSold:     metrics.UnitsSold,
		UnitsInStock:  metrics.UnitsInStock,
		StockValue:    metrics.StockValue.String(),
		TopBrands:     topBrands,
		PendingOrders: len(pending),
	}, nil
}

// Settings

func (s *Service) GetInvoiceSettings(ctx context.Context) (domain.InvoiceSettings, error) {
	if _, ok := ActorFromContext(ctx); !ok {
		return domain.InvoiceSettings{}, fmt.Errorf("authentication required")
	}
	settings, err := s.repo.GetInvoiceSettings(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.InvoiceSettings{CompanyName: "Trade Hub"}, nil
		}
		return domain.InvoiceSettings{}, err
	}
	return *settings, nil
}

func (s *Service) SaveInvoiceSettings(ctx context.Context, settings domain.InvoiceSettings) (domain.InvoiceSettings, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.InvoiceSettings{}, err
	}
	saved, err := s.repo.SaveInvoiceSettings(ctx, settings)
	if err != nil {
		return domain.InvoiceSettings{}, err
	}
	return *saved, nil
}
