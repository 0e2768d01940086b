package store

import (
	"context"
	"errors"
	"time"

	"tradehub/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrPrecondition = errors.New("precondition failed")
)

type Repository interface {
	CreatePriceItem(ctx context.Context, item domain.PriceItem) (*domain.PriceItem, error)
	GetPriceItemByID(ctx context.Context, id string) (*domain.PriceItem, error)
	GetPriceItemsByIDs(ctx context.Context, ids []string) (map[string]domain.PriceItem, error)
	// GetLatestPriceItemByModel resolves the row from the most recent batch for
	// the model, case-insensitively.
	GetLatestPriceItemByModel(ctx context.Context, model string) (*domain.PriceItem, error)
	ListPriceItems(ctx context.Context, manufacturer string, search string, limit int) ([]domain.PriceItem, error)
	UpdatePriceItemMinMargin(ctx context.Context, id string, marginPercent string) (*domain.PriceItem, error)

	CreatePurchaseOrder(ctx context.Context, order domain.PurchaseOrder) (*domain.PurchaseOrder, error)
	GetPurchaseOrderByID(ctx context.Context, id string) (*domain.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, retailerID string, status string, limit int) ([]domain.PurchaseOrder, error)
	UpdatePurchaseOrderStatus(ctx context.Context, id string, status string, at time.Time) (*domain.PurchaseOrder, error)
	// StampMasterPO sets the master-PO id and flips status on every listed
	// order in one batch.
	StampMasterPO(ctx context.Context, orderIDs []string, masterPOID string, status string, at time.Time) error
	ReceivePurchaseOrder(ctx context.Context, id string, brandInvoiceID string, mapping []domain.MappingLine, units []domain.InventoryUnit, at time.Time) (*domain.PurchaseOrder, error)
	AddOrderAttachment(ctx context.Context, orderID string, attachment domain.Attachment) (*domain.PurchaseOrder, error)

	ListInventoryUnits(ctx context.Context, retailerID string, status string, limit int) ([]domain.InventoryUnit, error)
	GetInventoryUnitsByIDs(ctx context.Context, ids []string) (map[string]domain.InventoryUnit, error)
	// MarkUnitsSold flips the listed units from IN_STOCK to SOLD and stamps
	// sale metadata; fails without mutation when any unit is not IN_STOCK.
	MarkUnitsSold(ctx context.Context, lines []domain.SaleLine, invoiceNumber string, at time.Time) error

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	ListSales(ctx context.Context, retailerID string, from time.Time, to time.Time, limit int) ([]domain.Sale, error)
	// NextInvoiceSequence returns a strictly increasing counter scoped to the
	// given year.
	NextInvoiceSequence(ctx context.Context, year int) (int64, error)

	CreateRetailer(ctx context.Context, retailer domain.Retailer) (*domain.Retailer, error)
	GetRetailerByID(ctx context.Context, id string) (*domain.Retailer, error)
	ListRetailers(ctx context.Context) ([]domain.Retailer, error)
	UpdateRetailer(ctx context.Context, retailer domain.Retailer) (*domain.Retailer, error)

	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpsertAllowedUser(ctx context.Context, entry domain.AllowedUser) error
	GetAllowedUser(ctx context.Context, email string) (*domain.AllowedUser, error)
	ListAllowedUsers(ctx context.Context, retailerID string) ([]domain.AllowedUser, error)
	DeleteAllowedUser(ctx context.Context, email string) error

	SaveInsightReport(ctx context.Context, report domain.InsightReport, keep int) error
	ListInsightReports(ctx context.Context) ([]domain.InsightReport, error)

	GetInvoiceSettings(ctx context.Context) (*domain.InvoiceSettings, error)
	SaveInvoiceSettings(ctx context.Context, settings domain.InvoiceSettings) (*domain.InvoiceSettings, error)
}
