package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SchemeDiscount struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

type PriceItem struct {
	ID               string           `json:"id"`
	Manufacturer     string           `json:"manufacturer"`
	Model            string           `json:"model"`
	Category         string           `json:"category"`
	MRP              decimal.Decimal  `json:"mrp"`
	BasicPrice       decimal.Decimal  `json:"basic_price"`
	GSTPercent       decimal.Decimal  `json:"gst_percent"`
	UpfrontDiscounts []SchemeDiscount `json:"upfront_discounts"`
	BackendDiscounts []SchemeDiscount `json:"backend_discounts"`
	MinMarginPercent decimal.Decimal  `json:"min_margin_percent"`
	BatchID          string           `json:"batch_id"`
	BatchDate        time.Time        `json:"batch_date"`
	CreatedAt        time.Time        `json:"created_at"`
}

type PriceItemCreateRequest struct {
	Manufacturer     string           `json:"manufacturer"`
	Model            string           `json:"model"`
	Category         string           `json:"category"`
	MRP              decimal.Decimal  `json:"mrp"`
	BasicPrice       decimal.Decimal  `json:"basic_price"`
	GSTPercent       decimal.Decimal  `json:"gst_percent"`
	UpfrontDiscounts []SchemeDiscount `json:"upfront_discounts,omitempty"`
	BackendDiscounts []SchemeDiscount `json:"backend_discounts,omitempty"`
	MinMarginPercent decimal.Decimal  `json:"min_margin_percent"`
	BatchDate        string           `json:"batch_date,omitempty"`
}

type PriceDeckUploadRequest struct {
	BatchDate string                   `json:"batch_date,omitempty"`
	Items     []PriceItemCreateRequest `json:"items"`
}

type PriceDeckParseRequest struct {
	Text string `json:"text"`
}

type MinMarginUpdateRequest struct {
	MinMarginPercent decimal.Decimal `json:"min_margin_percent"`
}

// CostBreakdown is the derived cost view of a price item.
type CostBreakdown struct {
	UpfrontTotal  decimal.Decimal `json:"upfront_total"`
	NetBasic      decimal.Decimal `json:"net_basic"`
	GSTAmount     decimal.Decimal `json:"gst_amount"`
	InvoiceAmount decimal.Decimal `json:"invoice_amount"`
	BackendTotal  decimal.Decimal `json:"backend_total"`
	FinalCost     decimal.Decimal `json:"final_cost"`
	MSP           decimal.Decimal `json:"msp"`
}

type PriceItemView struct {
	PriceItem
	Breakdown CostBreakdown `json:"breakdown"`
}

type OrderLine struct {
	PriceItemID  string          `json:"price_item_id"`
	Model        string          `json:"model"`
	Manufacturer string          `json:"manufacturer"`
	Qty          int             `json:"qty"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
}

// MappingLine records what was actually received against an ordered line.
type MappingLine struct {
	PriceItemID string   `json:"price_item_id"`
	OrderedQty  int      `json:"ordered_qty"`
	ReceivedQty int      `json:"received_qty"`
	Serials     []string `json:"serials"`
}

type Attachment struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	ObjectKey   string    `json:"object_key"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type PurchaseOrder struct {
	ID             string       `json:"id"`
	RetailerID     string       `json:"retailer_id"`
	Manufacturer   string       `json:"manufacturer"`
	Status         string       `json:"status"`
	Lines          []OrderLine  `json:"lines"`
	MasterPOID     string       `json:"master_po_id,omitempty"`
	BrandInvoiceID string       `json:"brand_invoice_id,omitempty"`
	Mapping        []MappingLine `json:"mapping,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	CreatedBy      string       `json:"created_by"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

type OrderLineRequest struct {
	Model string `json:"model"`
	Qty   int    `json:"qty"`
}

type OrderCreateRequest struct {
	RetailerID string             `json:"retailer_id,omitempty"`
	Lines      []OrderLineRequest `json:"lines"`
}

type ConsolidateSelection struct {
	OrderID     string `json:"order_id"`
	PriceItemID string `json:"price_item_id"`
}

type ConsolidateRequest struct {
	Selections []ConsolidateSelection `json:"selections"`
}

type ConsolidateResponse struct {
	MasterPOID string   `json:"master_po_id"`
	OrderIDs   []string `json:"order_ids"`
}

type ReceiveLine struct {
	PriceItemID string `json:"price_item_id"`
	SerialsText string `json:"serials_text"`
}

type ReceiveOrderRequest struct {
	BrandInvoiceID string        `json:"brand_invoice_id"`
	Lines          []ReceiveLine `json:"lines"`
}

type InventoryUnit struct {
	ID                string          `json:"id"`
	SerialNumber      string          `json:"serial_number"`
	PriceItemID       string          `json:"price_item_id"`
	RetailerID        string          `json:"retailer_id"`
	Status            string          `json:"status"`
	RetailerPOID      string          `json:"retailer_po_id,omitempty"`
	MasterPOID        string          `json:"master_po_id,omitempty"`
	BrandInvoiceID    string          `json:"brand_invoice_id,omitempty"`
	InwardDate        time.Time       `json:"inward_date"`
	SaleInvoiceNumber string          `json:"sale_invoice_number,omitempty"`
	SaleDate          *time.Time      `json:"sale_date,omitempty"`
	SellingPrice      decimal.Decimal `json:"selling_price"`
	Discount          decimal.Decimal `json:"discount"`
}

type InventoryGroupUnit struct {
	ID           string `json:"id"`
	SerialNumber string `json:"serial_number"`
	AgeDays      int    `json:"age_days"`
}

type InventoryGroup struct {
	PriceItemID  string               `json:"price_item_id"`
	Model        string               `json:"model"`
	Manufacturer string               `json:"manufacturer"`
	RetailerID   string               `json:"retailer_id"`
	UnitCount    int                  `json:"unit_count"`
	UnitCost     decimal.Decimal      `json:"unit_cost"`
	TotalValue   decimal.Decimal      `json:"total_value"`
	Units        []InventoryGroupUnit `json:"units"`
}

type ReconciliationGroup struct {
	GroupID        string          `json:"group_id"`
	BrandInvoiceID string          `json:"brand_invoice_id,omitempty"`
	RetailerPOID   string          `json:"retailer_po_id,omitempty"`
	OrderedUnits   int             `json:"ordered_units"`
	OrderedValue   decimal.Decimal `json:"ordered_value"`
	ReceivedUnits  int             `json:"received_units"`
	ReceivedValue  decimal.Decimal `json:"received_value"`
	MappingPercent decimal.Decimal `json:"mapping_percent"`
}

type SaleLine struct {
	UnitID       string          `json:"unit_id"`
	SerialNumber string          `json:"serial_number"`
	PriceItemID  string          `json:"price_item_id"`
	Model        string          `json:"model"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Discount     decimal.Decimal `json:"discount"`
}

type Sale struct {
	ID            string          `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	RetailerID    string          `json:"retailer_id"`
	CustomerName  string          `json:"customer_name"`
	CustomerPhone string          `json:"customer_phone"`
	PaymentMode   string          `json:"payment_mode"`
	Lines         []SaleLine      `json:"lines"`
	Total         decimal.Decimal `json:"total"`
	CreatedBy     string          `json:"created_by"`
	CreatedAt     time.Time       `json:"created_at"`
}

type SaleLineRequest struct {
	UnitID       string          `json:"unit_id"`
	SellingPrice decimal.Decimal `json:"selling_price"`
	Discount     decimal.Decimal `json:"discount"`
}

type SaleCreateRequest struct {
	CustomerName  string            `json:"customer_name"`
	CustomerPhone string            `json:"customer_phone"`
	PaymentMode   string            `json:"payment_mode"`
	Lines         []SaleLineRequest `json:"lines"`
}

type Retailer struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name"`
	OwnerName           string          `json:"owner_name"`
	Phone               string          `json:"phone"`
	Email               string          `json:"email"`
	City                string          `json:"city"`
	Area                string          `json:"area"`
	Pincode             string          `json:"pincode"`
	ShowroomAddress     string          `json:"showroom_address"`
	GodownAddress       string          `json:"godown_address"`
	CreditLimit         decimal.Decimal `json:"credit_limit"`
	CreditUsed          decimal.Decimal `json:"credit_used"`
	PartnerSharePercent decimal.Decimal `json:"partner_share_percent"`
	CreatedAt           time.Time       `json:"created_at"`
}

type RetailerCreateRequest struct {
	Name                string          `json:"name"`
	OwnerName           string          `json:"owner_name"`
	Phone               string          `json:"phone"`
	Email               string          `json:"email"`
	City                string          `json:"city"`
	Area                string          `json:"area"`
	Pincode             string          `json:"pincode"`
	ShowroomAddress     string          `json:"showroom_address"`
	GodownAddress       string          `json:"godown_address"`
	CreditLimit         decimal.Decimal `json:"credit_limit"`
	PartnerSharePercent decimal.Decimal `json:"partner_share_percent"`
}

type RetailerUpdateRequest struct {
	Name                *string          `json:"name,omitempty"`
	OwnerName           *string          `json:"owner_name,omitempty"`
	Phone               *string          `json:"phone,omitempty"`
	City                *string          `json:"city,omitempty"`
	Area                *string          `json:"area,omitempty"`
	Pincode             *string          `json:"pincode,omitempty"`
	ShowroomAddress     *string          `json:"showroom_address,omitempty"`
	GodownAddress       *string          `json:"godown_address,omitempty"`
	CreditLimit         *decimal.Decimal `json:"credit_limit,omitempty"`
	CreditUsed          *decimal.Decimal `json:"credit_used,omitempty"`
	PartnerSharePercent *decimal.Decimal `json:"partner_share_percent,omitempty"`
}

type RetailerPerformance struct {
	RetailerID    string          `json:"retailer_id"`
	Revenue       decimal.Decimal `json:"revenue"`
	Cost          decimal.Decimal `json:"cost"`
	GrossMargin   decimal.Decimal `json:"gross_margin"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
	UnitsSold     int             `json:"units_sold"`
	PartnerShare  decimal.Decimal `json:"partner_share"`
	HubShare      decimal.Decimal `json:"hub_share"`
}

type BrandMetric struct {
	Manufacturer string          `json:"manufacturer"`
	Revenue      decimal.Decimal `json:"revenue"`
	GrossMargin  decimal.Decimal `json:"gross_margin"`
	UnitsSold    int             `json:"units_sold"`
}

type DashboardMetrics struct {
	From          string          `json:"from"`
	To            string          `json:"to"`
	Revenue       decimal.Decimal `json:"revenue"`
	Cost          decimal.Decimal `json:"cost"`
	GrossMargin   decimal.Decimal `json:"gross_margin"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
	UnitsSold     int             `json:"units_sold"`
	UnitsInStock  int             `json:"units_in_stock"`
	StockValue    decimal.Decimal `json:"stock_value"`
	ByBrand       []BrandMetric   `json:"by_brand"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	SubRole      string    `json:"sub_role,omitempty"`
	RetailerID   string    `json:"retailer_id,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type AllowedUser struct {
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	SubRole    string    `json:"sub_role,omitempty"`
	RetailerID string    `json:"retailer_id,omitempty"`
	AddedBy    string    `json:"added_by"`
	CreatedAt  time.Time `json:"created_at"`
}

type AllowedUserCreateRequest struct {
	Email      string `json:"email"`
	Role       string `json:"role"`
	SubRole    string `json:"sub_role,omitempty"`
	RetailerID string `json:"retailer_id,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	RetailerID  string `json:"retailer_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type SignupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type Actor struct {
	Email      string
	Role       string
	RetailerID string
}

type InsightReport struct {
	ID            string    `json:"id"`
	Summary       string    `json:"summary"`
	Opportunities []string  `json:"opportunities"`
	Risks         []string  `json:"risks"`
	Actions       []string  `json:"actions"`
	GeneratedAt   time.Time `json:"generated_at"`
}

type InvoiceSettings struct {
	CompanyName  string    `json:"company_name"`
	AddressLine1 string    `json:"address_line1"`
	AddressLine2 string    `json:"address_line2"`
	GSTIN        string    `json:"gstin"`
	LogoURL      string    `json:"logo_url"`
	Terms        string    `json:"terms"`
	BankDetails  string    `json:"bank_details"`
	UpdatedAt    time.Time `json:"updated_at"`
}

const (
	RoleAdmin    = "ADMIN"
	RoleRetailer = "RETAILER"
)

const (
	SubRoleOwner        = "OWNER"
	SubRoleFloorManager = "FLOOR_MANAGER"
	SubRoleAccountant   = "ACCOUNTANT"
	SubRoleSalesRep     = "SALES_REP"
)

const (
	OrderRequested     = "REQUESTED"
	OrderApproved      = "APPROVED"
	OrderOnHold        = "ON_HOLD"
	OrderRejected      = "REJECTED"
	OrderConsolidated  = "CONSOLIDATED"
	OrderMasterOrdered = "MASTER_ORDERED"
	OrderShipped       = "SHIPPED"
	OrderReceived      = "RECEIVED"
)

const (
	UnitInStock = "IN_STOCK"
	UnitSold    = "SOLD"
)

const (
	PaymentUPI         = "UPI"
	PaymentCard        = "CARD"
	PaymentCash        = "CASH"
	PaymentNetBanking  = "NET_BANKING"
	PaymentPOSTerminal = "POS_TERMINAL"
)

// HubRetailerID owns admin-created hub orders.
const HubRetailerID = "admin_central"
