package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type PaymentMethod string

const (
	PaymentMethodOnline  PaymentMethod = "online"
	PaymentMethodInvoice PaymentMethod = "invoice"
)

// MinB2BTickets is the smallest corporate order accepted.
const MinB2BTickets = 50

type B2BOrder struct {
	bun.BaseModel `bun:"table:b2b_orders"`

	ID                string          `bun:"id,pk" json:"id"`
	OrderNumber       string          `bun:"order_number,unique,notnull" json:"orderNumber"`
	CompanyName       string          `bun:"company_name,notnull" json:"companyName"`
	CompanyTaxID      string          `bun:"company_tax_id" json:"companyTaxId,omitempty"`
	CompanyAddress    string          `bun:"company_address" json:"companyAddress,omitempty"`
	ContactName       string          `bun:"contact_name" json:"contactName"`
	ContactEmail      string          `bun:"contact_email,notnull" json:"contactEmail"`
	ContactPhone      string          `bun:"contact_phone" json:"contactPhone,omitempty"`
	Language          string          `bun:"language" json:"language"`
	PaymentMethod     PaymentMethod   `bun:"payment_method" json:"paymentMethod"`
	TotalTickets      int             `bun:"total_tickets" json:"totalTickets"`
	TotalAmount       decimal.Decimal `bun:"total_amount,type:decimal(12,2),notnull" json:"totalAmount"`
	DiscountPercent   int             `bun:"discount_percent" json:"discountPercent"`
	DiscountAmount    decimal.Decimal `bun:"discount_amount,type:decimal(12,2),notnull" json:"discountAmount"`
	FinalAmount       decimal.Decimal `bun:"final_amount,type:decimal(12,2),notnull" json:"finalAmount"`
	Currency          string          `bun:"currency" json:"currency"`
	InvoiceNumber     string          `bun:"invoice_number,nullzero" json:"invoiceNumber,omitempty"`
	InvoiceURL        string          `bun:"invoice_url,nullzero" json:"invoiceUrl,omitempty"`
	MAIBTransactionID string          `bun:"maib_transaction_id,nullzero,unique" json:"maibTransactionId,omitempty"`
	PaymentStatus     PaymentStatus   `bun:"payment_status" json:"paymentStatus"`
	Status            OrderStatus     `bun:"status" json:"status"`
	FailureReason     string          `bun:"failure_reason,nullzero" json:"failureReason,omitempty"`
	PaidAt            time.Time       `bun:"paid_at,nullzero" json:"paidAt,omitempty"`
	InvoiceSentAt     time.Time       `bun:"invoice_sent_at,nullzero" json:"invoiceSentAt,omitempty"`
	TicketsSentAt     time.Time       `bun:"tickets_sent_at,nullzero" json:"ticketsSentAt,omitempty"`
	CreatedAt         time.Time       `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt         time.Time       `bun:"updated_at,notnull" json:"updatedAt"`

	Items []B2BOrderItem `bun:"-" json:"items,omitempty"`
}

// B2BOrderItem starts as an aggregated line (Quantity > 1, no ticket code)
// and is replaced by one row per ticket when tickets are generated.
type B2BOrderItem struct {
	bun.BaseModel `bun:"table:b2b_order_items"`

	ID         string          `bun:"id,pk" json:"id"`
	B2BOrderID string          `bun:"b2b_order_id,notnull" json:"b2bOrderId"`
	TicketID   string          `bun:"ticket_id,notnull" json:"ticketId"`
	OptionID   string          `bun:"option_id,nullzero" json:"optionId,omitempty"`
	TicketName string          `bun:"ticket_name" json:"ticketName"`
	UnitPrice  decimal.Decimal `bun:"unit_price,type:decimal(12,2),notnull" json:"unitPrice"`
	Quantity   int             `bun:"quantity" json:"quantity"`
	TicketCode string          `bun:"ticket_code,nullzero,unique" json:"ticketCode,omitempty"`
	QRData     string          `bun:"qr_data,nullzero" json:"qrData,omitempty"`
	PDFURL     string          `bun:"pdf_url,nullzero" json:"pdfUrl,omitempty"`
	Status     ItemStatus      `bun:"status" json:"status"`
	CreatedAt  time.Time       `bun:"created_at,notnull" json:"createdAt"`
}

type Company struct {
	Name    string `json:"name"`
	TaxID   string `json:"taxId,omitempty"`
	Address string `json:"address,omitempty"`
}

type CreateB2BOrderRequest struct {
	Company       Company       `json:"company"`
	Contact       Customer      `json:"contact"`
	Items         []CartLine    `json:"items"`
	PaymentMethod PaymentMethod `json:"paymentMethod"`
	ClientIP      string        `json:"-"`
}

// AsTicketHolder adapts a corporate item so the artifact generator can
// render it like a retail ticket.
func (i B2BOrderItem) AsTicketHolder() OrderItem {
	return OrderItem{
		ID:         i.ID,
		OrderID:    i.B2BOrderID,
		TicketID:   i.TicketID,
		OptionID:   i.OptionID,
		TicketName: i.TicketName,
		UnitPrice:  i.UnitPrice,
		Quantity:   1,
		TicketCode: i.TicketCode,
		QRData:     i.QRData,
		PDFURL:     i.PDFURL,
		Status:     i.Status,
		CreatedAt:  i.CreatedAt,
	}
}
