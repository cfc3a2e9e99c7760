package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const DefaultCurrency = "MDL"

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID                 string          `bun:"id,pk" json:"id"`
	OrderNumber        string          `bun:"order_number,unique,notnull" json:"orderNumber"`
	CustomerName       string          `bun:"customer_name" json:"customerName"`
	CustomerEmail      string          `bun:"customer_email,notnull" json:"customerEmail"`
	CustomerPhone      string          `bun:"customer_phone" json:"customerPhone,omitempty"`
	Language           string          `bun:"language" json:"language"`
	TotalAmount        decimal.Decimal `bun:"total_amount,type:decimal(12,2),notnull" json:"totalAmount"`
	DiscountAmount     decimal.Decimal `bun:"discount_amount,type:decimal(12,2),notnull" json:"discountAmount"`
	PromoCode          string          `bun:"promo_code,nullzero" json:"promoCode,omitempty"`
	Currency           string          `bun:"currency" json:"currency"`
	MAIBTransactionID  string          `bun:"maib_transaction_id,nullzero,unique" json:"maibTransactionId,omitempty"`
	PaymentStatus      PaymentStatus   `bun:"payment_status" json:"paymentStatus"`
	Status             OrderStatus     `bun:"status" json:"status"`
	FailureReason      string          `bun:"failure_reason,nullzero" json:"failureReason,omitempty"`
	IsInvitation       bool            `bun:"is_invitation" json:"isInvitation"`
	ReminderCount      int             `bun:"reminder_count" json:"reminderCount"`
	ReminderSentAt     time.Time       `bun:"reminder_sent_at,nullzero" json:"reminderSentAt,omitempty"`
	PaidAt             time.Time       `bun:"paid_at,nullzero" json:"paidAt,omitempty"`
	ConfirmationSentAt time.Time       `bun:"confirmation_sent_at,nullzero" json:"confirmationSentAt,omitempty"`
	CreatedAt          time.Time       `bun:"created_at,notnull" json:"createdAt"`
	UpdatedAt          time.Time       `bun:"updated_at,notnull" json:"updatedAt"`

	Items []OrderItem `bun:"-" json:"items,omitempty"`
}

// Payable is the amount actually charged.
func (o *Order) Payable() decimal.Decimal {
	return o.TotalAmount.Sub(o.DiscountAmount)
}

type ItemStatus string

const (
	ItemActive   ItemStatus = "active"
	ItemRefunded ItemStatus = "refunded"
)

// OrderItem is a single physical ticket. Quantity is always 1.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID           string          `bun:"id,pk" json:"id"`
	OrderID      string          `bun:"order_id,notnull" json:"orderId"`
	TicketID     string          `bun:"ticket_id,notnull" json:"ticketId"`
	OptionID     string          `bun:"option_id,nullzero" json:"optionId,omitempty"`
	TicketName   string          `bun:"ticket_name" json:"ticketName"`
	UnitPrice    decimal.Decimal `bun:"unit_price,type:decimal(12,2),notnull" json:"unitPrice"`
	Quantity     int             `bun:"quantity" json:"quantity"`
	TicketCode   string          `bun:"ticket_code,unique,notnull" json:"ticketCode"`
	QRData       string          `bun:"qr_data" json:"qrData"`
	PDFURL       string          `bun:"pdf_url,nullzero" json:"pdfUrl,omitempty"`
	IsInvitation bool            `bun:"is_invitation" json:"isInvitation"`
	Status       ItemStatus      `bun:"status" json:"status"`
	CreatedAt    time.Time       `bun:"created_at,notnull" json:"createdAt"`
}

// CartLine is one line of a checkout request before it is exploded into
// per-ticket items.
type CartLine struct {
	TicketID string `json:"ticketId"`
	OptionID string `json:"optionId,omitempty"`
	Quantity int    `json:"quantity"`
}

type Customer struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone,omitempty"`
	Language string `json:"language,omitempty"`
}

type CreateOrderRequest struct {
	Customer  Customer   `json:"customer"`
	Items     []CartLine `json:"items"`
	PromoCode string     `json:"promoCode,omitempty"`
	ClientIP  string     `json:"-"`
}

type CreateInvitationRequest struct {
	Customer Customer   `json:"customer"`
	Items    []CartLine `json:"items"`
}
