package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type PromoCode struct {
	bun.BaseModel `bun:"table:promo_codes"`

	ID               string              `bun:"id,pk" json:"id"`
	Code             string              `bun:"code,unique,notnull" json:"code"`
	IsActive         bool                `bun:"is_active" json:"isActive"`
	ValidFrom        time.Time           `bun:"valid_from,nullzero" json:"validFrom,omitempty"`
	ValidUntil       time.Time           `bun:"valid_until,nullzero" json:"validUntil,omitempty"`
	UsageLimit       *int                `bun:"usage_limit" json:"usageLimit,omitempty"`
	UsedCount        int                 `bun:"used_count,notnull,default:0" json:"usedCount"`
	DiscountPercent  *int                `bun:"discount_percent" json:"discountPercent,omitempty"`
	DiscountAmount   decimal.NullDecimal `bun:"discount_amount,type:decimal(12,2)" json:"discountAmount"`
	MinOrderAmount   decimal.NullDecimal `bun:"min_order_amount,type:decimal(12,2)" json:"minOrderAmount"`
	AllowedTicketIDs []string            `bun:"allowed_ticket_ids,type:jsonb" json:"allowedTicketIds,omitempty"`
	OnePerEmail      bool                `bun:"one_per_email" json:"onePerEmail"`
	CreatedAt        time.Time           `bun:"created_at,notnull" json:"createdAt"`
}
