package models

import (
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type TicketType struct {
	bun.BaseModel `bun:"table:ticket_types"`

	ID       string          `bun:"id,pk" json:"id"`
	Name     string          `bun:"name,notnull" json:"name"`
	Price    decimal.Decimal `bun:"price,type:decimal(12,2),notnull" json:"price"`
	IsActive bool            `bun:"is_active" json:"isActive"`
}

// TicketOption is an add-on (camping, parking) priced on top of its ticket.
type TicketOption struct {
	bun.BaseModel `bun:"table:ticket_options"`

	ID            string          `bun:"id,pk" json:"id"`
	TicketID      string          `bun:"ticket_id,notnull" json:"ticketId"`
	Name          string          `bun:"name" json:"name"`
	PriceModifier decimal.Decimal `bun:"price_modifier,type:decimal(12,2),notnull" json:"priceModifier"`
}
