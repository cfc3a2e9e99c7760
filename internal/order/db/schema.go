package db

import (
	"context"
	"fmt"

	"festival-ticketing/internal/models"
)

var schemaModels = []interface{}{
	(*models.Order)(nil),
	(*models.OrderItem)(nil),
	(*models.B2BOrder)(nil),
	(*models.B2BOrderItem)(nil),
	(*models.PromoCode)(nil),
	(*models.TicketType)(nil),
	(*models.TicketOption)(nil),
	(*models.FulfillmentTask)(nil),
}

// CreateSchema creates all tables from the bun models. Production uses the
// SQL migrations; this serves tests and local SQLite runs.
func (d *DB) CreateSchema(ctx context.Context) error {
	for _, m := range schemaModels {
		if _, err := d.Bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	return nil
}
