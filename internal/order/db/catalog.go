package db

import (
	"context"

	"festival-ticketing/internal/models"
)

func (d *DB) GetTicketType(ctx context.Context, id string) (*models.TicketType, error) {
	var t models.TicketType
	err := d.Bun.NewSelect().Model(&t).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func (d *DB) GetTicketOption(ctx context.Context, id string) (*models.TicketOption, error) {
	var o models.TicketOption
	err := d.Bun.NewSelect().Model(&o).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

func (d *DB) UpsertTicketType(ctx context.Context, t *models.TicketType) error {
	_, err := d.Bun.NewInsert().Model(t).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("price = EXCLUDED.price").
		Set("is_active = EXCLUDED.is_active").
		Exec(ctx)
	return err
}

func (d *DB) UpsertTicketOption(ctx context.Context, o *models.TicketOption) error {
	_, err := d.Bun.NewInsert().Model(o).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("price_modifier = EXCLUDED.price_modifier").
		Exec(ctx)
	return err
}
