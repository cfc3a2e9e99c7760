package db

import (
	"context"
	"time"

	"festival-ticketing/internal/models"

	"github.com/uptrace/bun"
)

// ---------------- B2B ORDERS ----------------

func (d *DB) CreateB2BOrder(ctx context.Context, order *models.B2BOrder) error {
	_, err := d.Bun.NewInsert().Model(order).Exec(ctx)
	return err
}

func (d *DB) CreateB2BOrderItems(ctx context.Context, items []models.B2BOrderItem) error {
	if len(items) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&items).Exec(ctx)
	return err
}

func (d *DB) DeleteB2BOrder(ctx context.Context, id string) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*models.B2BOrderItem)(nil)).Where("b2b_order_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*models.B2BOrder)(nil)).Where("id = ?", id).Exec(ctx)
		return err
	})
}

func (d *DB) GetB2BOrderByID(ctx context.Context, id string) (*models.B2BOrder, error) {
	var order models.B2BOrder
	err := d.Bun.NewSelect().Model(&order).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (d *DB) GetB2BOrderByNumber(ctx context.Context, number string) (*models.B2BOrder, error) {
	var order models.B2BOrder
	err := d.Bun.NewSelect().Model(&order).Where("order_number = ?", number).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (d *DB) GetB2BOrderItems(ctx context.Context, orderID string) ([]models.B2BOrderItem, error) {
	var items []models.B2BOrderItem
	err := d.Bun.NewSelect().Model(&items).Where("b2b_order_id = ?", orderID).Order("created_at ASC", "ticket_id ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (d *DB) UpdateB2BStatus(ctx context.Context, id string, from []models.OrderStatus, change models.StatusChange) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	q := d.Bun.NewUpdate().Model((*models.B2BOrder)(nil)).
		Set("status = ?", change.Status).
		Set("updated_at = ?", change.At)
	q = applyChange(q, change)
	switch change.Status {
	case models.StatusInvoiceSent:
		q = q.Set("invoice_sent_at = ?", change.At)
	case models.StatusTicketsSent:
		q = q.Set("tickets_sent_at = ?", change.At)
	}

	res, err := q.Where("id = ?", id).Where("status IN (?)", bun.In(from)).Exec(ctx)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (d *DB) AttachB2BTransaction(ctx context.Context, id, transactionID string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().Model((*models.B2BOrder)(nil)).
		Set("maib_transaction_id = ?", transactionID).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status IN (?)", bun.In([]models.OrderStatus{models.StatusPending, models.StatusInvoiceSent})).
		Where("maib_transaction_id IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (d *DB) SetB2BInvoice(ctx context.Context, id, number, url string) error {
	_, err := d.Bun.NewUpdate().Model((*models.B2BOrder)(nil)).
		Set("invoice_number = ?", number).
		Set("invoice_url = ?", url).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// ExplodeB2BItems replaces the aggregated lines of an order with per-ticket
// rows and moves it from paid to tickets_generated, atomically. It reports
// false without touching anything if the order is no longer paid.
func (d *DB) ExplodeB2BItems(ctx context.Context, orderID string, items []models.B2BOrderItem, at time.Time) (bool, error) {
	var applied bool
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().Model((*models.B2BOrder)(nil)).
			Set("status = ?", models.StatusTicketsGenerated).
			Set("updated_at = ?", at).
			Where("id = ?", orderID).
			Where("status = ?", models.StatusPaid).
			Exec(ctx)
		if err != nil {
			return err
		}
		if applied, err = affected(res); err != nil || !applied {
			return err
		}

		if _, err := tx.NewDelete().Model((*models.B2BOrderItem)(nil)).Where("b2b_order_id = ?", orderID).Exec(ctx); err != nil {
			return err
		}
		if len(items) > 0 {
			if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (d *DB) SetB2BItemArtifact(ctx context.Context, itemID, url string) error {
	_, err := d.Bun.NewUpdate().Model((*models.B2BOrderItem)(nil)).
		Set("pdf_url = ?", url).
		Where("id = ?", itemID).
		Exec(ctx)
	return err
}

func (d *DB) SetB2BItemsStatus(ctx context.Context, orderID string, status models.ItemStatus) error {
	_, err := d.Bun.NewUpdate().Model((*models.B2BOrderItem)(nil)).
		Set("status = ?", status).
		Where("b2b_order_id = ?", orderID).
		Exec(ctx)
	return err
}
