package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"festival-ticketing/internal/models"

	"github.com/uptrace/bun"
)

var ErrNotFound = errors.New("record not found")

type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// ---------------- ORDERS ----------------

func (d *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	_, err := d.Bun.NewInsert().Model(order).Exec(ctx)
	return err
}

func (d *DB) CreateOrderItems(ctx context.Context, items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&items).Exec(ctx)
	return err
}

// DeleteOrder removes an order and its items. Used to undo a partially
// created order.
func (d *DB) DeleteOrder(ctx context.Context, id string) error {
	return d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*models.OrderItem)(nil)).Where("order_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*models.Order)(nil)).Where("id = ?", id).Exec(ctx)
		return err
	})
}

func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().Model(&order).Where("id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (d *DB) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().Model(&order).Where("order_number = ?", number).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (d *DB) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := d.Bun.NewSelect().Model(&items).Where("order_id = ?", orderID).Order("created_at ASC", "ticket_code ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return items, nil
}

// OrderNumberExists checks both retail and corporate orders.
func (d *DB) OrderNumberExists(ctx context.Context, number string) (bool, error) {
	exists, err := d.Bun.NewSelect().Model((*models.Order)(nil)).Where("order_number = ?", number).Exists(ctx)
	if err != nil || exists {
		return exists, err
	}
	return d.Bun.NewSelect().Model((*models.B2BOrder)(nil)).Where("order_number = ?", number).Exists(ctx)
}

// UpdateOrderStatus applies change only when the current status is one of
// from. It reports whether a row was updated.
func (d *DB) UpdateOrderStatus(ctx context.Context, id string, from []models.OrderStatus, change models.StatusChange) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	q := d.Bun.NewUpdate().Model((*models.Order)(nil)).
		Set("status = ?", change.Status).
		Set("updated_at = ?", change.At)
	q = applyChange(q, change)

	res, err := q.Where("id = ?", id).Where("status IN (?)", bun.In(from)).Exec(ctx)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func applyChange(q *bun.UpdateQuery, change models.StatusChange) *bun.UpdateQuery {
	if change.PaymentStatus != "" {
		q = q.Set("payment_status = ?", change.PaymentStatus)
	}
	if change.FailureReason != "" {
		q = q.Set("failure_reason = ?", change.FailureReason)
	}
	if !change.PaidAt.IsZero() {
		q = q.Set("paid_at = ?", change.PaidAt)
	}
	return q
}

// AttachTransaction links a gateway transaction to a pending order that has
// none yet.
func (d *DB) AttachTransaction(ctx context.Context, id, transactionID string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().Model((*models.Order)(nil)).
		Set("maib_transaction_id = ?", transactionID).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("status = ?", models.StatusPending).
		Where("maib_transaction_id IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// CancelPendingByEmail cancels every pending order for email except keepID.
func (d *DB) CancelPendingByEmail(ctx context.Context, email, keepID string, at time.Time) ([]models.Order, error) {
	var orders []models.Order
	q := d.Bun.NewSelect().Model(&orders).
		Where("customer_email = ?", strings.ToLower(email)).
		Where("status = ?", models.StatusPending)
	if keepID != "" {
		q = q.Where("id <> ?", keepID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	cancelled := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		ok, err := d.UpdateOrderStatus(ctx, o.ID, []models.OrderStatus{models.StatusPending}, models.StatusChange{
			Status:        models.StatusCancelled,
			PaymentStatus: models.PaymentFailed,
			FailureReason: "superseded by a new checkout",
			At:            at,
		})
		if err != nil {
			return cancelled, err
		}
		if ok {
			o.Status = models.StatusCancelled
			cancelled = append(cancelled, o)
		}
	}
	return cancelled, nil
}

// ExpirePendingBefore moves pending orders created before cutoff to expired.
func (d *DB) ExpirePendingBefore(ctx context.Context, cutoff, at time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().Model(&orders).
		Where("status = ?", models.StatusPending).
		Where("created_at < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	expired := make([]models.Order, 0, len(orders))
	for _, o := range orders {
		ok, err := d.UpdateOrderStatus(ctx, o.ID, []models.OrderStatus{models.StatusPending}, models.StatusChange{
			Status:        models.StatusExpired,
			PaymentStatus: models.PaymentFailed,
			FailureReason: "payment window elapsed",
			At:            at,
		})
		if err != nil {
			return expired, err
		}
		if ok {
			o.Status = models.StatusExpired
			expired = append(expired, o)
		}
	}
	return expired, nil
}

// ListReminderCandidates returns pending paid-checkout orders at the given
// reminder stage created at or before olderThan.
func (d *DB) ListReminderCandidates(ctx context.Context, stage int, olderThan time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().Model(&orders).
		Where("status = ?", models.StatusPending).
		Where("is_invitation = ?", false).
		Where("reminder_count = ?", stage).
		Where("created_at <= ?", olderThan).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// AdvanceReminder increments reminder_count if it still equals expected.
func (d *DB) AdvanceReminder(ctx context.Context, id string, expected int, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().Model((*models.Order)(nil)).
		Set("reminder_count = reminder_count + 1").
		Set("reminder_sent_at = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", id).
		Where("reminder_count = ?", expected).
		Where("status = ?", models.StatusPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (d *DB) SetItemArtifact(ctx context.Context, itemID, url string) error {
	_, err := d.Bun.NewUpdate().Model((*models.OrderItem)(nil)).
		Set("pdf_url = ?", url).
		Where("id = ?", itemID).
		Exec(ctx)
	return err
}

func (d *DB) SetItemsStatus(ctx context.Context, orderID string, status models.ItemStatus) error {
	_, err := d.Bun.NewUpdate().Model((*models.OrderItem)(nil)).
		Set("status = ?", status).
		Where("order_id = ?", orderID).
		Exec(ctx)
	return err
}

// ClaimConfirmation stamps confirmation_sent_at if it is unset. Only the
// caller that gets true may send the confirmation.
func (d *DB) ClaimConfirmation(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := d.Bun.NewUpdate().Model((*models.Order)(nil)).
		Set("confirmation_sent_at = ?", at).
		Where("id = ?", id).
		Where("confirmation_sent_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ReleaseConfirmation undoes a claim after a failed send.
func (d *DB) ReleaseConfirmation(ctx context.Context, id string) error {
	_, err := d.Bun.NewUpdate().Model((*models.Order)(nil)).
		Set("confirmation_sent_at = NULL").
		Where("id = ?", id).
		Exec(ctx)
	return err
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
