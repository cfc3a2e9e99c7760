package db

import (
	"context"
	"errors"

	"festival-ticketing/internal/models"
)

// FindPaymentSubject resolves a gateway transaction id to the retail or
// corporate order that owns it.
func (d *DB) FindPaymentSubject(ctx context.Context, transactionID string) (*models.PaymentSubject, error) {
	if transactionID == "" {
		return nil, ErrNotFound
	}

	var retail models.Order
	err := d.Bun.NewSelect().Model(&retail).Where("maib_transaction_id = ?", transactionID).Limit(1).Scan(ctx)
	if err == nil {
		return &models.PaymentSubject{Retail: &retail}, nil
	}
	if !errors.Is(notFound(err), ErrNotFound) {
		return nil, err
	}

	var corp models.B2BOrder
	err = d.Bun.NewSelect().Model(&corp).Where("maib_transaction_id = ?", transactionID).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &models.PaymentSubject{Corporate: &corp}, nil
}

// FindSubjectByReference resolves an order id or order number from either
// space. Used by the buyer return URL when no transaction id is present.
func (d *DB) FindSubjectByReference(ctx context.Context, ref string) (*models.PaymentSubject, error) {
	if ref == "" {
		return nil, ErrNotFound
	}

	var retail models.Order
	err := d.Bun.NewSelect().Model(&retail).WhereOr("id = ?", ref).WhereOr("order_number = ?", ref).Limit(1).Scan(ctx)
	if err == nil {
		return &models.PaymentSubject{Retail: &retail}, nil
	}
	if !errors.Is(notFound(err), ErrNotFound) {
		return nil, err
	}

	var corp models.B2BOrder
	err = d.Bun.NewSelect().Model(&corp).WhereOr("id = ?", ref).WhereOr("order_number = ?", ref).Limit(1).Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return &models.PaymentSubject{Corporate: &corp}, nil
}
