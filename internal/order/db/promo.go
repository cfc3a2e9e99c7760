package db

import (
	"context"
	"errors"
	"strings"

	"festival-ticketing/internal/models"

	"github.com/uptrace/bun"
)

// GetPromoByCode returns (nil, nil) when the code does not exist.
func (d *DB) GetPromoByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := d.Bun.NewSelect().Model(&promo).Where("code = ?", strings.ToUpper(code)).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(notFound(err), ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &promo, nil
}

func (d *DB) HasOrderWithPromo(ctx context.Context, email, code string, statuses []models.OrderStatus) (bool, error) {
	return d.Bun.NewSelect().Model((*models.Order)(nil)).
		Where("customer_email = ?", strings.ToLower(email)).
		Where("promo_code = ?", strings.ToUpper(code)).
		Where("status IN (?)", bun.In(statuses)).
		Exists(ctx)
}

// IncrementPromoUsage is a single UPDATE so concurrent orders never lose
// an increment.
func (d *DB) IncrementPromoUsage(ctx context.Context, code string) error {
	_, err := d.Bun.NewUpdate().Model((*models.PromoCode)(nil)).
		Set("used_count = used_count + 1").
		Where("code = ?", strings.ToUpper(code)).
		Exec(ctx)
	return err
}

func (d *DB) CreatePromo(ctx context.Context, promo *models.PromoCode) error {
	promo.Code = strings.ToUpper(promo.Code)
	_, err := d.Bun.NewInsert().Model(promo).Exec(ctx)
	return err
}
