package discount

import (
	"context"
	"fmt"
	"strings"
	"time"

	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/models"

	"github.com/shopspring/decimal"
)

type Reason string

const (
	ReasonInvalidCode        Reason = "INVALID_CODE"
	ReasonNotYetActive       Reason = "NOT_YET_ACTIVE"
	ReasonExpired            Reason = "EXPIRED"
	ReasonUsageLimit         Reason = "USAGE_LIMIT"
	ReasonMinOrderAmount     Reason = "MIN_ORDER_AMOUNT"
	ReasonTicketRestriction  Reason = "TICKET_RESTRICTION"
	ReasonAlreadyUsedByEmail Reason = "ALREADY_USED_BY_EMAIL"
)

var reasonMessages = map[Reason]string{
	ReasonInvalidCode:        "Promo code does not exist or is inactive",
	ReasonNotYetActive:       "Promo code is not active yet",
	ReasonExpired:            "Promo code has expired",
	ReasonUsageLimit:         "Promo code usage limit has been reached",
	ReasonMinOrderAmount:     "Order total is below the promo code minimum",
	ReasonTicketRestriction:  "Promo code does not apply to the selected tickets",
	ReasonAlreadyUsedByEmail: "Promo code was already used with this email",
}

func (r Reason) Message() string {
	return reasonMessages[r]
}

// PromoStore is the persistence the validator needs. GetPromoByCode returns
// (nil, nil) when no code matches.
type PromoStore interface {
	GetPromoByCode(ctx context.Context, code string) (*models.PromoCode, error)
	HasOrderWithPromo(ctx context.Context, email, code string, statuses []models.OrderStatus) (bool, error)
	IncrementPromoUsage(ctx context.Context, code string) error
}

// PromoResult is either valid (Valid true, discount filled in) or carries
// the first failed check in Reason.
type PromoResult struct {
	Valid            bool            `json:"valid"`
	Code             string          `json:"code"`
	Percent          int             `json:"percent,omitempty"`
	DiscountAmount   decimal.Decimal `json:"discountAmount"`
	AllowedTicketIDs []string        `json:"allowedTicketIds,omitempty"`
	Reason           Reason          `json:"reason,omitempty"`
	Message          string          `json:"message,omitempty"`
}

func invalid(code string, reason Reason) *PromoResult {
	return &PromoResult{Code: code, DiscountAmount: decimal.Zero, Reason: reason, Message: reason.Message()}
}

type PromoService struct {
	store  PromoStore
	logger *logger.Logger
	now    func() time.Time
}

func NewPromoService(store PromoStore, log *logger.Logger, now func() time.Time) *PromoService {
	if now == nil {
		now = time.Now
	}
	return &PromoService{store: store, logger: log, now: now}
}

// NormalizeCode upper-cases and trims a user supplied code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks code against total (pre-discount) and the distinct ticket
// ids in the cart, stopping at the first failed check. Only store errors are
// returned as error.
func (s *PromoService) Validate(ctx context.Context, code string, total decimal.Decimal, email string, ticketIDs []string) (*PromoResult, error) {
	code = NormalizeCode(code)
	if code == "" {
		return invalid(code, ReasonInvalidCode), nil
	}

	promo, err := s.store.GetPromoByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("load promo %s: %w", code, err)
	}
	if promo == nil || !promo.IsActive {
		return invalid(code, ReasonInvalidCode), nil
	}

	now := s.now()
	if !promo.ValidFrom.IsZero() && now.Before(promo.ValidFrom) {
		return invalid(code, ReasonNotYetActive), nil
	}
	if !promo.ValidUntil.IsZero() && now.After(promo.ValidUntil) {
		return invalid(code, ReasonExpired), nil
	}

	if promo.UsageLimit != nil && promo.UsedCount >= *promo.UsageLimit {
		return invalid(code, ReasonUsageLimit), nil
	}

	if promo.MinOrderAmount.Valid && total.LessThan(promo.MinOrderAmount.Decimal) {
		return invalid(code, ReasonMinOrderAmount), nil
	}

	if len(promo.AllowedTicketIDs) > 0 && !intersects(promo.AllowedTicketIDs, ticketIDs) {
		return invalid(code, ReasonTicketRestriction), nil
	}

	if promo.OnePerEmail && email != "" {
		used, err := s.store.HasOrderWithPromo(ctx, strings.ToLower(email), code,
			[]models.OrderStatus{models.StatusPaid, models.StatusPending})
		if err != nil {
			return nil, fmt.Errorf("check promo usage for %s: %w", code, err)
		}
		if used {
			return invalid(code, ReasonAlreadyUsedByEmail), nil
		}
	}

	result := &PromoResult{
		Valid:            true,
		Code:             code,
		AllowedTicketIDs: promo.AllowedTicketIDs,
	}
	switch {
	case promo.DiscountPercent != nil:
		result.Percent = *promo.DiscountPercent
		// whole MDL, half away from zero
		result.DiscountAmount = total.Mul(decimal.NewFromInt(int64(*promo.DiscountPercent))).Div(decimal.NewFromInt(100)).Round(0)
	case promo.DiscountAmount.Valid:
		result.DiscountAmount = decimal.Min(promo.DiscountAmount.Decimal, total)
	default:
		result.DiscountAmount = decimal.Zero
	}
	if result.DiscountAmount.GreaterThan(total) {
		result.DiscountAmount = total
	}

	return result, nil
}

// IncrementUsage bumps used_count by one in a single statement.
func (s *PromoService) IncrementUsage(ctx context.Context, code string) error {
	code = NormalizeCode(code)
	if err := s.store.IncrementPromoUsage(ctx, code); err != nil {
		return fmt.Errorf("increment promo %s: %w", code, err)
	}
	s.logger.Info("PROMO", fmt.Sprintf("Usage incremented for %s", code))
	return nil
}

func intersects(allowed, ids []string) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
