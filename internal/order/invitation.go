package order

import (
	"context"
	"fmt"

	"festival-ticketing/internal/metrics"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateInvitation issues free tickets. The order is paid on creation and
// never touches the gateway; the tickets are rendered and mailed right away.
func (s *OrderService) CreateInvitation(ctx context.Context, req models.CreateInvitationRequest) (*models.Order, error) {
	email := normalizeEmail(req.Customer.Email)
	if email == "" {
		return nil, validation(CodeInvalidCustomer, "recipient email is required")
	}

	now := s.now()
	priced, err := s.priceCart(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	items := explode(priced, now, true)

	number, err := s.newOrderNumber(ctx, utils.PrefixInvitation)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:             uuid.NewString(),
		OrderNumber:    number,
		CustomerName:   req.Customer.Name,
		CustomerEmail:  email,
		CustomerPhone:  req.Customer.Phone,
		Language:       languageOrDefault(req.Customer.Language),
		TotalAmount:    decimal.Zero,
		DiscountAmount: decimal.Zero,
		Currency:       models.DefaultCurrency,
		PaymentStatus:  models.PaymentOK,
		Status:         models.StatusPaid,
		IsInvitation:   true,
		PaidAt:         now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.persistOrder(ctx, order, items); err != nil {
		return nil, err
	}

	metrics.RecordOrderCreated("invitation")
	s.logger.LogOrder("INVITATION", order.OrderNumber, fmt.Sprintf("%d free tickets for %s", len(items), email))

	if err := s.ProcessSuccessfulOrder(ctx, order.ID); err != nil {
		s.logger.Error("FULFILLMENT", fmt.Sprintf("Invitation %s created but not delivered: %v", order.OrderNumber, err))
	}
	if fresh, err := s.GetOrder(ctx, order.ID); err == nil {
		return fresh, nil
	}
	return order, nil
}
