package order

import (
	"context"
	"fmt"

	"festival-ticketing/internal/models"
)

// ProcessSuccessfulOrder renders the missing ticket artifacts of a paid
// order, stores their URLs and sends the confirmation once. Artifact
// failures are logged and do not stop the confirmation; a failed send is
// returned so the caller can retry it.
func (s *OrderService) ProcessSuccessfulOrder(ctx context.Context, orderID string) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !models.IsSettled(order.Status) {
		s.logger.Warn("FULFILLMENT", fmt.Sprintf("Skipping %s: status is %s", order.OrderNumber, order.Status))
		return nil
	}

	s.renderMissingArtifacts(ctx, order)

	claimed, err := s.DB.ClaimConfirmation(ctx, order.ID, s.now())
	if err != nil {
		return &PersistenceError{Op: "claim confirmation", Err: err}
	}
	if !claimed {
		s.logger.Debug("FULFILLMENT", fmt.Sprintf("Confirmation for %s already sent", order.OrderNumber))
		return nil
	}

	if err := s.sendConfirmation(ctx, order); err != nil {
		if relErr := s.DB.ReleaseConfirmation(ctx, order.ID); relErr != nil {
			s.logger.Error("FULFILLMENT", fmt.Sprintf("Release confirmation of %s failed: %v", order.OrderNumber, relErr))
		}
		return fmt.Errorf("send confirmation for %s: %w", order.OrderNumber, err)
	}

	s.logger.LogOrder("FULFILLED", order.OrderNumber, fmt.Sprintf("%d tickets delivered", len(order.Items)))
	s.emit(ctx, models.EventTicketsIssued, models.SubjectRetail, order.ID, order.OrderNumber, order.Status, "")
	return nil
}

// ResendConfirmation is the manual recovery path. Existing artifacts are
// reused, missing ones are rendered, and the email is always sent again.
func (s *OrderService) ResendConfirmation(ctx context.Context, orderID string) error {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !models.IsSettled(order.Status) {
		return validation(CodeNotSettled, "order %s is %s", order.OrderNumber, order.Status)
	}

	s.renderMissingArtifacts(ctx, order)

	if err := s.sendConfirmation(ctx, order); err != nil {
		return fmt.Errorf("resend confirmation for %s: %w", order.OrderNumber, err)
	}
	if _, err := s.DB.ClaimConfirmation(ctx, order.ID, s.now()); err != nil {
		s.logger.Warn("FULFILLMENT", fmt.Sprintf("Could not stamp confirmation of %s: %v", order.OrderNumber, err))
	}
	s.logger.LogOrder("RESENT", order.OrderNumber, "confirmation resent")
	return nil
}

func (s *OrderService) sendConfirmation(ctx context.Context, order *models.Order) error {
	if order.IsInvitation {
		return s.Notifier.SendInvitationEmail(ctx, order, order.Items)
	}
	return s.Notifier.SendOrderConfirmation(ctx, order, order.Items)
}

// renderMissingArtifacts fills order.Items[i].PDFURL for every active item
// that has none yet and persists the new URLs.
func (s *OrderService) renderMissingArtifacts(ctx context.Context, order *models.Order) {
	var missing []int
	for i, it := range order.Items {
		if it.PDFURL == "" && it.Status != models.ItemRefunded {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return
	}

	batch := make([]models.OrderItem, len(missing))
	for j, i := range missing {
		batch[j] = order.Items[i]
	}
	urls := s.Tickets.Generate(ctx, order.OrderNumber, batch)

	failed := 0
	for j, i := range missing {
		if j >= len(urls) || urls[j] == "" {
			failed++
			continue
		}
		if err := s.DB.SetItemArtifact(ctx, order.Items[i].ID, urls[j]); err != nil {
			s.logger.LogDatabase("UPDATE", "order_items", fmt.Sprintf("artifact of %s: %v", order.Items[i].TicketCode, err))
			failed++
			continue
		}
		order.Items[i].PDFURL = urls[j]
	}
	if failed > 0 {
		s.logger.Warn("FULFILLMENT", fmt.Sprintf("%d of %d artifacts missing for %s, resend to retry", failed, len(missing), order.OrderNumber))
	}
}
