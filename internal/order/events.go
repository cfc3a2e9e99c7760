package order

import (
	"context"
	"fmt"

	"festival-ticketing/internal/models"
)

// emit fans a lifecycle change out to Kafka and to buyers waiting on the
// status stream. Publishing failures are logged only.
func (s *OrderService) emit(ctx context.Context, typ models.OrderEventType, kind models.SubjectKind, orderID, orderNumber string, status models.OrderStatus, reason string) {
	event := models.OrderEvent{
		Type:        typ,
		SubjectKind: kind,
		OrderID:     orderID,
		OrderNumber: orderNumber,
		Status:      status,
		Reason:      reason,
		OccurredAt:  s.now(),
	}

	if s.Hub != nil {
		s.Hub.Emit(event)
	}
	if s.Events != nil {
		if err := s.Events.PublishOrderEvent(ctx, event); err != nil {
			s.logger.LogKafka("PUBLISH_FAILED", string(typ), fmt.Sprintf("%s: %v", orderNumber, err))
		}
	}
}
