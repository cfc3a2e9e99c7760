package models

import "time"

type OrderEventType string

const (
	EventOrderCreated   OrderEventType = "order.created"
	EventOrderPaid      OrderEventType = "order.paid"
	EventOrderFailed    OrderEventType = "order.failed"
	EventOrderCancelled OrderEventType = "order.cancelled"
	EventOrderExpired   OrderEventType = "order.expired"
	EventOrderRefunded  OrderEventType = "order.refunded"
	EventTicketsIssued  OrderEventType = "order.tickets_issued"
)

// OrderEvent is published on every lifecycle change, both to Kafka and to
// buyers waiting on the status stream.
type OrderEvent struct {
	Type        OrderEventType `json:"type"`
	SubjectKind SubjectKind    `json:"subjectKind"`
	OrderID     string         `json:"orderId"`
	OrderNumber string         `json:"orderNumber"`
	Status      OrderStatus    `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	OccurredAt  time.Time      `json:"occurredAt"`
}
