package models

import (
	"strings"
	"time"
)

type OrderStatus string

const (
	StatusPending          OrderStatus = "pending"
	StatusPaid             OrderStatus = "paid"
	StatusFailed           OrderStatus = "failed"
	StatusRefunded         OrderStatus = "refunded"
	StatusExpired          OrderStatus = "expired"
	StatusCancelled        OrderStatus = "cancelled"
	StatusInvoiceSent      OrderStatus = "invoice_sent"
	StatusTicketsGenerated OrderStatus = "tickets_generated"
	StatusTicketsSent      OrderStatus = "tickets_sent"
	StatusCompleted        OrderStatus = "completed"
	StatusPaymentFailed    OrderStatus = "payment_failed"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentOK       PaymentStatus = "ok"
	PaymentFailed   PaymentStatus = "failed"
	PaymentReversed PaymentStatus = "reversed"
)

// Source states accepted by each retail transition. A gateway success that
// arrives after the order was failed, expired or cancelled still wins.
var retailTransitions = map[OrderStatus][]OrderStatus{
	StatusPaid:      {StatusPending, StatusFailed, StatusExpired, StatusCancelled},
	StatusFailed:    {StatusPending},
	StatusExpired:   {StatusPending},
	StatusCancelled: {StatusPending},
	StatusRefunded:  {StatusPaid},
}

var b2bTransitions = map[OrderStatus][]OrderStatus{
	StatusInvoiceSent:      {StatusPending},
	StatusPaid:             {StatusPending, StatusInvoiceSent, StatusPaymentFailed, StatusCancelled},
	StatusPaymentFailed:    {StatusPending, StatusInvoiceSent},
	StatusCancelled:        {StatusPending, StatusInvoiceSent},
	StatusTicketsGenerated: {StatusPaid},
	StatusTicketsSent:      {StatusTicketsGenerated},
	StatusCompleted:        {StatusTicketsSent},
	StatusRefunded:         {StatusPaid, StatusTicketsGenerated, StatusTicketsSent, StatusCompleted},
}

// RetailSources returns the states a retail order may move to target from.
func RetailSources(target OrderStatus) []OrderStatus {
	return retailTransitions[target]
}

func B2BSources(target OrderStatus) []OrderStatus {
	return b2bTransitions[target]
}

func CanTransitionRetail(from, to OrderStatus) bool {
	return contains(retailTransitions[to], from)
}

func CanTransitionB2B(from, to OrderStatus) bool {
	return contains(b2bTransitions[to], from)
}

// IsSettled reports whether money has been captured for an order in this state.
func IsSettled(s OrderStatus) bool {
	switch s {
	case StatusPaid, StatusTicketsGenerated, StatusTicketsSent, StatusCompleted:
		return true
	}
	return false
}

// StatusChange is the set of columns written by a conditional transition.
// Zero values are left untouched except Status.
type StatusChange struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
	FailureReason string
	PaidAt        time.Time
	At            time.Time
}

func contains(list []OrderStatus, s OrderStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// GatewayOutcome is the normalized meaning of a gateway status string.
type GatewayOutcome int

const (
	OutcomeUnknown GatewayOutcome = iota
	OutcomeSuccess
	OutcomeFailure
	OutcomeCancelled
)

func (o GatewayOutcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "unknown"
}

// ClassifyGatewayStatus maps a raw gateway status, case-insensitively.
func ClassifyGatewayStatus(status string) GatewayOutcome {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "OK", "COMPLETED", "SUCCESS", "APPROVED":
		return OutcomeSuccess
	case "FAILED", "DECLINED", "ERROR":
		return OutcomeFailure
	case "CANCELLED", "CANCELED":
		return OutcomeCancelled
	}
	return OutcomeUnknown
}
