package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"festival-ticketing/internal/kafka"
	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/models"
)

type Kind string

const (
	KindOrderConfirmation Kind = "order_confirmation"
	KindFirstReminder     Kind = "payment_reminder_1"
	KindSecondReminder    Kind = "payment_reminder_2"
	KindInvitation        Kind = "invitation"
	KindB2BInvoice        Kind = "b2b_invoice"
	KindB2BTickets        Kind = "b2b_tickets"
)

type Attachment struct {
	TicketCode string `json:"ticketCode"`
	Name       string `json:"name"`
	URL        string `json:"url"`
}

// Message is the request the mail service consumes from Kafka.
type Message struct {
	Kind        Kind              `json:"kind"`
	To          string            `json:"to"`
	Name        string            `json:"name"`
	Language    string            `json:"language"`
	OrderNumber string            `json:"orderNumber"`
	Amount      string            `json:"amount,omitempty"`
	Currency    string            `json:"currency,omitempty"`
	ActionURL   string            `json:"actionUrl,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
	RequestedAt time.Time         `json:"requestedAt"`
}

// KafkaNotifier hands every notification to the mail service through a
// Kafka topic. A nil error means the request was accepted by the broker.
type KafkaNotifier struct {
	pub         kafka.Publisher
	topic       string
	frontendURL string
	logger      *logger.Logger
}

func NewKafkaNotifier(pub kafka.Publisher, topic, frontendURL string, log *logger.Logger) *KafkaNotifier {
	return &KafkaNotifier{pub: pub, topic: topic, frontendURL: strings.TrimRight(frontendURL, "/"), logger: log}
}

func (n *KafkaNotifier) SendOrderConfirmation(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	return n.send(ctx, Message{
		Kind:        KindOrderConfirmation,
		To:          order.CustomerEmail,
		Name:        order.CustomerName,
		Language:    order.Language,
		OrderNumber: order.OrderNumber,
		Amount:      order.Payable().StringFixed(2),
		Currency:    order.Currency,
		Attachments: attachments(items),
	})
}

func (n *KafkaNotifier) SendFirstReminder(ctx context.Context, order *models.Order) error {
	return n.sendReminder(ctx, KindFirstReminder, order)
}

func (n *KafkaNotifier) SendSecondReminder(ctx context.Context, order *models.Order) error {
	return n.sendReminder(ctx, KindSecondReminder, order)
}

func (n *KafkaNotifier) sendReminder(ctx context.Context, kind Kind, order *models.Order) error {
	return n.send(ctx, Message{
		Kind:        kind,
		To:          order.CustomerEmail,
		Name:        order.CustomerName,
		Language:    order.Language,
		OrderNumber: order.OrderNumber,
		Amount:      order.Payable().StringFixed(2),
		Currency:    order.Currency,
		ActionURL:   fmt.Sprintf("%s/%s/checkout/resume?order=%s", n.frontendURL, langOrDefault(order.Language), order.OrderNumber),
	})
}

func (n *KafkaNotifier) SendInvitationEmail(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	return n.send(ctx, Message{
		Kind:        KindInvitation,
		To:          order.CustomerEmail,
		Name:        order.CustomerName,
		Language:    order.Language,
		OrderNumber: order.OrderNumber,
		Attachments: attachments(items),
	})
}

func (n *KafkaNotifier) SendB2BInvoice(ctx context.Context, order *models.B2BOrder) error {
	return n.send(ctx, Message{
		Kind:        KindB2BInvoice,
		To:          order.ContactEmail,
		Name:        order.ContactName,
		Language:    order.Language,
		OrderNumber: order.OrderNumber,
		Amount:      order.FinalAmount.StringFixed(2),
		Currency:    order.Currency,
		ActionURL:   order.InvoiceURL,
		Extra: map[string]string{
			"company":        order.CompanyName,
			"companyTaxId":   order.CompanyTaxID,
			"invoiceNumber":  order.InvoiceNumber,
			"totalTickets":   fmt.Sprintf("%d", order.TotalTickets),
			"discount":       fmt.Sprintf("%d", order.DiscountPercent),
			"discountAmount": order.DiscountAmount.StringFixed(2),
		},
	})
}

func (n *KafkaNotifier) SendB2BTickets(ctx context.Context, order *models.B2BOrder, items []models.B2BOrderItem) error {
	holders := make([]models.OrderItem, len(items))
	for i, it := range items {
		holders[i] = it.AsTicketHolder()
	}
	return n.send(ctx, Message{
		Kind:        KindB2BTickets,
		To:          order.ContactEmail,
		Name:        order.ContactName,
		Language:    order.Language,
		OrderNumber: order.OrderNumber,
		Attachments: attachments(holders),
		Extra:       map[string]string{"company": order.CompanyName},
	})
}

func (n *KafkaNotifier) send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("%s for %s: no recipient", msg.Kind, msg.OrderNumber)
	}
	msg.RequestedAt = time.Now().UTC()

	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Kind, err)
	}
	if err := n.pub.Publish(ctx, n.topic, msg.OrderNumber, value); err != nil {
		return fmt.Errorf("send %s for %s: %w", msg.Kind, msg.OrderNumber, err)
	}
	n.logger.Info("NOTIFY", fmt.Sprintf("%s queued for %s", msg.Kind, msg.OrderNumber))
	return nil
}

func attachments(items []models.OrderItem) []Attachment {
	out := make([]Attachment, 0, len(items))
	for _, it := range items {
		if it.PDFURL == "" {
			continue
		}
		out = append(out, Attachment{TicketCode: it.TicketCode, Name: it.TicketName, URL: it.PDFURL})
	}
	return out
}

func langOrDefault(lang string) string {
	if lang == "" {
		return "ro"
	}
	return lang
}
