package order

import (
	"context"
	"fmt"
	"strings"
	"time"

	"festival-ticketing/internal/metrics"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/order/discount"
	"festival-ticketing/internal/payment/gateway"
	"festival-ticketing/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// B2BQuote is the price preview for a corporate cart.
type B2BQuote struct {
	TotalTickets      int             `json:"totalTickets"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	DiscountPercent   int             `json:"discountPercent"`
	DiscountAmount    decimal.Decimal `json:"discountAmount"`
	FinalAmount       decimal.Decimal `json:"finalAmount"`
	Eligible          bool            `json:"eligible"`
	NextTier          *discount.Tier  `json:"nextTier,omitempty"`
	TicketsToNextTier int             `json:"ticketsToNextTier,omitempty"`
}

func (s *OrderService) QuoteB2B(ctx context.Context, lines []models.CartLine) (*B2BQuote, error) {
	cart, err := s.priceCart(ctx, lines)
	if err != nil {
		return nil, err
	}
	return quote(cart), nil
}

func quote(cart *pricedCart) *B2BQuote {
	calc := discount.Calculate(cart.total, cart.tickets)
	q := &B2BQuote{
		TotalTickets:    cart.tickets,
		TotalAmount:     cart.total,
		DiscountPercent: calc.Percent,
		DiscountAmount:  calc.DiscountAmount,
		FinalAmount:     calc.FinalAmount,
		Eligible:        cart.tickets >= models.MinB2BTickets,
	}
	if next, ok := discount.NextTier(cart.tickets); ok {
		q.NextTier = &next
		q.TicketsToNextTier = next.MinQty - cart.tickets
	}
	return q
}

// CreateB2BOrder persists a corporate order with the volume discount
// applied. Invoice orders get their invoice mailed immediately.
func (s *OrderService) CreateB2BOrder(ctx context.Context, req models.CreateB2BOrderRequest) (*models.B2BOrder, error) {
	email := normalizeEmail(req.Contact.Email)
	if email == "" || strings.TrimSpace(req.Company.Name) == "" {
		return nil, validation(CodeInvalidCustomer, "company name and contact email are required")
	}
	method := req.PaymentMethod
	if method == "" {
		method = models.PaymentMethodOnline
	}
	if method != models.PaymentMethodOnline && method != models.PaymentMethodInvoice {
		return nil, validation(CodeInvalidPaymentMethod, "unknown payment method %q", method)
	}

	cart, err := s.priceCart(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	if cart.tickets < models.MinB2BTickets {
		return nil, validation(CodeMinQuantity, "corporate orders need at least %d tickets, got %d", models.MinB2BTickets, cart.tickets)
	}
	q := quote(cart)

	number, err := s.newOrderNumber(ctx, utils.PrefixB2B)
	if err != nil {
		return nil, err
	}

	now := s.now()
	order := &models.B2BOrder{
		ID:              uuid.NewString(),
		OrderNumber:     number,
		CompanyName:     strings.TrimSpace(req.Company.Name),
		CompanyTaxID:    strings.TrimSpace(req.Company.TaxID),
		CompanyAddress:  strings.TrimSpace(req.Company.Address),
		ContactName:     strings.TrimSpace(req.Contact.Name),
		ContactEmail:    email,
		ContactPhone:    strings.TrimSpace(req.Contact.Phone),
		Language:        languageOrDefault(req.Contact.Language),
		PaymentMethod:   method,
		TotalTickets:    q.TotalTickets,
		TotalAmount:     q.TotalAmount,
		DiscountPercent: q.DiscountPercent,
		DiscountAmount:  q.DiscountAmount,
		FinalAmount:     q.FinalAmount,
		Currency:        models.DefaultCurrency,
		PaymentStatus:   models.PaymentPending,
		Status:          models.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	items := make([]models.B2BOrderItem, 0, len(cart.lines))
	for _, line := range cart.lines {
		item := models.B2BOrderItem{
			ID:         uuid.NewString(),
			B2BOrderID: order.ID,
			TicketID:   line.ticket.ID,
			TicketName: itemName(line),
			UnitPrice:  line.unit,
			Quantity:   line.quantity,
			Status:     models.ItemActive,
			CreatedAt:  now,
		}
		if line.option != nil {
			item.OptionID = line.option.ID
		}
		items = append(items, item)
	}

	if err := s.DB.CreateB2BOrder(ctx, order); err != nil {
		return nil, &PersistenceError{Op: "create b2b order", Err: err}
	}
	if err := s.DB.CreateB2BOrderItems(ctx, items); err != nil {
		if delErr := s.DB.DeleteB2BOrder(ctx, order.ID); delErr != nil {
			s.logger.Error("B2B", fmt.Sprintf("Rollback of %s failed: %v", order.OrderNumber, delErr))
		}
		return nil, &PersistenceError{Op: "create b2b order items", Err: err}
	}
	order.Items = items

	metrics.RecordOrderCreated(string(models.SubjectCorporate))
	s.logger.LogOrder("B2B_CREATED", order.OrderNumber, fmt.Sprintf("%s: %d tickets, %d%% off, final %s",
		order.CompanyName, order.TotalTickets, order.DiscountPercent, order.FinalAmount.StringFixed(2)))
	s.emit(ctx, models.EventOrderCreated, models.SubjectCorporate, order.ID, order.OrderNumber, order.Status, "")

	if method == models.PaymentMethodInvoice {
		s.issueInvoice(ctx, order)
	}
	return order, nil
}

// issueInvoice numbers the invoice, mails it and moves the order to
// invoice_sent. A mail failure leaves the order pending.
func (s *OrderService) issueInvoice(ctx context.Context, order *models.B2BOrder) {
	order.InvoiceNumber = utils.InvoiceNumber(order.OrderNumber)
	order.InvoiceURL = fmt.Sprintf("%s/%s/b2b/invoice?order=%s", s.URLs.FrontendURL, order.Language, order.OrderNumber)
	if err := s.DB.SetB2BInvoice(ctx, order.ID, order.InvoiceNumber, order.InvoiceURL); err != nil {
		s.logger.Error("B2B", fmt.Sprintf("Invoice for %s not stored: %v", order.OrderNumber, err))
		return
	}
	if err := s.Notifier.SendB2BInvoice(ctx, order); err != nil {
		s.logger.Error("B2B", fmt.Sprintf("Invoice for %s not sent: %v", order.OrderNumber, err))
		return
	}
	now := s.now()
	applied, err := s.DB.UpdateB2BStatus(ctx, order.ID, models.B2BSources(models.StatusInvoiceSent), models.StatusChange{
		Status: models.StatusInvoiceSent,
		At:     now,
	})
	if err != nil {
		s.logger.Error("B2B", fmt.Sprintf("Invoice sent but %s not updated: %v", order.OrderNumber, err))
		return
	}
	if applied {
		order.Status = models.StatusInvoiceSent
		order.InvoiceSentAt = now
		metrics.RecordTransition(string(models.SubjectCorporate), string(models.StatusInvoiceSent))
	}
}

func (s *OrderService) GetB2BOrder(ctx context.Context, id string) (*models.B2BOrder, error) {
	order, err := s.DB.GetB2BOrderByID(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	items, err := s.DB.GetB2BOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load items of %s: %w", order.OrderNumber, err)
	}
	order.Items = items
	return order, nil
}

func (s *OrderService) StartB2BPayment(ctx context.Context, orderID, clientIP string) (*gateway.Transaction, error) {
	order, err := s.DB.GetB2BOrderByID(ctx, orderID)
	if err != nil {
		return nil, lookupError(err)
	}
	if order.Status != models.StatusPending && order.Status != models.StatusInvoiceSent {
		return nil, validation(CodeOrderNotPayable, "order %s is %s", order.OrderNumber, order.Status)
	}
	if order.MAIBTransactionID != "" {
		return nil, validation(CodePaymentAlreadyStarted, "payment for %s was already started", order.OrderNumber)
	}

	txn, err := s.Gateway.CreateTransaction(ctx, gateway.CreateRequest{
		Amount:        order.FinalAmount,
		Currency:      order.Currency,
		ClientIP:      clientIP,
		OrderRef:      order.OrderNumber,
		Description:   fmt.Sprintf("Corporate order %s (%d tickets)", order.OrderNumber, order.TotalTickets),
		Language:      order.Language,
		CustomerName:  order.ContactName,
		CustomerEmail: order.ContactEmail,
		CustomerPhone: order.ContactPhone,
		OKURL:         s.URLs.PublicURL + "/api/payments/return/ok",
		FailURL:       s.URLs.PublicURL + "/api/payments/return/fail",
		CallbackURL:   s.URLs.PublicURL + "/api/payments/callback",
	})
	if err != nil {
		s.logger.LogPayment("CREATE_FAILED", order.OrderNumber, err.Error())
		return nil, err
	}

	attached, err := s.DB.AttachB2BTransaction(ctx, order.ID, txn.TransactionID, s.now())
	if err != nil {
		return nil, &PersistenceError{Op: "attach b2b transaction", Err: err}
	}
	if !attached {
		s.logger.Warn("PAYMENT", fmt.Sprintf("Transaction %s orphaned: %s changed while starting payment", txn.TransactionID, order.OrderNumber))
		return nil, validation(CodePaymentAlreadyStarted, "order %s is no longer awaiting payment", order.OrderNumber)
	}
	s.logger.LogPayment("STARTED", txn.TransactionID, fmt.Sprintf("b2b order %s amount %s", order.OrderNumber, order.FinalAmount.StringFixed(2)))
	return txn, nil
}

func (s *OrderService) MarkB2BAsPaid(ctx context.Context, orderID string) (bool, error) {
	now := s.now()
	return s.transitionB2B(ctx, orderID, models.StatusChange{
		Status:        models.StatusPaid,
		PaymentStatus: models.PaymentOK,
		PaidAt:        now,
		At:            now,
	}, models.EventOrderPaid)
}

func (s *OrderService) MarkB2BAsFailed(ctx context.Context, orderID, reason string) (bool, error) {
	return s.transitionB2B(ctx, orderID, models.StatusChange{
		Status:        models.StatusPaymentFailed,
		PaymentStatus: models.PaymentFailed,
		FailureReason: reason,
		At:            s.now(),
	}, models.EventOrderFailed)
}

func (s *OrderService) MarkB2BAsCancelled(ctx context.Context, orderID, reason string) (bool, error) {
	return s.transitionB2B(ctx, orderID, models.StatusChange{
		Status:        models.StatusCancelled,
		PaymentStatus: models.PaymentFailed,
		FailureReason: reason,
		At:            s.now(),
	}, models.EventOrderCancelled)
}

func (s *OrderService) transitionB2B(ctx context.Context, orderID string, change models.StatusChange, event models.OrderEventType) (bool, error) {
	applied, err := s.DB.UpdateB2BStatus(ctx, orderID, models.B2BSources(change.Status), change)
	if err != nil {
		return false, &PersistenceError{Op: "update b2b status", Err: err}
	}
	if !applied {
		s.logger.Debug("B2B", fmt.Sprintf("Transition of %s to %s not applied", orderID, change.Status))
		return false, nil
	}

	metrics.RecordTransition(string(models.SubjectCorporate), string(change.Status))
	number := orderID
	if order, err := s.DB.GetB2BOrderByID(ctx, orderID); err == nil {
		number = order.OrderNumber
	}
	s.logger.LogOrder("B2B_"+strings.ToUpper(string(change.Status)), number, change.FailureReason)
	if event != "" {
		s.emit(ctx, event, models.SubjectCorporate, orderID, number, change.Status, change.FailureReason)
	}
	return true, nil
}

// ConfirmB2BPayment marks an online B2B order paid and delivers its tickets.
// When delivery fails a fulfillment task is queued so the outbox keeps
// retrying it.
func (s *OrderService) ConfirmB2BPayment(ctx context.Context, orderID string) (bool, error) {
	applied, err := s.MarkB2BAsPaid(ctx, orderID)
	if err != nil {
		return false, err
	}
	if err := s.ProcessSuccessfulB2BOrder(ctx, orderID); err != nil {
		s.logger.Warn("B2B", fmt.Sprintf("Delivery of %s deferred to fulfillment queue: %v", orderID, err))
		if err := s.DB.EnqueueFulfillment(ctx, models.SubjectCorporate, orderID, s.now()); err != nil {
			return applied, &PersistenceError{Op: "enqueue fulfillment", Err: err}
		}
	}
	return applied, nil
}

// FulfillB2BOrder resumes whatever is left of a paid order's delivery: the
// explosion when still paid, the mail when tickets exist but were not sent.
func (s *OrderService) FulfillB2BOrder(ctx context.Context, orderID string) error {
	order, err := s.GetB2BOrder(ctx, orderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case models.StatusPaid:
		return s.ProcessSuccessfulB2BOrder(ctx, orderID)
	case models.StatusTicketsGenerated:
		return s.deliverB2BTickets(ctx, order)
	}
	return nil
}

// ProcessSuccessfulB2BOrder explodes the aggregated lines of a paid order
// into single tickets, renders them and mails them to the contact. Only the
// caller that performs the explosion continues to delivery, so concurrent
// confirmations deliver once. Delivery failures never revert paid.
func (s *OrderService) ProcessSuccessfulB2BOrder(ctx context.Context, orderID string) error {
	order, err := s.GetB2BOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.StatusPaid {
		s.logger.Debug("B2B", fmt.Sprintf("Skipping ticket generation for %s: status is %s", order.OrderNumber, order.Status))
		return nil
	}

	now := s.now()
	tickets := explodeB2B(order, order.Items, now)
	applied, err := s.DB.ExplodeB2BItems(ctx, order.ID, tickets, now)
	if err != nil {
		return &PersistenceError{Op: "explode b2b items", Err: err}
	}
	if !applied {
		s.logger.Debug("B2B", fmt.Sprintf("Tickets for %s already generated by another caller", order.OrderNumber))
		return nil
	}
	order.Status = models.StatusTicketsGenerated
	order.Items = tickets
	metrics.RecordTransition(string(models.SubjectCorporate), string(models.StatusTicketsGenerated))
	s.logger.LogOrder("B2B_TICKETS_GENERATED", order.OrderNumber, fmt.Sprintf("%d tickets", len(tickets)))

	return s.deliverB2BTickets(ctx, order)
}

// ResendB2BTickets is the manual recovery path for an order whose tickets
// were generated but not (or not fully) delivered.
func (s *OrderService) ResendB2BTickets(ctx context.Context, orderID string) error {
	order, err := s.GetB2BOrder(ctx, orderID)
	if err != nil {
		return err
	}
	switch order.Status {
	case models.StatusPaid:
		return s.ProcessSuccessfulB2BOrder(ctx, orderID)
	case models.StatusTicketsGenerated, models.StatusTicketsSent, models.StatusCompleted:
		return s.deliverB2BTickets(ctx, order)
	}
	return validation(CodeNotSettled, "order %s is %s", order.OrderNumber, order.Status)
}

func (s *OrderService) deliverB2BTickets(ctx context.Context, order *models.B2BOrder) error {
	s.renderMissingB2BArtifacts(ctx, order)

	if err := s.Notifier.SendB2BTickets(ctx, order, order.Items); err != nil {
		s.logger.Error("B2B", fmt.Sprintf("Tickets for %s not sent: %v", order.OrderNumber, err))
		return fmt.Errorf("send b2b tickets for %s: %w", order.OrderNumber, err)
	}

	for _, target := range []models.OrderStatus{models.StatusTicketsSent, models.StatusCompleted} {
		if _, err := s.transitionB2B(ctx, order.ID, models.StatusChange{Status: target, At: s.now()}, ""); err != nil {
			return err
		}
	}
	s.emit(ctx, models.EventTicketsIssued, models.SubjectCorporate, order.ID, order.OrderNumber, models.StatusCompleted, "")
	return nil
}

func (s *OrderService) renderMissingB2BArtifacts(ctx context.Context, order *models.B2BOrder) {
	var missing []int
	batch := make([]models.OrderItem, 0, len(order.Items))
	for i, it := range order.Items {
		if it.TicketCode != "" && it.PDFURL == "" && it.Status != models.ItemRefunded {
			missing = append(missing, i)
			batch = append(batch, it.AsTicketHolder())
		}
	}
	if len(missing) == 0 {
		return
	}

	urls := s.Tickets.Generate(ctx, order.OrderNumber, batch)
	failed := 0
	for j, i := range missing {
		if j >= len(urls) || urls[j] == "" {
			failed++
			continue
		}
		if err := s.DB.SetB2BItemArtifact(ctx, order.Items[i].ID, urls[j]); err != nil {
			failed++
			continue
		}
		order.Items[i].PDFURL = urls[j]
	}
	if failed > 0 {
		s.logger.Warn("B2B", fmt.Sprintf("%d of %d artifacts missing for %s, resend to retry", failed, len(missing), order.OrderNumber))
	}
}

// ConfirmB2BInvoicePayment records a bank transfer for an invoice order and
// delivers the tickets before returning.
func (s *OrderService) ConfirmB2BInvoicePayment(ctx context.Context, orderID string) error {
	order, err := s.DB.GetB2BOrderByID(ctx, orderID)
	if err != nil {
		return lookupError(err)
	}
	applied, err := s.MarkB2BAsPaid(ctx, order.ID)
	if err != nil {
		return err
	}
	if !applied {
		switch {
		case order.Status == models.StatusPaid:
		case models.IsSettled(order.Status):
			return nil
		default:
			return validation(CodeInvalidTransition, "order %s is %s", order.OrderNumber, order.Status)
		}
	}
	return s.ProcessSuccessfulB2BOrder(ctx, order.ID)
}

// RefundB2B reverses a settled corporate order. Online payments are refunded
// through the gateway; invoice payments are refunded outside the system.
func (s *OrderService) RefundB2B(ctx context.Context, orderID string) error {
	order, err := s.DB.GetB2BOrderByID(ctx, orderID)
	if err != nil {
		return lookupError(err)
	}
	if !models.CanTransitionB2B(order.Status, models.StatusRefunded) {
		return validation(CodeNotRefundable, "order %s is %s", order.OrderNumber, order.Status)
	}
	if order.MAIBTransactionID != "" {
		res, err := s.Gateway.Refund(ctx, order.MAIBTransactionID, nil)
		if err != nil {
			return err
		}
		if !res.Success {
			return &gateway.GatewayError{Op: "refund", Message: "refund rejected with status " + res.Status}
		}
	}

	applied, err := s.transitionB2B(ctx, order.ID, models.StatusChange{
		Status:        models.StatusRefunded,
		PaymentStatus: models.PaymentReversed,
		At:            s.now(),
	}, models.EventOrderRefunded)
	if err != nil {
		return err
	}
	if !applied {
		return validation(CodeInvalidTransition, "order %s changed during refund", order.OrderNumber)
	}
	if err := s.DB.SetB2BItemsStatus(ctx, order.ID, models.ItemRefunded); err != nil {
		return &PersistenceError{Op: "refund b2b items", Err: err}
	}
	return nil
}

// explodeB2B turns every aggregated line into Quantity single tickets.
// Lines that already carry a ticket code are kept as they are.
func explodeB2B(order *models.B2BOrder, lines []models.B2BOrderItem, now time.Time) []models.B2BOrderItem {
	tickets := make([]models.B2BOrderItem, 0, order.TotalTickets)
	for _, line := range lines {
		if line.TicketCode != "" {
			tickets = append(tickets, line)
			continue
		}
		for i := 0; i < line.Quantity; i++ {
			code := utils.GenerateTicketCode()
			tickets = append(tickets, models.B2BOrderItem{
				ID:         uuid.NewString(),
				B2BOrderID: order.ID,
				TicketID:   line.TicketID,
				OptionID:   line.OptionID,
				TicketName: line.TicketName,
				UnitPrice:  line.UnitPrice,
				Quantity:   1,
				TicketCode: code,
				QRData:     utils.GenerateQRData(code, now),
				Status:     models.ItemActive,
				CreatedAt:  now,
			})
		}
	}
	return tickets
}
