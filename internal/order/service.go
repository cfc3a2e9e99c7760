package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/metrics"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/order/db"
	"festival-ticketing/internal/order/discount"
	"festival-ticketing/internal/payment/gateway"
	"festival-ticketing/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const maxOrderNumberAttempts = 5

type DBLayer interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItems(ctx context.Context, items []models.OrderItem) error
	DeleteOrder(ctx context.Context, id string) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	OrderNumberExists(ctx context.Context, number string) (bool, error)
	UpdateOrderStatus(ctx context.Context, id string, from []models.OrderStatus, change models.StatusChange) (bool, error)
	AttachTransaction(ctx context.Context, id, transactionID string, at time.Time) (bool, error)
	CancelPendingByEmail(ctx context.Context, email, keepID string, at time.Time) ([]models.Order, error)
	ExpirePendingBefore(ctx context.Context, cutoff, at time.Time) ([]models.Order, error)
	SetItemArtifact(ctx context.Context, itemID, url string) error
	SetItemsStatus(ctx context.Context, orderID string, status models.ItemStatus) error
	ClaimConfirmation(ctx context.Context, id string, at time.Time) (bool, error)
	ReleaseConfirmation(ctx context.Context, id string) error

	CreateB2BOrder(ctx context.Context, order *models.B2BOrder) error
	CreateB2BOrderItems(ctx context.Context, items []models.B2BOrderItem) error
	DeleteB2BOrder(ctx context.Context, id string) error
	GetB2BOrderByID(ctx context.Context, id string) (*models.B2BOrder, error)
	GetB2BOrderItems(ctx context.Context, orderID string) ([]models.B2BOrderItem, error)
	UpdateB2BStatus(ctx context.Context, id string, from []models.OrderStatus, change models.StatusChange) (bool, error)
	AttachB2BTransaction(ctx context.Context, id, transactionID string, at time.Time) (bool, error)
	SetB2BInvoice(ctx context.Context, id, number, url string) error
	ExplodeB2BItems(ctx context.Context, orderID string, items []models.B2BOrderItem, at time.Time) (bool, error)
	SetB2BItemArtifact(ctx context.Context, itemID, url string) error
	SetB2BItemsStatus(ctx context.Context, orderID string, status models.ItemStatus) error

	GetTicketType(ctx context.Context, id string) (*models.TicketType, error)
	GetTicketOption(ctx context.Context, id string) (*models.TicketOption, error)

	EnqueueFulfillment(ctx context.Context, kind models.SubjectKind, orderID string, at time.Time) error
}

type PromoValidator interface {
	Validate(ctx context.Context, code string, total decimal.Decimal, email string, ticketIDs []string) (*discount.PromoResult, error)
	IncrementUsage(ctx context.Context, code string) error
}

type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *models.Order, items []models.OrderItem) error
	SendInvitationEmail(ctx context.Context, order *models.Order, items []models.OrderItem) error
	SendB2BInvoice(ctx context.Context, order *models.B2BOrder) error
	SendB2BTickets(ctx context.Context, order *models.B2BOrder, items []models.B2BOrderItem) error
}

// ArtifactGenerator renders tickets. The result is aligned with items and
// holds "" for every ticket that failed.
type ArtifactGenerator interface {
	Generate(ctx context.Context, orderNumber string, items []models.OrderItem) []string
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

type StatusBroadcaster interface {
	Emit(event models.OrderEvent)
}

// URLs are the absolute addresses handed to the gateway and to buyers.
type URLs struct {
	PublicURL   string
	FrontendURL string
}

type Deps struct {
	DB       DBLayer
	Gateway  gateway.Client
	Promos   PromoValidator
	Tickets  ArtifactGenerator
	Notifier Notifier
	Events   EventPublisher
	Hub      StatusBroadcaster
	URLs     URLs
	Logger   *logger.Logger
	Clock    utils.Clock
}

type OrderService struct {
	DB       DBLayer
	Gateway  gateway.Client
	Promos   PromoValidator
	Tickets  ArtifactGenerator
	Notifier Notifier
	Events   EventPublisher
	Hub      StatusBroadcaster
	URLs     URLs
	logger   *logger.Logger
	now      utils.Clock
}

func NewOrderService(d Deps) *OrderService {
	clock := d.Clock
	if clock == nil {
		clock = utils.SystemClock
	}
	log := d.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &OrderService{
		DB:       d.DB,
		Gateway:  d.Gateway,
		Promos:   d.Promos,
		Tickets:  d.Tickets,
		Notifier: d.Notifier,
		Events:   d.Events,
		Hub:      d.Hub,
		URLs: URLs{
			PublicURL:   strings.TrimRight(d.URLs.PublicURL, "/"),
			FrontendURL: strings.TrimRight(d.URLs.FrontendURL, "/"),
		},
		logger: log,
		now:    clock,
	}
}

// CreateOrderResult carries the promo outcome next to the order so the
// buyer learns why a code did not apply.
type CreateOrderResult struct {
	Order *models.Order          `json:"order"`
	Promo *discount.PromoResult `json:"promo,omitempty"`
}

// ---------------- ORDERS ----------------

// CreateOrder prices and explodes the cart, supersedes the customer's other
// pending orders and persists the new one as pending. An invalid promo code
// does not block the order; it just yields no discount.
func (s *OrderService) CreateOrder(ctx context.Context, req models.CreateOrderRequest) (*CreateOrderResult, error) {
	email := normalizeEmail(req.Customer.Email)
	if email == "" {
		return nil, validation(CodeInvalidCustomer, "customer email is required")
	}

	now := s.now()
	priced, err := s.priceCart(ctx, req.Items)
	if err != nil {
		return nil, err
	}
	items := explode(priced, now, false)

	// at most one live pending order per customer; the superseded order must
	// not count against one-per-email promos
	if _, err := s.CancelPendingOrdersByEmail(ctx, email); err != nil {
		return nil, &PersistenceError{Op: "cancel pending orders", Err: err}
	}

	var promo *discount.PromoResult
	discountAmount := decimal.Zero
	if strings.TrimSpace(req.PromoCode) != "" {
		promo, err = s.Promos.Validate(ctx, req.PromoCode, priced.total, email, priced.ticketIDs)
		if err != nil {
			return nil, fmt.Errorf("validate promo: %w", err)
		}
		if promo.Valid {
			discountAmount = promo.DiscountAmount
		} else {
			s.logger.Info("PROMO", fmt.Sprintf("Promo %s rejected for %s: %s", promo.Code, email, promo.Reason))
		}
	}

	number, err := s.newOrderNumber(ctx, utils.PrefixRetail)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:             uuid.NewString(),
		OrderNumber:    number,
		CustomerName:   strings.TrimSpace(req.Customer.Name),
		CustomerEmail:  email,
		CustomerPhone:  strings.TrimSpace(req.Customer.Phone),
		Language:       languageOrDefault(req.Customer.Language),
		TotalAmount:    priced.total,
		DiscountAmount: discountAmount,
		Currency:       models.DefaultCurrency,
		PaymentStatus:  models.PaymentPending,
		Status:         models.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if promo != nil && promo.Valid {
		order.PromoCode = promo.Code
	}

	if err := s.persistOrder(ctx, order, items); err != nil {
		return nil, err
	}

	if order.PromoCode != "" {
		if err := s.Promos.IncrementUsage(ctx, order.PromoCode); err != nil {
			s.logger.Error("PROMO", fmt.Sprintf("Order %s created but usage not counted: %v", order.OrderNumber, err))
		}
	}

	metrics.RecordOrderCreated(string(models.SubjectRetail))
	s.logger.LogOrder("CREATED", order.OrderNumber, fmt.Sprintf("%d tickets, total %s, discount %s",
		len(order.Items), order.TotalAmount.StringFixed(2), order.DiscountAmount.StringFixed(2)))
	s.emit(ctx, models.EventOrderCreated, models.SubjectRetail, order.ID, order.OrderNumber, order.Status, "")

	return &CreateOrderResult{Order: order, Promo: promo}, nil
}

// persistOrder writes the order and then its items. If the items fail the
// order is deleted again so no half-created order is ever visible.
func (s *OrderService) persistOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	for i := range items {
		items[i].OrderID = order.ID
	}

	if err := s.DB.CreateOrder(ctx, order); err != nil {
		s.logger.LogDatabase("INSERT", "orders", fmt.Sprintf("failed for %s: %v", order.OrderNumber, err))
		return &PersistenceError{Op: "create order", Err: err}
	}
	if err := s.DB.CreateOrderItems(ctx, items); err != nil {
		s.logger.LogDatabase("INSERT", "order_items", fmt.Sprintf("failed for %s, rolling back: %v", order.OrderNumber, err))
		if delErr := s.DB.DeleteOrder(ctx, order.ID); delErr != nil {
			s.logger.Error("ORDER", fmt.Sprintf("Rollback of %s failed: %v", order.OrderNumber, delErr))
		}
		return &PersistenceError{Op: "create order items", Err: err}
	}
	order.Items = items
	return nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	order, err := s.DB.GetOrderByID(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	items, err := s.DB.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("load items of %s: %w", order.OrderNumber, err)
	}
	order.Items = items
	return order, nil
}

func (s *OrderService) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	order, err := s.DB.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, lookupError(err)
	}
	return s.GetOrder(ctx, order.ID)
}

// ---------------- PAYMENT ----------------

// StartPayment opens a gateway transaction for a pending order. A gateway
// failure leaves the order pending without a transaction id.
func (s *OrderService) StartPayment(ctx context.Context, orderID, clientIP string) (*gateway.Transaction, error) {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, lookupError(err)
	}
	if order.IsInvitation || order.Status != models.StatusPending {
		return nil, validation(CodeOrderNotPayable, "order %s is %s", order.OrderNumber, order.Status)
	}
	if order.MAIBTransactionID != "" {
		return nil, validation(CodePaymentAlreadyStarted, "payment for %s was already started", order.OrderNumber)
	}

	// a full promo discount leaves nothing to charge
	if !order.Payable().IsPositive() {
		if _, err := s.ConfirmRetailPayment(ctx, order.ID); err != nil {
			return nil, err
		}
		return &gateway.Transaction{PayURL: s.resultPage(order.Language, true, order.OrderNumber)}, nil
	}

	txn, err := s.Gateway.CreateTransaction(ctx, gateway.CreateRequest{
		Amount:        order.Payable(),
		Currency:      order.Currency,
		ClientIP:      clientIP,
		OrderRef:      order.OrderNumber,
		Description:   fmt.Sprintf("Order %s", order.OrderNumber),
		Language:      order.Language,
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		CustomerPhone: order.CustomerPhone,
		OKURL:         s.URLs.PublicURL + "/api/payments/return/ok",
		FailURL:       s.URLs.PublicURL + "/api/payments/return/fail",
		CallbackURL:   s.URLs.PublicURL + "/api/payments/callback",
	})
	if err != nil {
		s.logger.LogPayment("CREATE_FAILED", order.OrderNumber, err.Error())
		return nil, err
	}

	attached, err := s.DB.AttachTransaction(ctx, order.ID, txn.TransactionID, s.now())
	if err != nil {
		return nil, &PersistenceError{Op: "attach transaction", Err: err}
	}
	if !attached {
		s.logger.Warn("PAYMENT", fmt.Sprintf("Transaction %s orphaned: %s changed while starting payment", txn.TransactionID, order.OrderNumber))
		return nil, validation(CodePaymentAlreadyStarted, "order %s is no longer awaiting payment", order.OrderNumber)
	}

	s.logger.LogPayment("STARTED", txn.TransactionID, fmt.Sprintf("order %s amount %s", order.OrderNumber, order.Payable().StringFixed(2)))
	return txn, nil
}

// MarkAsPaid reports whether this call moved the order to paid. A repeated
// call is a no-op.
func (s *OrderService) MarkAsPaid(ctx context.Context, orderID string) (bool, error) {
	now := s.now()
	return s.transitionRetail(ctx, orderID, models.StatusChange{
		Status:        models.StatusPaid,
		PaymentStatus: models.PaymentOK,
		PaidAt:        now,
		At:            now,
	}, models.EventOrderPaid)
}

func (s *OrderService) MarkAsFailed(ctx context.Context, orderID, reason string) (bool, error) {
	return s.transitionRetail(ctx, orderID, models.StatusChange{
		Status:        models.StatusFailed,
		PaymentStatus: models.PaymentFailed,
		FailureReason: reason,
		At:            s.now(),
	}, models.EventOrderFailed)
}

func (s *OrderService) MarkAsCancelled(ctx context.Context, orderID, reason string) (bool, error) {
	return s.transitionRetail(ctx, orderID, models.StatusChange{
		Status:        models.StatusCancelled,
		PaymentStatus: models.PaymentFailed,
		FailureReason: reason,
		At:            s.now(),
	}, models.EventOrderCancelled)
}

// ConfirmRetailPayment marks the order paid and queues ticket fulfillment.
// The queue ignores a second request for the same order, so a replayed
// confirmation is safe.
func (s *OrderService) ConfirmRetailPayment(ctx context.Context, orderID string) (bool, error) {
	applied, err := s.MarkAsPaid(ctx, orderID)
	if err != nil {
		return false, err
	}
	if err := s.DB.EnqueueFulfillment(ctx, models.SubjectRetail, orderID, s.now()); err != nil {
		return applied, &PersistenceError{Op: "enqueue fulfillment", Err: err}
	}
	return applied, nil
}

func (s *OrderService) transitionRetail(ctx context.Context, orderID string, change models.StatusChange, event models.OrderEventType) (bool, error) {
	applied, err := s.DB.UpdateOrderStatus(ctx, orderID, models.RetailSources(change.Status), change)
	if err != nil {
		return false, &PersistenceError{Op: "update order status", Err: err}
	}
	if !applied {
		s.logger.Debug("ORDER", fmt.Sprintf("Transition of %s to %s not applied", orderID, change.Status))
		return false, nil
	}

	metrics.RecordTransition(string(models.SubjectRetail), string(change.Status))
	number := orderID
	if order, err := s.DB.GetOrderByID(ctx, orderID); err == nil {
		number = order.OrderNumber
	}
	s.logger.LogOrder(strings.ToUpper(string(change.Status)), number, change.FailureReason)
	s.emit(ctx, event, models.SubjectRetail, orderID, number, change.Status, change.FailureReason)
	return true, nil
}

// Refund returns the full amount of a paid order through the gateway and
// marks its tickets refunded.
func (s *OrderService) Refund(ctx context.Context, orderID string) error {
	order, err := s.DB.GetOrderByID(ctx, orderID)
	if err != nil {
		return lookupError(err)
	}
	if order.IsInvitation || !models.CanTransitionRetail(order.Status, models.StatusRefunded) {
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

	applied, err := s.transitionRetail(ctx, order.ID, models.StatusChange{
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
	if err := s.DB.SetItemsStatus(ctx, order.ID, models.ItemRefunded); err != nil {
		return &PersistenceError{Op: "refund items", Err: err}
	}
	return nil
}

// ---------------- BULK TRANSITIONS ----------------

func (s *OrderService) CancelPendingOrdersByEmail(ctx context.Context, email string) ([]models.Order, error) {
	cancelled, err := s.DB.CancelPendingByEmail(ctx, normalizeEmail(email), "", s.now())
	for _, o := range cancelled {
		metrics.RecordTransition(string(models.SubjectRetail), string(models.StatusCancelled))
		s.logger.LogOrder("CANCELLED", o.OrderNumber, "superseded by a new checkout")
		s.emit(ctx, models.EventOrderCancelled, models.SubjectRetail, o.ID, o.OrderNumber, models.StatusCancelled, "superseded")
	}
	return cancelled, err
}

// ExpireOldPendingOrders expires every pending order older than hoursOld.
// Running it again changes nothing.
func (s *OrderService) ExpireOldPendingOrders(ctx context.Context, hoursOld int) (int, error) {
	now := s.now()
	cutoff := now.Add(-time.Duration(hoursOld) * time.Hour)
	expired, err := s.DB.ExpirePendingBefore(ctx, cutoff, now)
	for _, o := range expired {
		metrics.RecordTransition(string(models.SubjectRetail), string(models.StatusExpired))
		s.logger.LogOrder("EXPIRED", o.OrderNumber, fmt.Sprintf("pending for more than %dh", hoursOld))
		s.emit(ctx, models.EventOrderExpired, models.SubjectRetail, o.ID, o.OrderNumber, models.StatusExpired, "")
	}
	if err != nil {
		return len(expired), fmt.Errorf("expire pending orders: %w", err)
	}
	return len(expired), nil
}

// ---------------- HELPERS ----------------

type pricedLine struct {
	ticket   *models.TicketType
	option   *models.TicketOption
	quantity int
	unit     decimal.Decimal
}

type pricedCart struct {
	lines     []pricedLine
	total     decimal.Decimal
	tickets   int
	ticketIDs []string
}

// priceCart resolves current catalog prices. Unknown or inactive tickets and
// options that do not belong to their ticket are validation errors.
func (s *OrderService) priceCart(ctx context.Context, lines []models.CartLine) (*pricedCart, error) {
	if len(lines) == 0 {
		return nil, validation(CodeEmptyCart, "cart is empty")
	}

	cart := &pricedCart{total: decimal.Zero}
	seen := make(map[string]struct{})
	for _, line := range lines {
		if line.Quantity <= 0 {
			return nil, validation(CodeInvalidQuantity, "quantity for %s must be positive", line.TicketID)
		}
		ticket, err := s.DB.GetTicketType(ctx, line.TicketID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, validation(CodeUnknownTicket, "ticket %s does not exist", line.TicketID)
			}
			return nil, fmt.Errorf("load ticket %s: %w", line.TicketID, err)
		}
		if !ticket.IsActive {
			return nil, validation(CodeUnknownTicket, "ticket %s is not on sale", line.TicketID)
		}

		pl := pricedLine{ticket: ticket, quantity: line.Quantity, unit: ticket.Price}
		if line.OptionID != "" {
			option, err := s.DB.GetTicketOption(ctx, line.OptionID)
			if err != nil {
				if errors.Is(err, db.ErrNotFound) {
					return nil, validation(CodeUnknownOption, "option %s does not exist", line.OptionID)
				}
				return nil, fmt.Errorf("load option %s: %w", line.OptionID, err)
			}
			if option.TicketID != ticket.ID {
				return nil, validation(CodeUnknownOption, "option %s does not belong to ticket %s", option.ID, ticket.ID)
			}
			pl.option = option
			pl.unit = pl.unit.Add(option.PriceModifier)
		}

		cart.lines = append(cart.lines, pl)
		cart.total = cart.total.Add(pl.unit.Mul(decimal.NewFromInt(int64(pl.quantity))))
		cart.tickets += pl.quantity
		if _, ok := seen[ticket.ID]; !ok {
			seen[ticket.ID] = struct{}{}
			cart.ticketIDs = append(cart.ticketIDs, ticket.ID)
		}
	}
	return cart, nil
}

// explode turns each priced line of quantity N into N single tickets with
// their own code and QR payload.
func explode(cart *pricedCart, now time.Time, invitation bool) []models.OrderItem {
	items := make([]models.OrderItem, 0, cart.tickets)
	for _, line := range cart.lines {
		for i := 0; i < line.quantity; i++ {
			code := utils.GenerateTicketCode()
			item := models.OrderItem{
				ID:           uuid.NewString(),
				TicketID:     line.ticket.ID,
				TicketName:   itemName(line),
				UnitPrice:    line.unit,
				Quantity:     1,
				TicketCode:   code,
				QRData:       utils.GenerateQRData(code, now),
				IsInvitation: invitation,
				Status:       models.ItemActive,
				CreatedAt:    now,
			}
			if line.option != nil {
				item.OptionID = line.option.ID
			}
			if invitation {
				item.UnitPrice = decimal.Zero
			}
			items = append(items, item)
		}
	}
	return items
}

func itemName(line pricedLine) string {
	if line.option == nil {
		return line.ticket.Name
	}
	return line.ticket.Name + " + " + line.option.Name
}

// newOrderNumber draws numbers until one is unused in both order spaces.
func (s *OrderService) newOrderNumber(ctx context.Context, prefix string) (string, error) {
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		number := utils.GenerateOrderNumber(prefix, s.now())
		exists, err := s.DB.OrderNumberExists(ctx, number)
		if err != nil {
			return "", fmt.Errorf("check order number: %w", err)
		}
		if !exists {
			return number, nil
		}
		s.logger.Warn("ORDER", fmt.Sprintf("Order number %s already taken, retrying", number))
	}
	return "", &PersistenceError{Op: "allocate order number", Err: errors.New("no free order number after retries")}
}

func (s *OrderService) resultPage(lang string, success bool, orderNumber string) string {
	page := "failed"
	if success {
		page = "success"
	}
	return fmt.Sprintf("%s/%s/checkout/%s?order=%s", s.URLs.FrontendURL, languageOrDefault(lang), page, orderNumber)
}

// ResultPage is the frontend page a buyer lands on after the gateway.
func (s *OrderService) ResultPage(lang string, success bool, orderNumber string) string {
	return s.resultPage(lang, success, orderNumber)
}

func lookupError(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return ErrOrderNotFound
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func languageOrDefault(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if lang == "" {
		return "ro"
	}
	return lang
}
