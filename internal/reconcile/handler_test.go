package reconcile_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/order"
	"festival-ticketing/internal/order/db"
	"festival-ticketing/internal/order/discount"
	"festival-ticketing/internal/payment/gateway"
	"festival-ticketing/internal/reconcile"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const signingKey = "test-key"

type countingNotifier struct {
	mu         sync.Mutex
	b2bTickets int
}

func (n *countingNotifier) SendOrderConfirmation(context.Context, *models.Order, []models.OrderItem) error {
	return nil
}

func (n *countingNotifier) SendInvitationEmail(context.Context, *models.Order, []models.OrderItem) error {
	return nil
}

func (n *countingNotifier) SendB2BInvoice(context.Context, *models.B2BOrder) error { return nil }

func (n *countingNotifier) SendB2BTickets(context.Context, *models.B2BOrder, []models.B2BOrderItem) error {
	n.mu.Lock()
	n.b2bTickets++
	n.mu.Unlock()
	return nil
}

type urlGenerator struct{}

func (urlGenerator) Generate(_ context.Context, orderNumber string, items []models.OrderItem) []string {
	urls := make([]string, len(items))
	for i, it := range items {
		urls[i] = "https://cdn.test/" + orderNumber + "/" + it.TicketCode + ".png"
	}
	return urls
}

type fixture struct {
	handler  *reconcile.Handler
	svc      *order.OrderService
	store    *db.DB
	gw       *gateway.MockClient
	notifier *countingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	ctx := context.Background()
	store := db.New(bunDB)
	require.NoError(t, store.CreateSchema(ctx))
	require.NoError(t, store.UpsertTicketType(ctx, &models.TicketType{ID: "T1", Name: "General", Price: decimal.NewFromInt(200), IsActive: true}))

	log := logger.NewNopLogger()
	clock := func() time.Time { return time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC) }
	f := &fixture{
		store:    store,
		gw:       gateway.NewMockClient(signingKey, false),
		notifier: &countingNotifier{},
	}
	f.svc = order.NewOrderService(order.Deps{
		DB:       store,
		Gateway:  f.gw,
		Promos:   discount.NewPromoService(store, log, clock),
		Tickets:  urlGenerator{},
		Notifier: f.notifier,
		URLs:     order.URLs{PublicURL: "https://api.festival.test", FrontendURL: "https://festival.test"},
		Logger:   log,
		Clock:    clock,
	})
	f.handler = reconcile.NewHandler(store, f.svc, f.gw, log)
	return f
}

// startRetail creates a pending order with a gateway transaction and sets
// the status the gateway will report for it.
func (f *fixture) startRetail(t *testing.T, status string) (*models.Order, string) {
	t.Helper()
	ctx := context.Background()
	res, err := f.svc.CreateOrder(ctx, models.CreateOrderRequest{
		Customer: models.Customer{Name: "Ana", Email: "ana@example.com", Language: "en"},
		Items:    []models.CartLine{{TicketID: "T1", Quantity: 2}},
	})
	require.NoError(t, err)
	txn, err := f.svc.StartPayment(ctx, res.Order.ID, "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, f.gw.SetStatus(txn.TransactionID, status))
	return res.Order, txn.TransactionID
}

func (f *fixture) status(t *testing.T, id string) models.OrderStatus {
	t.Helper()
	o, err := f.store.GetOrderByID(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func TestHandleCallback_SuccessConfirmsAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, txnID := f.startRetail(t, "OK")

	body, err := f.gw.SignedCallback(txnID)
	require.NoError(t, err)

	res, err := f.handler.HandleCallback(ctx, body, "")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "success", res.Outcome)
	assert.Equal(t, o.OrderNumber, res.OrderNumber)
	assert.Equal(t, models.SubjectRetail, res.Kind)
	assert.Equal(t, models.StatusPaid, f.status(t, o.ID))

	task, err := f.store.GetTaskByOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)
}

func TestHandleCallback_ReplayChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, txnID := f.startRetail(t, "OK")
	body, err := f.gw.SignedCallback(txnID)
	require.NoError(t, err)

	first, err := f.handler.HandleCallback(ctx, body, "")
	require.NoError(t, err)
	second, err := f.handler.HandleCallback(ctx, body, "")
	require.NoError(t, err)

	assert.True(t, first.Applied)
	assert.False(t, second.Applied)
	assert.Equal(t, models.StatusPaid, f.status(t, o.ID))
}

func TestHandleCallback_FlatBodyWithHeaderSignature(t *testing.T) {
	f := newFixture(t)
	o, txnID := f.startRetail(t, "FAILED")

	payload := map[string]interface{}{
		"payId":      txnID,
		"orderId":    o.OrderNumber,
		"status":     "FAILED",
		"statusCode": "116",
		"amount":     json.Number("400.00"),
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	res, err := f.handler.HandleCallback(context.Background(), body, gateway.Sign(payload, signingKey))
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, "failure", res.Outcome)

	got, err := f.store.GetOrderByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "116", got.FailureReason)
}

func TestHandleCallback_RejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	o, txnID := f.startRetail(t, "OK")

	payload := map[string]interface{}{"payId": txnID, "orderId": o.OrderNumber, "status": "OK"}
	body, err := json.Marshal(map[string]interface{}{
		"result":    payload,
		"signature": gateway.Sign(payload, "wrong-key"),
	})
	require.NoError(t, err)

	_, err = f.handler.HandleCallback(context.Background(), body, "")
	var sigErr *reconcile.SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, models.StatusPending, f.status(t, o.ID))
}

func TestHandleCallback_RejectsUnsignedBody(t *testing.T) {
	f := newFixture(t)
	o, txnID := f.startRetail(t, "OK")
	body, err := json.Marshal(map[string]interface{}{"payId": txnID, "status": "OK"})
	require.NoError(t, err)

	_, err = f.handler.HandleCallback(context.Background(), body, "")
	var sigErr *reconcile.SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, models.StatusPending, f.status(t, o.ID))
}

func TestHandleCallback_MalformedBody(t *testing.T) {
	f := newFixture(t)

	_, err := f.handler.HandleCallback(context.Background(), []byte("{not json"), "sig")

	assert.True(t, errors.Is(err, reconcile.ErrMalformedBody))
}

func TestHandleCallback_UnknownStatusIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	o, txnID := f.startRetail(t, "HOLD")
	body, err := f.gw.SignedCallback(txnID)
	require.NoError(t, err)

	res, err := f.handler.HandleCallback(context.Background(), body, "")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Equal(t, "unknown", res.Outcome)
	assert.Equal(t, models.StatusPending, f.status(t, o.ID))
}

func TestHandleCallback_UnknownTransactionIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	payload := map[string]interface{}{"payId": "no-such-txn", "status": "OK"}
	body, err := json.Marshal(map[string]interface{}{"result": payload, "signature": gateway.Sign(payload, signingKey)})
	require.NoError(t, err)

	res, err := f.handler.HandleCallback(context.Background(), body, "")
	require.NoError(t, err)
	assert.False(t, res.Applied)
	assert.Empty(t, res.OrderNumber)
}

func TestHandleCallback_LateCaptureAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, txnID := f.startRetail(t, "FAILED")

	failed, err := f.gw.SignedCallback(txnID)
	require.NoError(t, err)
	_, err = f.handler.HandleCallback(ctx, failed, "")
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, f.status(t, o.ID))

	require.NoError(t, f.gw.SetStatus(txnID, "OK"))
	captured, err := f.gw.SignedCallback(txnID)
	require.NoError(t, err)
	res, err := f.handler.HandleCallback(ctx, captured, "")
	require.NoError(t, err)

	assert.True(t, res.Applied)
	assert.Equal(t, models.StatusPaid, f.status(t, o.ID))
}

func TestHandleCallback_B2BDeliversTicketsBeforeReturning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.UpsertTicketType(ctx, &models.TicketType{ID: "T2", Name: "Corporate", Price: decimal.NewFromInt(150), IsActive: true}))

	b2b, err := f.svc.CreateB2BOrder(ctx, models.CreateB2BOrderRequest{
		Company:       models.Company{Name: "Orange SRL"},
		Contact:       models.Customer{Name: "Ion", Email: "hr@orange.md", Language: "ro"},
		Items:         []models.CartLine{{TicketID: "T2", Quantity: 50}},
		PaymentMethod: models.PaymentMethodOnline,
	})
	require.NoError(t, err)
	txn, err := f.svc.StartB2BPayment(ctx, b2b.ID, "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, f.gw.SetStatus(txn.TransactionID, "OK"))
	body, err := f.gw.SignedCallback(txn.TransactionID)
	require.NoError(t, err)

	res, err := f.handler.HandleCallback(ctx, body, "")
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, models.SubjectCorporate, res.Kind)

	got, err := f.svc.GetB2BOrder(ctx, b2b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Len(t, got.Items, 50)

	_, err = f.handler.HandleCallback(ctx, body, "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifier.b2bTickets)
}

func TestHandleReturn_ConfirmsWithGatewayStatus(t *testing.T) {
	f := newFixture(t)
	o, txnID := f.startRetail(t, "OK")

	page, err := f.handler.HandleReturn(context.Background(), reconcile.ReturnParams{TransactionID: txnID})
	require.NoError(t, err)

	assert.Equal(t, "https://festival.test/en/checkout/success?order="+o.OrderNumber, page)
	assert.Equal(t, models.StatusPaid, f.status(t, o.ID))
}

func TestHandleReturn_AlreadyPaidSkipsGateway(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o, txnID := f.startRetail(t, "OK")
	_, err := f.svc.ConfirmRetailPayment(ctx, o.ID)
	require.NoError(t, err)
	// a later reversal at the gateway must not flip the page
	require.NoError(t, f.gw.SetStatus(txnID, "FAILED"))

	page, err := f.handler.HandleReturn(ctx, reconcile.ReturnParams{OrderRef: o.OrderNumber})
	require.NoError(t, err)
	assert.Equal(t, "https://festival.test/en/checkout/success?order="+o.OrderNumber, page)
}

func TestHandleReturn_PendingAtGatewayShowsFailedPage(t *testing.T) {
	f := newFixture(t)
	o, txnID := f.startRetail(t, "PENDING")

	page, err := f.handler.HandleReturn(context.Background(), reconcile.ReturnParams{TransactionID: txnID})
	require.NoError(t, err)
	assert.Equal(t, "https://festival.test/en/checkout/failed?order="+o.OrderNumber, page)
	assert.Equal(t, models.StatusPending, f.status(t, o.ID))
}

func TestHandleReturn_IgnoresForeignTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	victim, _ := f.startRetail(t, "PENDING")

	// a paid transaction belonging to someone else
	other, err := f.gw.CreateTransaction(ctx, gateway.CreateRequest{Amount: decimal.NewFromInt(1), OrderRef: "X"})
	require.NoError(t, err)
	require.NoError(t, f.gw.SetStatus(other.TransactionID, "OK"))

	_, err = f.handler.HandleReturn(ctx, reconcile.ReturnParams{TransactionID: other.TransactionID, OrderRef: victim.OrderNumber})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, f.status(t, victim.ID))
}

func TestHandleReturn_UnknownOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.handler.HandleReturn(context.Background(), reconcile.ReturnParams{TransactionID: "nope", OrderRef: "ORD-NOPE"})
	assert.ErrorIs(t, err, reconcile.ErrSubjectNotFound)
}

func TestParseCallback_KeepsNumberText(t *testing.T) {
	cb, err := reconcile.ParseCallback([]byte(`{"result":{"payId":"p1","amount":10.50,"status":"OK"},"signature":"s"}`), "")
	require.NoError(t, err)

	assert.Equal(t, "p1", cb.TransactionID)
	assert.Equal(t, "s", cb.Signature)
	assert.Equal(t, json.Number("10.50"), cb.Payload["amount"])
	assert.NotContains(t, cb.Payload, "signature")
}
