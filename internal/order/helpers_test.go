package order_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/order"
	"festival-ticketing/internal/order/db"
	"festival-ticketing/internal/order/discount"
	"festival-ticketing/internal/payment/gateway"
	"festival-ticketing/internal/sse"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var base = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendOrderConfirmation(ctx context.Context, o *models.Order, items []models.OrderItem) error {
	return m.Called(ctx, o, items).Error(0)
}

func (m *MockNotifier) SendInvitationEmail(ctx context.Context, o *models.Order, items []models.OrderItem) error {
	return m.Called(ctx, o, items).Error(0)
}

func (m *MockNotifier) SendB2BInvoice(ctx context.Context, o *models.B2BOrder) error {
	return m.Called(ctx, o).Error(0)
}

func (m *MockNotifier) SendB2BTickets(ctx context.Context, o *models.B2BOrder, items []models.B2BOrderItem) error {
	return m.Called(ctx, o, items).Error(0)
}

// fakeGenerator returns a URL per ticket code, except for codes listed in
// fail, and remembers how many tickets it was asked for.
type fakeGenerator struct {
	mu      sync.Mutex
	fail    map[string]bool
	batches []int
}

func (g *fakeGenerator) Generate(_ context.Context, orderNumber string, items []models.OrderItem) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batches = append(g.batches, len(items))
	urls := make([]string, len(items))
	for i, it := range items {
		if g.fail[it.TicketCode] {
			continue
		}
		urls[i] = "https://cdn.test/" + orderNumber + "/" + it.TicketCode + ".png"
	}
	return urls
}

func (g *fakeGenerator) failOn(codes ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = make(map[string]bool)
	for _, c := range codes {
		g.fail[c] = true
	}
}

func (g *fakeGenerator) Batches() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.batches...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	svc      *order.OrderService
	store    *db.DB
	gw       *gateway.MockClient
	notifier *MockNotifier
	tickets  *fakeGenerator
	hub      *sse.OrderStatusHub
	clock    *testClock
}

type envOption func(*order.Deps)

func withDB(wrap func(*db.DB) order.DBLayer) envOption {
	return func(d *order.Deps) { d.DB = wrap(d.DB.(*db.DB)) }
}

func withGateway(gw gateway.Client) envOption {
	return func(d *order.Deps) { d.Gateway = gw }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	store := db.New(bunDB)
	ctx := context.Background()
	require.NoError(t, store.CreateSchema(ctx))
	seedCatalog(t, store)

	env := &testEnv{
		store:    store,
		gw:       gateway.NewMockClient("test-key", false),
		notifier: new(MockNotifier),
		tickets:  &fakeGenerator{},
		hub:      sse.NewOrderStatusHub(),
		clock:    &testClock{now: base},
	}
	log := logger.NewNopLogger()

	deps := order.Deps{
		DB:       store,
		Gateway:  env.gw,
		Promos:   discount.NewPromoService(store, log, env.clock.Now),
		Tickets:  env.tickets,
		Notifier: env.notifier,
		Hub:      env.hub,
		URLs:     order.URLs{PublicURL: "https://api.festival.test", FrontendURL: "https://festival.test"},
		Logger:   log,
		Clock:    env.clock.Now,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	env.svc = order.NewOrderService(deps)
	return env
}

func seedCatalog(t *testing.T, store *db.DB) {
	ctx := context.Background()
	require.NoError(t, store.UpsertTicketType(ctx, &models.TicketType{ID: "T1", Name: "General", Price: decimal.NewFromInt(200), IsActive: true}))
	require.NoError(t, store.UpsertTicketType(ctx, &models.TicketType{ID: "T2", Name: "Corporate", Price: decimal.NewFromInt(150), IsActive: true}))
	require.NoError(t, store.UpsertTicketType(ctx, &models.TicketType{ID: "OLD", Name: "Early bird", Price: decimal.NewFromInt(100), IsActive: false}))
	require.NoError(t, store.UpsertTicketOption(ctx, &models.TicketOption{ID: "CAMP", TicketID: "T1", Name: "Camping", PriceModifier: decimal.NewFromInt(50)}))
}

func (e *testEnv) addPercentPromo(t *testing.T, code string, percent int, until time.Time) {
	t.Helper()
	require.NoError(t, e.store.CreatePromo(context.Background(), &models.PromoCode{
		ID:              uuid.NewString(),
		Code:            code,
		IsActive:        true,
		ValidUntil:      until,
		DiscountPercent: &percent,
		CreatedAt:       base,
	}))
}

func (e *testEnv) addOnePerEmailPromo(t *testing.T, code string, percent int) {
	t.Helper()
	require.NoError(t, e.store.CreatePromo(context.Background(), &models.PromoCode{
		ID:              uuid.NewString(),
		Code:            code,
		IsActive:        true,
		DiscountPercent: &percent,
		OnePerEmail:     true,
		CreatedAt:       base,
	}))
}

func (e *testEnv) addFixedPromo(t *testing.T, code string, amount int64) {
	t.Helper()
	require.NoError(t, e.store.CreatePromo(context.Background(), &models.PromoCode{
		ID:             uuid.NewString(),
		Code:           code,
		IsActive:       true,
		DiscountAmount: decimal.NewNullDecimal(decimal.NewFromInt(amount)),
		CreatedAt:      base,
	}))
}

func checkout(email string, lines ...models.CartLine) models.CreateOrderRequest {
	return models.CreateOrderRequest{
		Customer: models.Customer{Name: "Ana Popescu", Email: email, Language: "ro"},
		Items:    lines,
		ClientIP: "10.0.0.1",
	}
}

func line(ticketID string, qty int) models.CartLine {
	return models.CartLine{TicketID: ticketID, Quantity: qty}
}

func (e *testEnv) createPending(t *testing.T, email string, qty int) *models.Order {
	t.Helper()
	res, err := e.svc.CreateOrder(context.Background(), checkout(email, line("T1", qty)))
	require.NoError(t, err)
	return res.Order
}

// createPaid creates an order, starts its payment and marks it paid the way
// a gateway callback would.
func (e *testEnv) createPaid(t *testing.T, email string, qty int) *models.Order {
	t.Helper()
	ctx := context.Background()
	o := e.createPending(t, email, qty)
	txn, err := e.svc.StartPayment(ctx, o.ID, "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, e.gw.SetStatus(txn.TransactionID, "OK"))
	applied, err := e.svc.MarkAsPaid(ctx, o.ID)
	require.NoError(t, err)
	require.True(t, applied)
	return o
}

func (e *testEnv) countOrders(t *testing.T, email string, status models.OrderStatus) int {
	t.Helper()
	n, err := e.store.Bun.NewSelect().Model((*models.Order)(nil)).
		Where("customer_email = ?", strings.ToLower(email)).
		Where("status = ?", status).
		Count(context.Background())
	require.NoError(t, err)
	return n
}

func validationCode(err error) string {
	var v *order.ValidationError
	if errors.As(err, &v) {
		return v.Code
	}
	return ""
}
