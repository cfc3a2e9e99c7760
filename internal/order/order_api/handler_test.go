package order_api_test

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"festival-ticketing/internal/auth"
	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/order"
	"festival-ticketing/internal/order/db"
	"festival-ticketing/internal/order/discount"
	"festival-ticketing/internal/order/order_api"
	"festival-ticketing/internal/payment/gateway"
	"festival-ticketing/internal/reconcile"
	"festival-ticketing/internal/scheduler"
	"festival-ticketing/internal/sse"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const adminSecret = "admin-secret"

var now = time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

type nopNotifier struct{}

func (nopNotifier) SendOrderConfirmation(context.Context, *models.Order, []models.OrderItem) error {
	return nil
}

func (nopNotifier) SendInvitationEmail(context.Context, *models.Order, []models.OrderItem) error {
	return nil
}

func (nopNotifier) SendB2BInvoice(context.Context, *models.B2BOrder) error { return nil }

func (nopNotifier) SendB2BTickets(context.Context, *models.B2BOrder, []models.B2BOrderItem) error {
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

type stubJobs struct {
	err  error
	runs []string
}

func (s *stubJobs) RunJob(_ context.Context, name string) error {
	s.runs = append(s.runs, name)
	return s.err
}

type apiEnv struct {
	router http.Handler
	svc    *order.OrderService
	store  *db.DB
	gw     *gateway.MockClient
	jobs   *stubJobs
}

func newAPIEnv(t *testing.T) *apiEnv {
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
	clock := func() time.Time { return now }
	hub := sse.NewOrderStatusHub()
	promos := discount.NewPromoService(store, log, clock)
	gw := gateway.NewMockClient("test-key", false)

	svc := order.NewOrderService(order.Deps{
		DB:       store,
		Gateway:  gw,
		Promos:   promos,
		Tickets:  urlGenerator{},
		Notifier: nopNotifier{},
		Hub:      hub,
		URLs:     order.URLs{PublicURL: "https://api.festival.test", FrontendURL: "https://festival.test"},
		Logger:   log,
		Clock:    clock,
	})
	jobs := &stubJobs{}
	h := order_api.NewHandler(svc, reconcile.NewHandler(store, svc, gw, log), promos, hub, jobs, log)

	r := chi.NewRouter()
	h.RegisterRoutes(r, auth.NewHMACVerifier(adminSecret))

	return &apiEnv{router: r, svc: svc, store: store, gw: gw, jobs: jobs}
}

func (e *apiEnv) do(t *testing.T, method, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.0.0.1:5555"
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func adminHeader(t *testing.T) http.Header {
	t.Helper()
	token, err := auth.IssueHMACToken(adminSecret, "ops@festival.md", []string{auth.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	if data != nil {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func checkoutBody(email string, qty int) models.CreateOrderRequest {
	return models.CreateOrderRequest{
		Customer: models.Customer{Name: "Ana Popescu", Email: email, Language: "en"},
		Items:    []models.CartLine{{TicketID: "T1", Quantity: qty}},
	}
}

func (e *apiEnv) createOrder(t *testing.T, email string, qty int) *models.Order {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/orders", checkoutBody(email, qty), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res order.CreateOrderResult
	decodeEnvelope(t, rec, &res)
	return res.Order
}

func (e *apiEnv) startPayment(t *testing.T, orderID string) gateway.Transaction {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/orders/"+orderID+"/pay", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var txn gateway.Transaction
	decodeEnvelope(t, rec, &txn)
	return txn
}

func TestCreateOrder_ThenStatus(t *testing.T) {
	e := newAPIEnv(t)
	o := e.createOrder(t, "ana@example.com", 3)
	assert.True(t, decimal.NewFromInt(600).Equal(o.TotalAmount))

	rec := e.do(t, http.MethodGet, "/api/orders/number/"+o.OrderNumber, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		OrderNumber string             `json:"orderNumber"`
		Status      models.OrderStatus `json:"status"`
		Payable     decimal.Decimal    `json:"payable"`
		Email       string             `json:"customerEmail"`
	}
	decodeEnvelope(t, rec, &view)
	assert.Equal(t, o.OrderNumber, view.OrderNumber)
	assert.Equal(t, models.StatusPending, view.Status)
	assert.True(t, decimal.NewFromInt(600).Equal(view.Payable))
	assert.Empty(t, view.Email)
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(t, http.MethodPost, "/api/orders", []byte("{not json"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/orders", checkoutBody("ana@example.com", 0), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decodeEnvelope(t, rec, nil)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Code)

	rec = e.do(t, http.MethodGet, "/api/orders/number/FL0000-NOPE00", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/orders/"+uuid.NewString()+"/pay", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartPayment_Twice(t *testing.T) {
	e := newAPIEnv(t)
	o := e.createOrder(t, "ana@example.com", 1)
	txn := e.startPayment(t, o.ID)
	assert.NotEmpty(t, txn.TransactionID)
	assert.NotEmpty(t, txn.PayURL)

	rec := e.do(t, http.MethodPost, "/api/orders/"+o.ID+"/pay", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, order.CodePaymentAlreadyStarted, decodeEnvelope(t, rec, nil).Code)
}

func TestPaymentCallback_MarksPaid(t *testing.T) {
	e := newAPIEnv(t)
	o := e.createOrder(t, "ana@example.com", 2)
	txn := e.startPayment(t, o.ID)
	require.NoError(t, e.gw.SetStatus(txn.TransactionID, "OK"))

	body, err := e.gw.SignedCallback(txn.TransactionID)
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/api/payments/callback", body, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res reconcile.Result
	decodeEnvelope(t, rec, &res)
	assert.True(t, res.Applied)

	got, err := e.store.GetOrderByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)

	// replay is acknowledged without a second transition
	rec = e.do(t, http.MethodPost, "/api/payments/callback", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeEnvelope(t, rec, &res)
	assert.False(t, res.Applied)
}

func TestPaymentCallback_Rejections(t *testing.T) {
	e := newAPIEnv(t)

	forged := []byte(`{"result":{"payId":"p-1","orderId":"x","status":"OK"}}`)
	rec := e.do(t, http.MethodPost, "/api/payments/callback", forged,
		http.Header{http.CanonicalHeaderKey(reconcile.SignatureHeader): []string{"bogus"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/payments/callback", []byte("<xml/>"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentReturn_RedirectsByGatewayStatus(t *testing.T) {
	e := newAPIEnv(t)

	paid := e.createOrder(t, "ana@example.com", 1)
	txn := e.startPayment(t, paid.ID)
	require.NoError(t, e.gw.SetStatus(txn.TransactionID, "OK"))

	// the fail URL still lands on success when the gateway says OK
	rec := e.do(t, http.MethodGet, "/api/payments/return/fail?payId="+txn.TransactionID+"&orderId="+paid.OrderNumber, nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://festival.test/en/checkout/success?order="+paid.OrderNumber, rec.Header().Get("Location"))

	declined := e.createOrder(t, "bob@example.com", 1)
	txn = e.startPayment(t, declined.ID)
	require.NoError(t, e.gw.SetStatus(txn.TransactionID, "FAILED"))

	rec = e.do(t, http.MethodGet, "/api/payments/return/ok?payId="+txn.TransactionID+"&orderId="+declined.OrderNumber, nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "/checkout/failed?order="+declined.OrderNumber)

	rec = e.do(t, http.MethodGet, "/api/payments/return/ok?orderId=FL0000-NOPE00", nil, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "/checkout/failed")
}

func TestValidatePromo(t *testing.T) {
	e := newAPIEnv(t)
	percent := 10
	require.NoError(t, e.store.CreatePromo(context.Background(), &models.PromoCode{
		ID:              uuid.NewString(),
		Code:            "SUMMER10",
		IsActive:        true,
		DiscountPercent: &percent,
		CreatedAt:       now,
	}))

	rec := e.do(t, http.MethodPost, "/api/promo/validate", map[string]interface{}{
		"code": "summer10", "email": "ana@example.com", "total": "400", "ticketIds": []string{"T1"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res discount.PromoResult
	decodeEnvelope(t, rec, &res)
	assert.True(t, res.Valid)
	assert.True(t, decimal.NewFromInt(40).Equal(res.DiscountAmount))

	rec = e.do(t, http.MethodPost, "/api/promo/validate", map[string]interface{}{
		"code": "NOPE", "total": "400",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeEnvelope(t, rec, &res)
	assert.False(t, res.Valid)
}

func TestB2B_QuoteAndMinimum(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(t, http.MethodPost, "/api/b2b/quote", map[string]interface{}{
		"items": []models.CartLine{{TicketID: "T1", Quantity: 60}},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodPost, "/api/b2b/orders", models.CreateB2BOrderRequest{
		Company:       models.Company{Name: "Acme SRL"},
		Contact:       models.Customer{Name: "Ion", Email: "ion@acme.md"},
		Items:         []models.CartLine{{TicketID: "T1", Quantity: 10}},
		PaymentMethod: models.PaymentMethodInvoice,
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/b2b/orders", models.CreateB2BOrderRequest{
		Company:       models.Company{Name: "Acme SRL"},
		Contact:       models.Customer{Name: "Ion", Email: "ion@acme.md"},
		Items:         []models.CartLine{{TicketID: "T1", Quantity: 50}},
		PaymentMethod: models.PaymentMethodOnline,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.B2BOrder
	decodeEnvelope(t, rec, &created)
	assert.Equal(t, 50, created.TotalTickets)

	rec = e.do(t, http.MethodPost, "/api/b2b/orders/"+created.ID+"/pay", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAdmin_RequiresToken(t *testing.T) {
	e := newAPIEnv(t)
	o := e.createOrder(t, "ana@example.com", 1)

	rec := e.do(t, http.MethodGet, "/api/admin/orders/"+o.ID, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	buyer, err := auth.IssueHMACToken(adminSecret, "ana", nil, time.Hour)
	require.NoError(t, err)
	rec = e.do(t, http.MethodGet, "/api/admin/orders/"+o.ID, nil, http.Header{"Authorization": []string{"Bearer " + buyer}})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodGet, "/api/admin/orders/"+o.ID, nil, adminHeader(t))
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Order
	decodeEnvelope(t, rec, &got)
	assert.Equal(t, "ana@example.com", got.CustomerEmail)
}

func TestAdmin_RefundPendingIsRejected(t *testing.T) {
	e := newAPIEnv(t)
	o := e.createOrder(t, "ana@example.com", 1)

	rec := e.do(t, http.MethodPost, "/api/admin/orders/"+o.ID+"/refund", nil, adminHeader(t))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAdmin_Invitation(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(t, http.MethodPost, "/api/admin/invitations", models.CreateInvitationRequest{
		Customer: models.Customer{Name: "Guest", Email: "guest@example.com"},
		Items:    []models.CartLine{{TicketID: "T1", Quantity: 2}},
	}, adminHeader(t))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var o models.Order
	decodeEnvelope(t, rec, &o)
	assert.True(t, o.IsInvitation)
	assert.True(t, o.TotalAmount.IsZero())
}

func TestAdmin_RunJob(t *testing.T) {
	e := newAPIEnv(t)

	rec := e.do(t, http.MethodPost, "/api/admin/jobs/reminders", nil, adminHeader(t))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"reminders"}, e.jobs.runs)

	e.jobs.err = scheduler.ErrJobBusy
	rec = e.do(t, http.MethodPost, "/api/admin/jobs/reminders", nil, adminHeader(t))
	assert.Equal(t, http.StatusConflict, rec.Code)

	e.jobs.err = scheduler.ErrUnknownJob
	rec = e.do(t, http.MethodPost, "/api/admin/jobs/backup", nil, adminHeader(t))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamOrderStatus(t *testing.T) {
	e := newAPIEnv(t)
	o := e.createOrder(t, "ana@example.com", 1)

	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/orders/number/"+o.OrderNumber+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	nextEvent := func() (string, string) {
		var name, data string
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && name != "":
				return name, data
			}
		}
	}

	name, data := nextEvent()
	assert.Equal(t, "status", name)
	assert.Contains(t, data, `"status":"pending"`)

	applied, err := e.svc.MarkAsFailed(context.Background(), o.ID, "declined")
	require.NoError(t, err)
	require.True(t, applied)

	name, data = nextEvent()
	assert.Equal(t, string(models.EventOrderFailed), name)
	assert.Contains(t, data, o.OrderNumber)
}
