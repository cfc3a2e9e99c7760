package analytics_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"festival-ticketing/internal/analytics"
	analytics_api "festival-ticketing/internal/analytics/api"
	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/order/db"
	"festival-ticketing/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

var day1 = time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	bun   *bun.DB
	store *db.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { bunDB.Close() })

	store := db.New(bunDB)
	require.NoError(t, store.CreateSchema(context.Background()))
	return &fixture{bun: bunDB, store: store}
}

func (f *fixture) addOrder(t *testing.T, status models.OrderStatus, at time.Time, tickets int, unit, discount int64, promo string, invitation bool) {
	t.Helper()
	ctx := context.Background()
	o := &models.Order{
		ID:             uuid.NewString(),
		OrderNumber:    utils.GenerateOrderNumber(utils.PrefixRetail, at),
		CustomerEmail:  uuid.NewString() + "@example.com",
		TotalAmount:    decimal.NewFromInt(unit * int64(tickets)),
		DiscountAmount: decimal.NewFromInt(discount),
		PromoCode:      promo,
		Currency:       models.DefaultCurrency,
		Status:         status,
		IsInvitation:   invitation,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
	require.NoError(t, f.store.CreateOrder(ctx, o))

	items := make([]models.OrderItem, tickets)
	for i := range items {
		items[i] = models.OrderItem{
			ID:           uuid.NewString(),
			OrderID:      o.ID,
			TicketID:     "T1",
			TicketName:   "General",
			UnitPrice:    decimal.NewFromInt(unit),
			Quantity:     1,
			TicketCode:   utils.GenerateTicketCode(),
			IsInvitation: invitation,
			Status:       models.ItemActive,
			CreatedAt:    at,
		}
	}
	require.NoError(t, f.store.CreateOrderItems(ctx, items))
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	f.addOrder(t, models.StatusPaid, day1, 2, 200, 40, "SUMMER10", false)
	f.addOrder(t, models.StatusCompleted, day1.Add(24*time.Hour), 1, 200, 0, "", false)
	f.addOrder(t, models.StatusPending, day1.Add(25*time.Hour), 1, 200, 0, "", false)
	f.addOrder(t, models.StatusPaid, day1.Add(time.Hour), 1, 0, 0, "", true)
	f.addOrder(t, models.StatusRefunded, day1.Add(2*time.Hour), 1, 200, 0, "", false)
	f.addOrder(t, models.StatusPaid, day1.Add(40*24*time.Hour), 1, 200, 0, "", false)

	require.NoError(t, f.store.CreateB2BOrder(context.Background(), &models.B2BOrder{
		ID:             uuid.NewString(),
		OrderNumber:    utils.GenerateOrderNumber(utils.PrefixB2B, day1),
		CompanyName:    "Acme SRL",
		ContactEmail:   "ion@acme.md",
		PaymentMethod:  models.PaymentMethodInvoice,
		TotalTickets:   120,
		TotalAmount:    decimal.NewFromInt(18000),
		DiscountAmount: decimal.NewFromInt(2160),
		FinalAmount:    decimal.NewFromInt(15840),
		Currency:       models.DefaultCurrency,
		Status:         models.StatusCompleted,
		CreatedAt:      day1,
		UpdatedAt:      day1,
	}))
}

func TestGetSalesReport(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	svc := analytics.NewService(analytics.NewDB(f.bun))

	report, err := svc.GetSalesReport(context.Background(), day1.Truncate(24*time.Hour), day1.Truncate(24*time.Hour).Add(3*24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 2, report.OrdersPaid)
	assert.Equal(t, 1, report.Invitations)
	assert.True(t, decimal.NewFromInt(600).Equal(report.TotalBeforeDisc))
	assert.True(t, decimal.NewFromInt(40).Equal(report.TotalDiscounts))
	assert.True(t, decimal.NewFromInt(560).Equal(report.TotalRevenue))

	require.Len(t, report.DailySales, 2)
	assert.Equal(t, "2025-07-01", report.DailySales[0].Date)
	assert.True(t, decimal.NewFromInt(360).Equal(report.DailySales[0].Revenue))
	assert.Equal(t, "2025-07-02", report.DailySales[1].Date)

	assert.Equal(t, 3, report.TicketsSold)
	require.Len(t, report.SalesByTicket, 1)
	assert.Equal(t, "T1", report.SalesByTicket[0].TicketID)
	assert.True(t, decimal.NewFromInt(600).Equal(report.SalesByTicket[0].Revenue))

	require.Len(t, report.PromoUsage, 1)
	assert.Equal(t, analytics.PromoUsage{Code: "SUMMER10", UsageCount: 1, TotalDiscount: report.PromoUsage[0].TotalDiscount}, report.PromoUsage[0])
	assert.True(t, decimal.NewFromInt(40).Equal(report.PromoUsage[0].TotalDiscount))

	assert.Equal(t, map[string]int{"paid": 2, "completed": 1, "pending": 1, "refunded": 1}, report.OrdersByStatus)

	assert.Equal(t, 1, report.Corporate.Orders)
	assert.Equal(t, 120, report.Corporate.TicketsSold)
	assert.True(t, decimal.NewFromInt(15840).Equal(report.Corporate.Revenue))
}

func TestGetSalesReport_EmptyWindow(t *testing.T) {
	svc := analytics.NewService(analytics.NewDB(newFixture(t).bun))
	_, err := svc.GetSalesReport(context.Background(), day1, day1)
	assert.Error(t, err)
}

func TestSalesReportHandler(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	h := analytics_api.NewHandler(analytics.NewService(analytics.NewDB(f.bun)), logger.NewNopLogger(),
		utils.FixedClock(day1.Add(48*time.Hour)))
	r := chi.NewRouter()
	h.RegisterRoutes(r)

	get := func(query string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/analytics/sales"+query, nil))
		return rec
	}

	// default window ends with today
	rec := get("")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Data analytics.SalesReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Data.OrdersPaid)
	assert.Equal(t, "2025-07-04", body.Data.To)

	rec = get("?from=2025-07-02&to=2025-07-02")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Data.OrdersPaid)

	assert.Equal(t, http.StatusBadRequest, get("?from=July").Code)
	assert.Equal(t, http.StatusBadRequest, get("?from=2025-07-05&to=2025-07-01").Code)
}
