package analytics

import (
	"context"
	"time"

	"festival-ticketing/internal/models"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// DB handles analytics database operations
type DB struct {
	bun *bun.DB
}

// NewDB creates a new analytics DB handler
func NewDB(db *bun.DB) *DB {
	return &DB{bun: db}
}

// settledStatuses are the retail states that count as revenue.
var settledStatuses = []models.OrderStatus{
	models.StatusPaid, models.StatusTicketsGenerated, models.StatusTicketsSent, models.StatusCompleted,
}

// GetSettledOrders returns retail orders created in [from, to) whose money
// was captured, invitations included.
func (db *DB) GetSettledOrders(ctx context.Context, from, to time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := db.bun.NewSelect().
		Model(&orders).
		Where("created_at >= ? AND created_at < ?", from, to).
		Where("status IN (?)", bun.In(settledStatuses)).
		Order("created_at ASC").
		Scan(ctx)

	return orders, err
}

// TicketSalesData is one ticket type's sales from the items table
type TicketSalesData struct {
	TicketID    string          `bun:"ticket_id"`
	TicketName  string          `bun:"ticket_name"`
	TicketsSold int             `bun:"tickets_sold"`
	Revenue     decimal.Decimal `bun:"revenue"`
}

// GetTicketSales counts active paid tickets per ticket type. Invitations are
// left out since they carry no price.
func (db *DB) GetTicketSales(ctx context.Context, from, to time.Time) ([]TicketSalesData, error) {
	var sales []TicketSalesData
	err := db.bun.NewSelect().
		ColumnExpr("oi.ticket_id").
		ColumnExpr("oi.ticket_name").
		ColumnExpr("COUNT(*) AS tickets_sold").
		ColumnExpr("SUM(oi.unit_price) AS revenue").
		TableExpr("order_items AS oi").
		Join("JOIN orders AS o ON o.id = oi.order_id").
		Where("o.created_at >= ? AND o.created_at < ?", from, to).
		Where("o.status IN (?)", bun.In(settledStatuses)).
		Where("o.is_invitation = ?", false).
		Where("oi.status = ?", models.ItemActive).
		GroupExpr("oi.ticket_id, oi.ticket_name").
		OrderExpr("tickets_sold DESC, oi.ticket_id").
		Scan(ctx, &sales)

	return sales, err
}

// StatusCountData is the number of retail orders in one status
type StatusCountData struct {
	Status models.OrderStatus `bun:"status"`
	Count  int                `bun:"order_count"`
}

// GetStatusCounts groups every retail order created in the window by status.
func (db *DB) GetStatusCounts(ctx context.Context, from, to time.Time) ([]StatusCountData, error) {
	var counts []StatusCountData
	err := db.bun.NewSelect().
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS order_count").
		TableExpr("orders").
		Where("created_at >= ? AND created_at < ?", from, to).
		GroupExpr("status").
		OrderExpr("status").
		Scan(ctx, &counts)

	return counts, err
}

// GetSettledB2BOrders returns paid corporate orders created in the window.
func (db *DB) GetSettledB2BOrders(ctx context.Context, from, to time.Time) ([]models.B2BOrder, error) {
	var orders []models.B2BOrder
	err := db.bun.NewSelect().
		Model(&orders).
		Where("created_at >= ? AND created_at < ?", from, to).
		Where("status IN (?)", bun.In(settledStatuses)).
		Order("created_at ASC").
		Scan(ctx)

	return orders, err
}
