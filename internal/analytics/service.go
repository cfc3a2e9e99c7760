package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"festival-ticketing/internal/models"

	"github.com/shopspring/decimal"
)

// Store is the read side the report is built from
type Store interface {
	GetSettledOrders(ctx context.Context, from, to time.Time) ([]models.Order, error)
	GetTicketSales(ctx context.Context, from, to time.Time) ([]TicketSalesData, error)
	GetStatusCounts(ctx context.Context, from, to time.Time) ([]StatusCountData, error)
	GetSettledB2BOrders(ctx context.Context, from, to time.Time) ([]models.B2BOrder, error)
}

// Service handles analytics operations
type Service struct {
	db Store
}

// NewService creates a new analytics service
func NewService(db Store) *Service {
	return &Service{db: db}
}

// SalesReport is the sales summary shown on the admin dashboard. To is
// exclusive.
type SalesReport struct {
	From            string               `json:"from"`
	To              string               `json:"to"`
	Currency        string               `json:"currency"`
	TotalRevenue    decimal.Decimal      `json:"totalRevenue"`
	TotalBeforeDisc decimal.Decimal      `json:"totalBeforeDiscounts"`
	TotalDiscounts  decimal.Decimal      `json:"totalDiscounts"`
	OrdersPaid      int                  `json:"ordersPaid"`
	TicketsSold     int                  `json:"ticketsSold"`
	Invitations     int                  `json:"invitations"`
	DailySales      []DailySalesMetrics  `json:"dailySales"`
	SalesByTicket   []TicketSalesMetrics `json:"salesByTicket"`
	PromoUsage      []PromoUsage         `json:"promoUsage"`
	OrdersByStatus  map[string]int       `json:"ordersByStatus"`
	Corporate       CorporateSummary     `json:"corporate"`
}

// DailySalesMetrics contains metrics for a single day
type DailySalesMetrics struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
	Orders  int             `json:"orders"`
}

// TicketSalesMetrics contains sales metrics for a specific ticket type
type TicketSalesMetrics struct {
	TicketID    string          `json:"ticketId"`
	TicketName  string          `json:"ticketName"`
	TicketsSold int             `json:"ticketsSold"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// PromoUsage tracks how much a promo code gave away
type PromoUsage struct {
	Code          string          `json:"code"`
	UsageCount    int             `json:"usageCount"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
}

type CorporateSummary struct {
	Orders      int             `json:"orders"`
	TicketsSold int             `json:"ticketsSold"`
	Revenue     decimal.Decimal `json:"revenue"`
	Discounts   decimal.Decimal `json:"discounts"`
}

// GetSalesReport aggregates settled sales for orders created in [from, to).
// Days are bucketed in UTC.
func (s *Service) GetSalesReport(ctx context.Context, from, to time.Time) (*SalesReport, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("empty report window %s..%s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}

	orders, err := s.db.GetSettledOrders(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load settled orders: %w", err)
	}
	ticketSales, err := s.db.GetTicketSales(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load ticket sales: %w", err)
	}
	statusCounts, err := s.db.GetStatusCounts(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load status counts: %w", err)
	}
	corporate, err := s.db.GetSettledB2BOrders(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("load corporate orders: %w", err)
	}

	report := &SalesReport{
		From:            from.UTC().Format(time.DateOnly),
		To:              to.UTC().Format(time.DateOnly),
		Currency:        models.DefaultCurrency,
		TotalRevenue:    decimal.Zero,
		TotalBeforeDisc: decimal.Zero,
		TotalDiscounts:  decimal.Zero,
		DailySales:      []DailySalesMetrics{},
		SalesByTicket:   []TicketSalesMetrics{},
		PromoUsage:      []PromoUsage{},
		OrdersByStatus:  make(map[string]int, len(statusCounts)),
	}

	daily := make(map[string]*DailySalesMetrics)
	promos := make(map[string]*PromoUsage)
	for _, o := range orders {
		if o.IsInvitation {
			report.Invitations++
			continue
		}
		report.OrdersPaid++
		report.TotalBeforeDisc = report.TotalBeforeDisc.Add(o.TotalAmount)
		report.TotalDiscounts = report.TotalDiscounts.Add(o.DiscountAmount)
		report.TotalRevenue = report.TotalRevenue.Add(o.Payable())

		day := o.CreatedAt.UTC().Format(time.DateOnly)
		d, ok := daily[day]
		if !ok {
			d = &DailySalesMetrics{Date: day, Revenue: decimal.Zero}
			daily[day] = d
		}
		d.Revenue = d.Revenue.Add(o.Payable())
		d.Orders++

		if o.PromoCode != "" {
			p, ok := promos[o.PromoCode]
			if !ok {
				p = &PromoUsage{Code: o.PromoCode, TotalDiscount: decimal.Zero}
				promos[o.PromoCode] = p
			}
			p.UsageCount++
			p.TotalDiscount = p.TotalDiscount.Add(o.DiscountAmount)
		}
	}

	for _, d := range daily {
		report.DailySales = append(report.DailySales, *d)
	}
	sort.Slice(report.DailySales, func(i, j int) bool { return report.DailySales[i].Date < report.DailySales[j].Date })

	for _, p := range promos {
		report.PromoUsage = append(report.PromoUsage, *p)
	}
	sort.Slice(report.PromoUsage, func(i, j int) bool {
		if report.PromoUsage[i].UsageCount != report.PromoUsage[j].UsageCount {
			return report.PromoUsage[i].UsageCount > report.PromoUsage[j].UsageCount
		}
		return report.PromoUsage[i].Code < report.PromoUsage[j].Code
	})

	for _, t := range ticketSales {
		report.TicketsSold += t.TicketsSold
		report.SalesByTicket = append(report.SalesByTicket, TicketSalesMetrics{
			TicketID:    t.TicketID,
			TicketName:  t.TicketName,
			TicketsSold: t.TicketsSold,
			Revenue:     t.Revenue.Round(2),
		})
	}

	for _, c := range statusCounts {
		report.OrdersByStatus[string(c.Status)] = c.Count
	}

	report.Corporate = CorporateSummary{Revenue: decimal.Zero, Discounts: decimal.Zero}
	for _, o := range corporate {
		report.Corporate.Orders++
		report.Corporate.TicketsSold += o.TotalTickets
		report.Corporate.Revenue = report.Corporate.Revenue.Add(o.FinalAmount)
		report.Corporate.Discounts = report.Corporate.Discounts.Add(o.DiscountAmount)
	}

	return report, nil
}
