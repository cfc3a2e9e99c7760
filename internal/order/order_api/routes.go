package order_api

import (
	"festival-ticketing/internal/auth"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the buyer, gateway and admin endpoints under /api.
// Extra admin routes are registered behind the same role check.
func (h *Handler) RegisterRoutes(r chi.Router, verifier auth.Verifier, admin ...func(chi.Router)) {
	r.Route("/api", func(r chi.Router) {
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Post("/{orderId}/pay", h.StartPayment)
			r.Get("/number/{orderNumber}", h.GetOrderStatus)
			r.Get("/number/{orderNumber}/events", h.StreamOrderStatus)
		})
		r.Post("/promo/validate", h.ValidatePromo)

		r.Route("/b2b", func(r chi.Router) {
			r.Post("/quote", h.QuoteB2B)
			r.Post("/orders", h.CreateB2BOrder)
			r.Post("/orders/{orderId}/pay", h.StartB2BPayment)
		})

		r.Route("/payments", func(r chi.Router) {
			r.Post("/callback", h.PaymentCallback)
			r.Get("/return", h.PaymentReturn)
			r.Get("/return/ok", h.PaymentReturn)
			r.Get("/return/fail", h.PaymentReturn)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.Middleware(verifier, auth.RoleAdmin, h.Logger))

			r.Get("/orders/{orderId}", h.GetOrder)
			r.Post("/orders/{orderId}/refund", h.RefundOrder)
			r.Post("/orders/{orderId}/resend", h.ResendConfirmation)
			r.Post("/invitations", h.CreateInvitation)

			r.Get("/b2b/orders/{orderId}", h.GetB2BOrder)
			r.Post("/b2b/orders/{orderId}/confirm-invoice", h.ConfirmB2BInvoice)
			r.Post("/b2b/orders/{orderId}/refund", h.RefundB2BOrder)
			r.Post("/b2b/orders/{orderId}/resend", h.ResendB2BTickets)

			r.Post("/jobs/{job}", h.RunJob)

			for _, register := range admin {
				register(r)
			}
		})
	})
	r.Get("/health", h.Health)
}
