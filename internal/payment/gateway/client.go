package gateway

import (
	"context"

	"festival-ticketing/internal/config"
	"festival-ticketing/internal/logger"

	"github.com/shopspring/decimal"
)

// Client is the payment provider as the order lifecycle sees it. Both the
// MAIB client and the in-memory mock implement it.
type Client interface {
	CreateTransaction(ctx context.Context, req CreateRequest) (*Transaction, error)
	GetStatus(ctx context.Context, transactionID string) (*StatusResult, error)
	// Refund returns the full amount when amount is nil.
	Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) (*RefundResult, error)
	VerifySignature(payload map[string]interface{}, signature string) bool
}

type CreateRequest struct {
	Amount        decimal.Decimal
	Currency      string
	ClientIP      string
	OrderRef      string
	Description   string
	Language      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	OKURL         string
	FailURL       string
	CallbackURL   string
}

type Transaction struct {
	TransactionID string `json:"payId"`
	PayURL        string `json:"payUrl"`
}

type StatusResult struct {
	TransactionID string                 `json:"payId"`
	Status        string                 `json:"status"`
	StatusCode    string                 `json:"statusCode,omitempty"`
	StatusMessage string                 `json:"statusMessage,omitempty"`
	Amount        decimal.Decimal        `json:"amount"`
	Raw           map[string]interface{} `json:"raw,omitempty"`
}

type RefundResult struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// New returns the mock when cfg.MockMode is set, otherwise the MAIB client.
func New(cfg config.GatewayConfig, tokens TokenStore, log *logger.Logger) Client {
	if cfg.MockMode {
		log.Warn("GATEWAY", "Payment gateway running in MOCK mode")
		return NewMockClient(cfg.SignatureKey, cfg.MockAutoApprove)
	}
	return NewMAIBClient(cfg, tokens, log)
}
