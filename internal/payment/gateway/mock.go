package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type mockTxn struct {
	orderRef string
	status   string
	amount   decimal.Decimal
}

// MockClient is an in-memory stand-in for the MAIB gateway. Each instance
// owns its own transaction table.
type MockClient struct {
	mu          sync.Mutex
	txns        map[string]*mockTxn
	key         string
	autoApprove bool
}

func NewMockClient(signatureKey string, autoApprove bool) *MockClient {
	return &MockClient{
		txns:        make(map[string]*mockTxn),
		key:         signatureKey,
		autoApprove: autoApprove,
	}
}

func (m *MockClient) CreateTransaction(ctx context.Context, req CreateRequest) (*Transaction, error) {
	id := uuid.NewString()
	status := "PENDING"
	if m.autoApprove {
		status = "OK"
	}

	m.mu.Lock()
	m.txns[id] = &mockTxn{orderRef: req.OrderRef, status: status, amount: req.Amount}
	m.mu.Unlock()

	payURL := req.OKURL
	if payURL == "" {
		payURL = "http://mock-gateway.local/pay"
	}
	sep := "?"
	if strings.Contains(payURL, "?") {
		sep = "&"
	}
	payURL += sep + url.Values{"payId": {id}, "orderId": {req.OrderRef}}.Encode()

	return &Transaction{TransactionID: id, PayURL: payURL}, nil
}

func (m *MockClient) GetStatus(ctx context.Context, transactionID string) (*StatusResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[transactionID]
	if !ok {
		return nil, &GatewayError{Op: "pay-info", StatusCode: 404, Message: "unknown payId", Err: ErrTransactionNotFound}
	}
	return &StatusResult{
		TransactionID: transactionID,
		Status:        txn.status,
		StatusCode:    mockStatusCode(txn.status),
		Amount:        txn.amount,
		Raw: map[string]interface{}{
			"payId":   transactionID,
			"orderId": txn.orderRef,
			"status":  txn.status,
			"amount":  json.Number(txn.amount.StringFixed(2)),
		},
	}, nil
}

func (m *MockClient) Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) (*RefundResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[transactionID]
	if !ok {
		return nil, &GatewayError{Op: "refund", StatusCode: 404, Message: "unknown payId", Err: ErrTransactionNotFound}
	}
	if strings.ToUpper(txn.status) != "OK" {
		return &RefundResult{Success: false, Status: txn.status}, nil
	}
	txn.status = "REVERSED"
	return &RefundResult{Success: true, Status: "REVERSED"}, nil
}

func (m *MockClient) VerifySignature(payload map[string]interface{}, signature string) bool {
	return Verify(payload, signature, m.key)
}

// SetStatus overrides the status the mock reports for a transaction.
func (m *MockClient) SetStatus(transactionID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txn, ok := m.txns[transactionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	}
	txn.status = status
	return nil
}

// SignedCallback builds the callback body the real gateway would post for
// the transaction's current status.
func (m *MockClient) SignedCallback(transactionID string) ([]byte, error) {
	m.mu.Lock()
	txn, ok := m.txns[transactionID]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, transactionID)
	}

	result := map[string]interface{}{
		"payId":      transactionID,
		"orderId":    txn.orderRef,
		"status":     txn.status,
		"statusCode": mockStatusCode(txn.status),
		"amount":     json.Number(txn.amount.StringFixed(2)),
		"currency":   "MDL",
	}
	return json.Marshal(map[string]interface{}{
		"result":    result,
		"signature": Sign(result, m.key),
	})
}

func mockStatusCode(status string) string {
	switch strings.ToUpper(status) {
	case "OK":
		return "000"
	case "PENDING":
		return ""
	default:
		return "116"
	}
}
