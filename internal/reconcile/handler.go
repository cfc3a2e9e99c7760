package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/metrics"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/order/db"
	"festival-ticketing/internal/payment/gateway"
)

const SignatureHeader = "x-maib-signature"

var (
	ErrSubjectNotFound = errors.New("no order for transaction")
	ErrMalformedBody   = errors.New("malformed callback body")
)

// SignatureError rejects a callback outright. Nothing is mutated.
type SignatureError struct {
	Reason string
}

func (e *SignatureError) Error() string {
	return "callback signature rejected: " + e.Reason
}

type SubjectStore interface {
	FindPaymentSubject(ctx context.Context, transactionID string) (*models.PaymentSubject, error)
	FindSubjectByReference(ctx context.Context, ref string) (*models.PaymentSubject, error)
}

// Lifecycle is the part of the order service reconciliation drives.
type Lifecycle interface {
	ConfirmRetailPayment(ctx context.Context, orderID string) (bool, error)
	MarkAsFailed(ctx context.Context, orderID, reason string) (bool, error)
	MarkAsCancelled(ctx context.Context, orderID, reason string) (bool, error)
	ConfirmB2BPayment(ctx context.Context, orderID string) (bool, error)
	MarkB2BAsFailed(ctx context.Context, orderID, reason string) (bool, error)
	MarkB2BAsCancelled(ctx context.Context, orderID, reason string) (bool, error)
	ResultPage(lang string, success bool, orderNumber string) string
}

type Handler struct {
	store   SubjectStore
	orders  Lifecycle
	gateway gateway.Client
	logger  *logger.Logger
}

func NewHandler(store SubjectStore, orders Lifecycle, gw gateway.Client, log *logger.Logger) *Handler {
	return &Handler{store: store, orders: orders, gateway: gw, logger: log}
}

// Result describes what a reconciliation did.
type Result struct {
	TransactionID string             `json:"payId"`
	OrderNumber   string             `json:"orderNumber,omitempty"`
	Kind          models.SubjectKind `json:"kind,omitempty"`
	Outcome       string             `json:"outcome"`
	Applied       bool               `json:"applied"`
}

// Callback is the normalized gateway notification.
type Callback struct {
	Payload       map[string]interface{}
	Signature     string
	TransactionID string
	OrderRef      string
	Status        string
	StatusCode    string
	StatusMessage string
}

// ParseCallback accepts the body flat or nested under "result". The
// signature comes from the body when present, else from headerSig.
func ParseCallback(body []byte, headerSig string) (*Callback, error) {
	var raw map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	payload := raw
	if nested, ok := raw["result"].(map[string]interface{}); ok {
		payload = nested
	}

	sig := stringField(raw, gateway.SignatureField)
	if sig == "" {
		sig = stringField(payload, gateway.SignatureField)
	}
	if sig == "" {
		sig = headerSig
	}

	fields := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if k != gateway.SignatureField {
			fields[k] = v
		}
	}

	return &Callback{
		Payload:       fields,
		Signature:     sig,
		TransactionID: stringField(fields, "payId"),
		OrderRef:      stringField(fields, "orderId"),
		Status:        stringField(fields, "status"),
		StatusCode:    stringField(fields, "statusCode"),
		StatusMessage: stringField(fields, "statusMessage"),
	}, nil
}

// HandleCallback authenticates and applies a gateway notification. Once the
// signature is valid the callback is acknowledged even when the order is
// unknown or the status is not recognised; only a failed store transition
// is returned as error so the gateway retries it.
func (h *Handler) HandleCallback(ctx context.Context, body []byte, headerSig string) (*Result, error) {
	cb, err := ParseCallback(body, headerSig)
	if err != nil {
		metrics.RecordReconciliation("callback", "malformed")
		h.logger.LogSecurity("CALLBACK_MALFORMED", err.Error())
		return nil, err
	}
	if cb.Signature == "" {
		metrics.RecordReconciliation("callback", "rejected")
		h.logger.LogSecurity("CALLBACK_UNSIGNED", fmt.Sprintf("payId=%s", cb.TransactionID))
		return nil, &SignatureError{Reason: "missing signature"}
	}
	if !h.gateway.VerifySignature(cb.Payload, cb.Signature) {
		metrics.RecordReconciliation("callback", "rejected")
		h.logger.LogSecurity("CALLBACK_BAD_SIGNATURE", fmt.Sprintf("payId=%s orderId=%s", cb.TransactionID, cb.OrderRef))
		return nil, &SignatureError{Reason: "signature mismatch"}
	}

	result := &Result{TransactionID: cb.TransactionID, Outcome: models.OutcomeUnknown.String()}
	if cb.TransactionID == "" {
		h.logger.Warn("RECONCILE", "Signed callback without payId acknowledged")
		metrics.RecordReconciliation("callback", "ignored")
		return result, nil
	}

	subject, err := h.store.FindPaymentSubject(ctx, cb.TransactionID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.logger.Warn("RECONCILE", fmt.Sprintf("Callback for unknown payId %s acknowledged", cb.TransactionID))
			metrics.RecordReconciliation("callback", "unknown_order")
			return result, nil
		}
		return nil, fmt.Errorf("resolve payId %s: %w", cb.TransactionID, err)
	}

	outcome := models.ClassifyGatewayStatus(cb.Status)
	result.OrderNumber = subject.OrderNumber()
	result.Kind = subject.Kind()
	result.Outcome = outcome.String()

	h.logger.LogPayment("CALLBACK", cb.TransactionID, fmt.Sprintf("%s %s status=%s code=%s",
		subject.Kind(), subject.OrderNumber(), cb.Status, cb.StatusCode))

	applied, err := h.apply(ctx, subject, outcome, reasonOf(cb.StatusCode, cb.Status))
	if err != nil {
		// Unlike other authenticated callbacks this one is not acknowledged:
		// the transition was not stored, so the gateway has to redeliver it.
		metrics.RecordReconciliation("callback", "error")
		return nil, err
	}
	result.Applied = applied
	metrics.RecordReconciliation("callback", outcome.String())
	return result, nil
}

// ReturnParams are what the gateway appends to the buyer's return URL.
type ReturnParams struct {
	TransactionID string
	OrderRef      string
}

// HandleReturn resolves the buyer's order, asks the gateway for the real
// status and returns the frontend page to redirect to. Status values in the
// URL are never trusted.
func (h *Handler) HandleReturn(ctx context.Context, params ReturnParams) (string, error) {
	subject, err := h.resolveReturn(ctx, params)
	if err != nil {
		metrics.RecordReconciliation("return", "unknown_order")
		return "", err
	}

	// only the order's own transaction may settle it
	txnID := transactionOf(subject)

	success := models.IsSettled(statusOf(subject))
	if txnID != "" && !success {
		st, err := h.gateway.GetStatus(ctx, txnID)
		if err != nil {
			h.logger.Warn("RECONCILE", fmt.Sprintf("Status check for %s failed: %v", subject.OrderNumber(), err))
		} else {
			outcome := models.ClassifyGatewayStatus(st.Status)
			if _, err := h.apply(ctx, subject, outcome, reasonOf(st.StatusCode, st.Status)); err != nil {
				h.logger.Error("RECONCILE", fmt.Sprintf("Return for %s not applied: %v", subject.OrderNumber(), err))
			}
			success = outcome == models.OutcomeSuccess
			metrics.RecordReconciliation("return", outcome.String())
		}
	}

	return h.orders.ResultPage(subject.Language(), success, subject.OrderNumber()), nil
}

func (h *Handler) resolveReturn(ctx context.Context, params ReturnParams) (*models.PaymentSubject, error) {
	var (
		subject *models.PaymentSubject
		err     error
	)
	if params.TransactionID != "" {
		subject, err = h.store.FindPaymentSubject(ctx, params.TransactionID)
		if err == nil {
			return subject, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}
	if params.OrderRef != "" {
		subject, err = h.store.FindSubjectByReference(ctx, params.OrderRef)
		if err == nil {
			return subject, nil
		}
		if !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}
	return nil, ErrSubjectNotFound
}

// apply runs the transition for outcome. Transitions are conditional, so a
// replayed notification changes nothing. Unknown outcomes never mutate.
func (h *Handler) apply(ctx context.Context, subject *models.PaymentSubject, outcome models.GatewayOutcome, reason string) (bool, error) {
	id := subject.OrderID()

	if subject.Kind() == models.SubjectCorporate {
		switch outcome {
		case models.OutcomeSuccess:
			return h.orders.ConfirmB2BPayment(ctx, id)
		case models.OutcomeFailure:
			return h.orders.MarkB2BAsFailed(ctx, id, reason)
		case models.OutcomeCancelled:
			return h.orders.MarkB2BAsCancelled(ctx, id, reason)
		}
	} else {
		switch outcome {
		case models.OutcomeSuccess:
			return h.orders.ConfirmRetailPayment(ctx, id)
		case models.OutcomeFailure:
			return h.orders.MarkAsFailed(ctx, id, reason)
		case models.OutcomeCancelled:
			return h.orders.MarkAsCancelled(ctx, id, reason)
		}
	}

	h.logger.Warn("RECONCILE", fmt.Sprintf("Unknown gateway status for %s acknowledged (%s)", subject.OrderNumber(), reason))
	return false, nil
}

func reasonOf(code, status string) string {
	if code != "" {
		return code
	}
	return status
}

func statusOf(s *models.PaymentSubject) models.OrderStatus {
	if s.Corporate != nil {
		return s.Corporate.Status
	}
	return s.Retail.Status
}

func transactionOf(s *models.PaymentSubject) string {
	if s.Corporate != nil {
		return s.Corporate.MAIBTransactionID
	}
	return s.Retail.MAIBTransactionID
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
