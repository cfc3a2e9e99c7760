package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"festival-ticketing/internal/config"
	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/metrics"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type MAIBClient struct {
	baseURL       string
	projectID     string
	projectSecret string
	signatureKey  string
	http          *http.Client
	timeout       time.Duration
	tokens        TokenStore
	logger        *logger.Logger
	group         singleflight.Group
}

func NewMAIBClient(cfg config.GatewayConfig, tokens TokenStore, log *logger.Logger) *MAIBClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	return &MAIBClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		projectID:     cfg.ProjectID,
		projectSecret: cfg.ProjectSecret,
		signatureKey:  cfg.SignatureKey,
		http:          &http.Client{Timeout: timeout},
		timeout:       timeout,
		tokens:        tokens,
		logger:        log,
	}
}

type apiError struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type envelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Errors []apiError      `json:"errors"`
}

type tokenResult struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int    `json:"expiresIn"`
}

type payRequest struct {
	Amount      json.Number `json:"amount"`
	Currency    string      `json:"currency"`
	ClientIP    string      `json:"clientIp"`
	Language    string      `json:"language,omitempty"`
	Description string      `json:"description,omitempty"`
	OrderID     string      `json:"orderId"`
	ClientName  string      `json:"clientName,omitempty"`
	Email       string      `json:"email,omitempty"`
	Phone       string      `json:"phone,omitempty"`
	OKURL       string      `json:"okUrl,omitempty"`
	FailURL     string      `json:"failUrl,omitempty"`
	CallbackURL string      `json:"callbackUrl,omitempty"`
}

type payResult struct {
	PayID   string `json:"payId"`
	OrderID string `json:"orderId"`
	PayURL  string `json:"payUrl"`
}

type refundRequest struct {
	PayID        string       `json:"payId"`
	RefundAmount *json.Number `json:"refundAmount,omitempty"`
}

type refundResult struct {
	PayID  string `json:"payId"`
	Status string `json:"status"`
}

func (c *MAIBClient) CreateTransaction(ctx context.Context, req CreateRequest) (*Transaction, error) {
	start := time.Now()
	var res payResult
	err := c.call(ctx, "pay", http.MethodPost, "/v1/pay", payRequest{
		Amount:      json.Number(req.Amount.StringFixed(2)),
		Currency:    req.Currency,
		ClientIP:    req.ClientIP,
		Language:    req.Language,
		Description: req.Description,
		OrderID:     req.OrderRef,
		ClientName:  req.CustomerName,
		Email:       req.CustomerEmail,
		Phone:       req.CustomerPhone,
		OKURL:       req.OKURL,
		FailURL:     req.FailURL,
		CallbackURL: req.CallbackURL,
	}, &res)
	metrics.ObserveGateway("pay", start, err)
	if err != nil {
		return nil, err
	}
	if res.PayID == "" || res.PayURL == "" {
		return nil, &GatewayError{Op: "pay", Message: "response missing payId or payUrl"}
	}

	c.logger.LogPayment("CREATE", res.PayID, fmt.Sprintf("Transaction created for %s", req.OrderRef))
	return &Transaction{TransactionID: res.PayID, PayURL: res.PayURL}, nil
}

func (c *MAIBClient) GetStatus(ctx context.Context, transactionID string) (*StatusResult, error) {
	start := time.Now()
	var raw map[string]interface{}
	err := c.call(ctx, "pay-info", http.MethodGet, "/v1/pay-info/"+transactionID, nil, &raw)
	metrics.ObserveGateway("pay-info", start, err)
	if err != nil {
		return nil, err
	}

	res := &StatusResult{
		TransactionID: stringify(raw["payId"]),
		Status:        stringify(raw["status"]),
		StatusCode:    stringify(raw["statusCode"]),
		StatusMessage: stringify(raw["statusMessage"]),
		Raw:           raw,
	}
	if res.TransactionID == "" {
		res.TransactionID = transactionID
	}
	if amt, err := decimal.NewFromString(stringify(raw["amount"])); err == nil {
		res.Amount = amt
	}
	return res, nil
}

func (c *MAIBClient) Refund(ctx context.Context, transactionID string, amount *decimal.Decimal) (*RefundResult, error) {
	start := time.Now()
	body := refundRequest{PayID: transactionID}
	if amount != nil {
		n := json.Number(amount.StringFixed(2))
		body.RefundAmount = &n
	}

	var res refundResult
	err := c.call(ctx, "refund", http.MethodPost, "/v1/refund", body, &res)
	metrics.ObserveGateway("refund", start, err)
	if err != nil {
		return nil, err
	}

	status := strings.ToUpper(res.Status)
	return &RefundResult{Success: status == "OK" || status == "REVERSED" || status == "REFUNDED", Status: res.Status}, nil
}

func (c *MAIBClient) VerifySignature(payload map[string]interface{}, signature string) bool {
	return Verify(payload, signature, c.signatureKey)
}

// accessToken returns a cached token or fetches one. Concurrent callers
// share a single fetch.
func (c *MAIBClient) accessToken(ctx context.Context) (string, error) {
	if tok, err := c.tokens.Get(ctx); err != nil {
		c.logger.Warn("GATEWAY", fmt.Sprintf("Token cache read failed: %v", err))
	} else if tok != nil {
		return tok.Token, nil
	}

	// the shared fetch outlives any single caller's request
	ch := c.group.DoChan("token", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()

		start := time.Now()
		var res tokenResult
		err := c.do(ctx, "generate-token", http.MethodPost, "/v1/generate-token", map[string]string{
			"projectId":     c.projectID,
			"projectSecret": c.projectSecret,
		}, "", &res)
		metrics.ObserveGateway("generate-token", start, err)
		if err != nil {
			return "", err
		}
		if res.AccessToken == "" {
			return "", &GatewayError{Op: "generate-token", Message: "empty access token"}
		}
		if err := c.tokens.Set(ctx, res.AccessToken, time.Duration(res.ExpiresIn)*time.Second); err != nil {
			c.logger.Warn("GATEWAY", fmt.Sprintf("Token cache write failed: %v", err))
		}
		c.logger.Info("GATEWAY", fmt.Sprintf("Access token refreshed, expires in %ds", res.ExpiresIn))
		return res.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

func (c *MAIBClient) call(ctx context.Context, op, method, path string, body, out interface{}) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	return c.do(ctx, op, method, path, body, token, out)
}

func (c *MAIBClient) do(ctx context.Context, op, method, path string, body interface{}, token string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &GatewayError{Op: op, Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	decodeErr := dec.Decode(&env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !env.OK {
		gerr := &GatewayError{Op: op, StatusCode: resp.StatusCode}
		if len(env.Errors) > 0 {
			gerr.Code = env.Errors[0].ErrorCode
			gerr.Message = env.Errors[0].ErrorMessage
		} else if decodeErr != nil {
			gerr.Message = truncate(string(raw), 200)
		} else {
			gerr.Message = "request rejected"
		}
		c.logger.Error("GATEWAY", gerr.Error())
		return gerr
	}
	if decodeErr != nil {
		return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: decodeErr}
	}

	if out != nil && len(env.Result) > 0 {
		rdec := json.NewDecoder(bytes.NewReader(env.Result))
		rdec.UseNumber()
		if err := rdec.Decode(out); err != nil {
			return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode result: %w", err)}
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// IsGatewayError reports whether err came from the payment provider.
func IsGatewayError(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr)
}
