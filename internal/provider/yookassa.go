package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultAPIURL = "https://api.yookassa.ru/v3"

	maxRetryAttempts = 2
	retryBaseDelay   = 250 * time.Millisecond
	retryMaxDelay    = 1500 * time.Millisecond
)

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusConflict:            true,
	http.StatusTooEarly:            true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Config carries YooKassa shop credentials.
type Config struct {
	ShopID        string
	SecretKey     string
	WebhookSecret string
	APIURL        string
}

// YooKassaClient talks to the YooKassa v3 API over HTTP basic auth.
type YooKassaClient struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewYooKassaClient builds a processor client. The zero APIURL falls back to
// the production endpoint.
func NewYooKassaClient(cfg Config, logger *slog.Logger) *YooKassaClient {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	return &YooKassaClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		logger: logger,
	}
}

// RequestError reports a non-2xx processor response. Retryable marks the
// transient statuses worth re-attempting.
type RequestError struct {
	StatusCode int
	Code       string
	Retryable  bool
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("yookassa request failed: status %d code %q", e.StatusCode, e.Code)
}

func (c *YooKassaClient) CreatePayment(ctx context.Context, input CreatePaymentInput) (Payment, error) {
	body := map[string]any{
		"amount": wireAmount{
			Value:    decimalStringFromKopeks(input.AmountKopeks),
			Currency: input.Currency,
		},
		"capture":     true,
		"description": input.Description,
		"metadata":    input.Metadata,
	}
	if input.PaymentMethodID != "" {
		body["payment_method_id"] = input.PaymentMethodID
	} else {
		body["confirmation"] = map[string]string{
			"type":       "redirect",
			"return_url": input.ReturnURL,
		}
		body["save_payment_method"] = input.SavePaymentMethod
	}

	var raw wirePayment
	if err := c.do(ctx, http.MethodPost, "/payments", input.IdempotencyKey, body, &raw); err != nil {
		return Payment{}, err
	}
	return fromWirePayment(raw)
}

func (c *YooKassaClient) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	var raw wirePayment
	if err := c.do(ctx, http.MethodGet, "/payments/"+paymentID, "", nil, &raw); err != nil {
		return Payment{}, err
	}
	return fromWirePayment(raw)
}

// VerifyWebhook checks the HMAC-SHA256 signature over the raw body. An
// unconfigured secret disables verification.
func (c *YooKassaClient) VerifyWebhook(body []byte, signature string) bool {
	if c.cfg.WebhookSecret == "" {
		c.logger.Warn("webhook secret not configured, skipping signature verification")
		return true
	}
	mac := hmac.New(sha256.New, []byte(c.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *YooKassaClient) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		err := c.doOnce(ctx, method, path, idempotencyKey, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err

		var reqErr *RequestError
		retryable := true
		if errors.As(err, &reqErr) {
			retryable = reqErr.Retryable
		}
		if !retryable || attempt >= maxRetryAttempts {
			return lastErr
		}

		delay := retryBaseDelay << attempt
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		c.logger.Warn("retrying yookassa request",
			"method", method, "path", path, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *YooKassaClient) doOnce(ctx context.Context, method, path, idempotencyKey string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotence-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Code string `json:"code"`
		}
		_ = json.Unmarshal(raw, &apiErr)
		return &RequestError{
			StatusCode: resp.StatusCode,
			Code:       apiErr.Code,
			Retryable:  retryableStatus[resp.StatusCode],
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
