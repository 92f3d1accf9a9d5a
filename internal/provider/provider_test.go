package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"testing"
)

func TestParseWebhook(t *testing.T) {
	body := []byte(`{
		"event": "payment.succeeded",
		"object": {
			"id": "pay-123",
			"status": "succeeded",
			"paid": true,
			"amount": {"value": "12.50", "currency": "RUB"},
			"payment_method": {"id": "pm-1", "saved": true},
			"metadata": {"kind": "topup", "wallet_id": "w-1"}
		}
	}`)

	event, err := ParseWebhook(body)
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.Type != EventPaymentSucceeded || event.PaymentID != "pay-123" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Payment.AmountKopeks != 1_250 {
		t.Fatalf("expected 1250 kopeks, got %d", event.Payment.AmountKopeks)
	}
	if event.Payment.PaymentMethodID != "pm-1" {
		t.Fatalf("expected saved method pm-1, got %q", event.Payment.PaymentMethodID)
	}
	if event.Payment.Metadata["kind"] != "topup" {
		t.Fatalf("metadata lost: %+v", event.Payment.Metadata)
	}
}

func TestParseWebhookRejectsSubKopekAmount(t *testing.T) {
	body := []byte(`{"event": "payment.succeeded", "object": {"id": "p", "amount": {"value": "1.005", "currency": "RUB"}}}`)
	if _, err := ParseWebhook(body); err == nil {
		t.Fatalf("expected error for sub-kopek precision")
	}
}

func TestParseWebhookIgnoresUnsavedMethod(t *testing.T) {
	body := []byte(`{"event": "payment.succeeded", "object": {"id": "p", "payment_method": {"id": "pm-1", "saved": false}}}`)
	event, err := ParseWebhook(body)
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.Payment.PaymentMethodID != "" {
		t.Fatalf("unsaved method must not be carried, got %q", event.Payment.PaymentMethodID)
	}
}

func TestDecimalStringFromKopeks(t *testing.T) {
	cases := map[int64]string{
		0:       "0.00",
		1:       "0.01",
		1_250:   "12.50",
		100_000: "1000.00",
	}
	for kopeks, want := range cases {
		if got := decimalStringFromKopeks(kopeks); got != want {
			t.Fatalf("kopeks %d: expected %q, got %q", kopeks, want, got)
		}
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	client := NewYooKassaClient(Config{WebhookSecret: "topsecret"}, slog.Default())
	body := []byte(`{"event":"payment.succeeded"}`)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	if !client.VerifyWebhook(body, signature) {
		t.Fatalf("valid signature must verify")
	}
	if client.VerifyWebhook(body, "deadbeef") {
		t.Fatalf("wrong signature must fail verification")
	}

	open := NewYooKassaClient(Config{}, slog.Default())
	if !open.VerifyWebhook(body, "anything") {
		t.Fatalf("missing secret must skip verification")
	}
}

func TestIPAllowlist(t *testing.T) {
	list, err := NewIPAllowlist([]string{"10.0.0.0/8", "192.168.1.5"})
	if err != nil {
		t.Fatalf("build allowlist: %v", err)
	}

	allowed := []string{"185.71.76.3", "77.75.156.11", "10.1.2.3", "192.168.1.5"}
	for _, ip := range allowed {
		if !list.Allowed(ip) {
			t.Fatalf("expected %s to be allowed", ip)
		}
	}
	denied := []string{"8.8.8.8", "77.75.156.12", "192.168.1.6", "not-an-ip"}
	for _, ip := range denied {
		if list.Allowed(ip) {
			t.Fatalf("expected %s to be denied", ip)
		}
	}
}

func TestIPAllowlistRejectsBadEntry(t *testing.T) {
	if _, err := NewIPAllowlist([]string{"garbage"}); err == nil {
		t.Fatalf("expected error for unparseable entry")
	}
}
