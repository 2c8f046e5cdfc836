package events

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	SignatureHeader = "X-HMS-Signature"
	EventTypeHeader = "X-HMS-Event"
	EventIDHeader   = "X-HMS-Event-ID"
)

// SignPayload returns the hex-encoded HMAC-SHA256 of payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a "sha256=<hex>" or bare hex signature.
func VerifySignature(payload []byte, secret, signature string) bool {
	if len(signature) > 7 && signature[:7] == "sha256=" {
		signature = signature[7:]
	}
	return hmac.Equal([]byte(SignPayload(payload, secret)), []byte(signature))
}

// WebhookSink POSTs each event as JSON to a single URL. Non-2xx responses and
// transport errors are retried by the client.
type WebhookSink struct {
	client *resty.Client
	url    string
	secret string
}

type WebhookOption func(*resty.Client)

// WithRetries overrides the retry count and the initial back-off.
func WithRetries(count int, wait time.Duration) WebhookOption {
	return func(c *resty.Client) {
		c.SetRetryCount(count).SetRetryWaitTime(wait).SetRetryMaxWaitTime(wait * 5)
	}
}

func NewWebhookSink(url, secret string, opts ...WebhookOption) *WebhookSink {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1*time.Second).
		SetRetryMaxWaitTime(5*time.Second).
		SetHeader("Content-Type", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
		})
	for _, o := range opts {
		o(client)
	}
	return &WebhookSink{client: client, url: url, secret: secret}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	req := s.client.R().
		SetContext(ctx).
		SetBody(payload).
		SetHeader(EventTypeHeader, evt.Type).
		SetHeader(EventIDHeader, evt.ID)
	if s.secret != "" {
		req.SetHeader(SignatureHeader, "sha256="+SignPayload(payload, s.secret))
	}

	resp, err := req.Post(s.url)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
