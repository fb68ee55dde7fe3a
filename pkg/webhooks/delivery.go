package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/audit"
)

// Request headers set on every delivery
const (
	HeaderEvent     = "X-Gatehouse-Event"
	HeaderDelivery  = "X-Gatehouse-Delivery"
	HeaderSignature = "X-Gatehouse-Signature"
)

// Payload is the JSON body POSTed to the receiver
type Payload struct {
	DeliveryID string       `json:"delivery_id"`
	SentAt     time.Time    `json:"sent_at"`
	Event      *audit.Event `json:"event"`
}

// PermanentError marks a delivery the receiver refused outright. It is never
// retried.
type PermanentError struct {
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("webhook rejected with status %d", e.StatusCode)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// send POSTs one payload. 4xx responses other than 408 and 429 are permanent.
func send(ctx context.Context, client *http.Client, url, secret string, p *Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("failed to marshal payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(p.Event.EventType))
	req.Header.Set(HeaderDelivery, p.DeliveryID)
	if secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, secret))
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &PermanentError{StatusCode: resp.StatusCode}
	default:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
}

func newPayload(e *audit.Event) *Payload {
	return &Payload{
		DeliveryID: uuid.NewString(),
		SentAt:     time.Now().UTC(),
		Event:      e,
	}
}

// Sign returns the HMAC-SHA256 signature of payload in "sha256=<hex>" form
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature verifies a signature produced by Sign
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
