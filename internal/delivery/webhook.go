package delivery

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	SignatureHeader = "X-LocalLift-Signature"
	EventHeader     = "X-LocalLift-Event"
)

// WebhookAdapter delivers the api method by POSTing the report document to
// each recipient URL.
type WebhookAdapter struct {
	Secret string
	Client *http.Client
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (a *WebhookAdapter) Send(ctx context.Context, p Payload, recipients []string) (Outcome, error) {
	if len(recipients) == 0 {
		return PermanentFailure, errNoRecipients
	}
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 10 * time.Second}
	}
	for i, url := range recipients {
		if outcome, err := a.post(ctx, p, url); outcome != Delivered {
			return outcome, &RecipientError{Recipient: url, Delivered: recipients[:i:i], Err: err}
		}
	}
	return Delivered, nil
}

func (a *WebhookAdapter) post(ctx context.Context, p Payload, url string) (Outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(p.JSON))
	if err != nil {
		return PermanentFailure, fmt.Errorf("webhook %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, "weekly_report")
	req.Header.Set("Idempotency-Key", p.ReportID)
	if a.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(a.Secret, p.JSON))
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return TransientFailure, fmt.Errorf("webhook %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	outcome := classifyStatus(resp.StatusCode)
	if outcome != Delivered {
		return outcome, fmt.Errorf("webhook %s http error: %s", url, resp.Status)
	}
	return Delivered, nil
}
