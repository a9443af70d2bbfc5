package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// SMSAdapter posts short report summaries to an HTTP SMS gateway, one
// request per recipient, spacing requests by at least MinInterval.
type SMSAdapter struct {
	GatewayURL  string
	APIKey      string
	MinInterval time.Duration
	Client      *http.Client

	mu        sync.Mutex
	lastReqAt time.Time
}

type smsRequest struct {
	To        string `json:"to"`
	Message   string `json:"message"`
	Reference string `json:"reference"`
}

// wait blocks until the next request slot or until ctx is done.
func (a *SMSAdapter) wait(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if sleepFor := time.Until(a.lastReqAt.Add(a.MinInterval)); sleepFor > 0 {
		t := time.NewTimer(sleepFor)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	a.lastReqAt = time.Now()
	return nil
}

// Send stops at the first recipient that fails and reports that outcome
// as a *RecipientError.
func (a *SMSAdapter) Send(ctx context.Context, p Payload, recipients []string) (Outcome, error) {
	if len(recipients) == 0 {
		return PermanentFailure, errNoRecipients
	}
	if a.Client == nil {
		a.Client = &http.Client{Timeout: 10 * time.Second}
	}
	for i, to := range recipients {
		if outcome, err := a.sendOne(ctx, p, to); outcome != Delivered {
			return outcome, &RecipientError{Recipient: to, Delivered: recipients[:i:i], Err: err}
		}
	}
	return Delivered, nil
}

func (a *SMSAdapter) sendOne(ctx context.Context, p Payload, to string) (Outcome, error) {
	if err := a.wait(ctx); err != nil {
		return TransientFailure, err
	}
	body, err := json.Marshal(smsRequest{To: to, Message: p.Short, Reference: p.ReportID})
	if err != nil {
		return PermanentFailure, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.GatewayURL, bytes.NewReader(body))
	if err != nil {
		return PermanentFailure, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return TransientFailure, fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	outcome := classifyStatus(resp.StatusCode)
	if outcome != Delivered {
		return outcome, fmt.Errorf("sms gateway http error: %s", resp.Status)
	}
	return Delivered, nil
}
