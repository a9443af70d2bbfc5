// Package delivery renders weekly reports and hands them to transports.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Outcome int

const (
	Delivered Outcome = iota
	TransientFailure
	PermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Payload is a rendered report ready for a transport.
type Payload struct {
	ReportID string
	ClientID string
	Subject  string
	Text     string
	HTML     string
	Short    string
	JSON     []byte
}

// Adapter sends a payload to recipients. The error describes any failure
// and is nil exactly when the outcome is Delivered.
type Adapter interface {
	Send(ctx context.Context, p Payload, recipients []string) (Outcome, error)
}

var errNoRecipients = errors.New("no recipients configured")

// RecipientError is a per-recipient send that failed at Recipient after
// reaching the recipients in Delivered.
type RecipientError struct {
	Recipient string
	Delivered []string
	Err       error
}

func (e *RecipientError) Error() string {
	return fmt.Sprintf("deliver to %s: %v", e.Recipient, e.Err)
}

func (e *RecipientError) Unwrap() error { return e.Err }

// pending drops the recipients that err says were already reached.
func pending(recipients []string, err error) []string {
	var re *RecipientError
	if !errors.As(err, &re) || len(re.Delivered) == 0 {
		return recipients
	}
	reached := make(map[string]bool, len(re.Delivered))
	for _, r := range re.Delivered {
		reached[r] = true
	}
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if !reached[r] {
			out = append(out, r)
		}
	}
	return out
}

// classifyStatus maps an HTTP response status to an outcome.
func classifyStatus(code int) Outcome {
	switch {
	case code >= 200 && code < 300:
		return Delivered
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return TransientFailure
	}
	return PermanentFailure
}
