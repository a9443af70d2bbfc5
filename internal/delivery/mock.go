package delivery

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/locallift/backend/internal/models"
)

// MockAdapter logs payloads instead of sending them. It stands in for
// transports that are not configured.
type MockAdapter struct {
	Method models.DeliveryMethod
	Logger zerolog.Logger
}

func (m MockAdapter) Send(_ context.Context, p Payload, recipients []string) (Outcome, error) {
	m.Logger.Info().
		Str("method", string(m.Method)).
		Str("report_id", p.ReportID).
		Str("client_id", p.ClientID).
		Strs("recipients", recipients).
		Str("subject", p.Subject).
		Msg("mock delivery")
	return Delivered, nil
}
