package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/locallift/backend/internal/models"
)

type InboxStore interface {
	PutInboxItem(ctx context.Context, item models.InboxItem) error
}

// DashboardAdapter places the report in the client's dashboard inbox.
// Recipients are ignored.
type DashboardAdapter struct {
	Store InboxStore
	Now   func() time.Time
}

func (a *DashboardAdapter) Send(ctx context.Context, p Payload, _ []string) (Outcome, error) {
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	err := a.Store.PutInboxItem(ctx, models.InboxItem{
		ClientID:  p.ClientID,
		ReportID:  p.ReportID,
		Subject:   p.Subject,
		Body:      p.Text,
		CreatedAt: now().UTC(),
	})
	if err != nil {
		return TransientFailure, fmt.Errorf("dashboard inbox: %w", err)
	}
	return Delivered, nil
}
