package handlers

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/locallift/backend/internal/db"
	"github.com/locallift/backend/internal/models"
)

func TestPreferenceNormalizes(t *testing.T) {
	h := New(db.NewMemoryStore(), nil, nil, zerolog.Nop())
	h.NewID = func() string { return "pref-1" }
	h.Now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }

	p, err := h.preference("c1", models.DeliverySMS, PreferenceRequest{
		DeliveryDay: "Monday", DeliveryTime: "9:05", Timezone: "Europe/Berlin", Recipients: []string{"+4915112345678"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DeliveryDay != "monday" || p.DeliveryTime != "09:05" || !p.IsActive || p.ID != "pref-1" {
		t.Fatalf("unexpected preference %+v", p)
	}
}

func TestPreferenceRejectsBadRecipients(t *testing.T) {
	h := New(db.NewMemoryStore(), nil, nil, zerolog.Nop())
	cases := []struct {
		method     models.DeliveryMethod
		recipients []string
	}{
		{models.DeliveryEmail, []string{"not-an-email"}},
		{models.DeliveryEmail, nil},
		{models.DeliverySMS, []string{"0151 1234"}},
		{models.DeliveryAPI, []string{"ftp://example.com/hook"}},
	}
	for _, tc := range cases {
		_, err := h.preference("c1", tc.method, PreferenceRequest{
			DeliveryDay: "monday", DeliveryTime: "09:00", Timezone: "UTC", Recipients: tc.recipients,
		})
		if err == nil {
			t.Fatalf("expected error for %s %v", tc.method, tc.recipients)
		}
	}

	if _, err := h.preference("c1", models.DeliveryDashboard, PreferenceRequest{
		DeliveryDay: "monday", DeliveryTime: "09:00", Timezone: "UTC",
	}); err != nil {
		t.Fatalf("dashboard needs no recipients: %v", err)
	}
}
