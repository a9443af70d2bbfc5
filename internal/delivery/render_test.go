package delivery

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/locallift/backend/internal/models"
)

func TestRenderReport(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	report := models.WeeklyReport{
		ID: "r1", ClientID: "c1", Year: 2026, WeekNumber: 11,
		PeriodStart: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC),
		Status:      models.StatusGenerated,
		Metrics: []models.EngagementMetric{
			{MetricKind: models.ClientViews, CurrentValue: 200, PreviousValue: 100, ChangePercentage: models.ChangePercent{Value: 100}, Trend: models.TrendUp},
			{MetricKind: models.ClientDirectionRequests, CurrentValue: 4, ChangePercentage: models.ChangePercent{New: true}, Trend: models.TrendUp},
		},
		Insights:        []string{"Views & calls <up>"},
		Recommendations: []string{"Keep going"},
	}

	p, err := r.Render(report)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if p.Subject != "Your LocalLift weekly report for 2026-W11" {
		t.Fatalf("unexpected subject %q", p.Subject)
	}
	for _, want := range []string{"- views: 200 vs 100 (100.0%, up)", "- direction requests: 4 vs 0 (new, up)", "Insights:", "- Keep going"} {
		if !strings.Contains(p.Text, want) {
			t.Fatalf("text missing %q:\n%s", want, p.Text)
		}
	}
	if !strings.Contains(p.HTML, "Views &amp; calls &lt;up&gt;") {
		t.Fatalf("html not escaped:\n%s", p.HTML)
	}
	if p.Short != "LocalLift 2026-W11: views 200 (100.0%), direction requests 4 (new)" {
		t.Fatalf("unexpected short %q", p.Short)
	}

	var doc map[string]any
	if err := json.Unmarshal(p.JSON, &doc); err != nil {
		t.Fatalf("json payload: %v", err)
	}
	if doc["report_id"] != "r1" {
		t.Fatalf("unexpected json payload %s", p.JSON)
	}
}

func TestRenderEmptyReport(t *testing.T) {
	r, err := NewRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	p, err := r.Render(models.WeeklyReport{ID: "r2", Year: 2026, WeekNumber: 1, PeriodStart: time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC)})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(p.Text, "No engagement was recorded.") {
		t.Fatalf("unexpected text:\n%s", p.Text)
	}
	if p.Short != "LocalLift 2026-W01: no activity" {
		t.Fatalf("unexpected short %q", p.Short)
	}
}
