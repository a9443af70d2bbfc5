package report

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

type BuilderStore interface {
	ReportByWeek(ctx context.Context, clientID string, week models.ISOWeek) (models.WeeklyReport, error)
	ClientSamples(ctx context.Context, clientID string, period, prior time.Time) ([]models.ClientMetricSample, error)
	CreateReport(ctx context.Context, r models.WeeklyReport) (models.WeeklyReport, bool, error)
}

// Builder assembles weekly engagement reports.
type Builder struct {
	Store            BuilderStore
	Logger           zerolog.Logger
	Tolerance        float64
	ThresholdPercent float64
	Now              func() time.Time
	NewID            func() string
}

func NewBuilder(store BuilderStore, logger zerolog.Logger, tolerance, thresholdPercent float64) *Builder {
	return &Builder{
		Store:            store,
		Logger:           logger.With().Str("component", "report_builder").Logger(),
		Tolerance:        tolerance,
		ThresholdPercent: thresholdPercent,
		Now:              time.Now,
		NewID:            uuid.NewString,
	}
}

// Build returns the client's report for the week starting at periodStart,
// generating and persisting it when none exists. Building twice for the
// same week returns the first report unchanged.
func (b *Builder) Build(ctx context.Context, clientID string, periodStart time.Time) (models.WeeklyReport, error) {
	if clientID == "" {
		return models.WeeklyReport{}, apperr.Validation("client_id is required")
	}
	period := models.PeriodStart(periodStart)
	week := models.WeekOf(period)

	existing, err := b.Store.ReportByWeek(ctx, clientID, week)
	if err == nil {
		return existing, nil
	}
	if !apperr.Is(err, apperr.KindNotFound) {
		return models.WeeklyReport{}, err
	}

	prior := period.Add(-models.Week)
	samples, err := b.Store.ClientSamples(ctx, clientID, period, prior)
	if err != nil {
		return models.WeeklyReport{}, err
	}

	metrics := b.Metrics(samples, period, prior)
	insights := deriveInsights(metrics)
	texts := make([]string, len(insights))
	for i, in := range insights {
		texts[i] = in.text
	}

	now := b.Now().UTC()
	report := models.WeeklyReport{
		ID:               b.NewID(),
		ClientID:         clientID,
		WeekNumber:       week.Week,
		Year:             week.Year,
		PeriodStart:      period,
		ReportDate:       now,
		Status:           models.StatusGenerated,
		Metrics:          metrics,
		Insights:         texts,
		Recommendations:  deriveRecommendations(insights),
		DeliveryFailures: []models.DeliveryFailure{},
		CreatedAt:        now,
	}

	stored, created, err := b.Store.CreateReport(ctx, report)
	if err != nil {
		return models.WeeklyReport{}, err
	}
	if created {
		b.Logger.Info().
			Str("client_id", clientID).
			Str("report_id", stored.ID).
			Str("week", week.String()).
			Int("metrics", len(metrics)).
			Msg("report generated")
	}
	return stored, nil
}

// Metrics computes one EngagementMetric per kind sampled in period, in
// canonical kind order. Kinds missing from prior count as zero.
func (b *Builder) Metrics(samples []models.ClientMetricSample, period, prior time.Time) []models.EngagementMetric {
	current := map[models.ClientMetric]models.ClientMetricSample{}
	previous := map[models.ClientMetric]float64{}
	for _, s := range samples {
		switch {
		case s.PeriodStart.Equal(period):
			current[s.MetricKind] = s
		case s.PeriodStart.Equal(prior):
			previous[s.MetricKind] = s.Value
		}
	}

	out := []models.EngagementMetric{}
	for _, kind := range models.ClientMetrics {
		cur, ok := current[kind]
		if !ok {
			continue
		}
		prev := previous[kind]
		change := ChangePercentage(cur.Value, prev)
		out = append(out, models.EngagementMetric{
			MetricKind:          kind,
			CurrentValue:        cur.Value,
			PreviousValue:       prev,
			ChangePercentage:    change,
			Trend:               TrendOf(change, b.ThresholdPercent),
			Benchmark:           cur.Benchmark,
			BenchmarkComparison: CompareBenchmark(cur.Value, cur.Benchmark, b.Tolerance),
		})
	}
	return out
}

// ChangePercentage is (current - previous) / max(previous, 1) * 100 rounded
// half-to-even to one decimal. Growth from zero is reported as new.
func ChangePercentage(current, previous float64) models.ChangePercent {
	if previous == 0 && current > 0 {
		return models.ChangePercent{New: true}
	}
	raw := (current - previous) / math.Max(previous, 1) * 100
	v := math.RoundToEven(raw*10) / 10
	if v == 0 {
		v = 0 // drop negative zero
	}
	return models.ChangePercent{Value: v}
}

func TrendOf(change models.ChangePercent, threshold float64) models.Trend {
	switch {
	case change.New, change.Value >= threshold:
		return models.TrendUp
	case change.Value <= -threshold:
		return models.TrendDown
	}
	return models.TrendStable
}

func CompareBenchmark(current float64, benchmark *float64, tolerance float64) models.BenchmarkComparison {
	if benchmark == nil {
		return models.BenchmarkUnknown
	}
	b := *benchmark
	switch {
	case current > b*(1+tolerance):
		return models.BenchmarkAbove
	case current < b*(1-tolerance):
		return models.BenchmarkBelow
	}
	return models.BenchmarkEqual
}
