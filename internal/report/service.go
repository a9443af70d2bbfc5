package report

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

const historyLimit = 200

type QueryStore interface {
	PutClientSample(ctx context.Context, sample models.ClientMetricSample) (bool, error)
	LatestReport(ctx context.Context, clientID string) (models.WeeklyReport, error)
	ReportHistory(ctx context.Context, clientID string, since time.Time, limit int) ([]models.WeeklyReport, error)
	MarkViewed(ctx context.Context, id string, at time.Time) (models.WeeklyReport, error)
}

// Service serves stored reports and accepts client samples.
type Service struct {
	Store   QueryStore
	Builder *Builder
	Logger  zerolog.Logger
	Now     func() time.Time
}

func NewService(store QueryStore, builder *Builder, logger zerolog.Logger) *Service {
	return &Service{
		Store:   store,
		Builder: builder,
		Logger:  logger.With().Str("component", "reports").Logger(),
		Now:     time.Now,
	}
}

func (s *Service) Latest(ctx context.Context, clientID string) (models.WeeklyReport, error) {
	return s.Store.LatestReport(ctx, clientID)
}

// History lists reports whose period starts on or after since, oldest first.
func (s *Service) History(ctx context.Context, clientID string, since time.Time) ([]models.WeeklyReport, error) {
	if !since.IsZero() {
		since = since.UTC()
	}
	return s.Store.ReportHistory(ctx, clientID, since, historyLimit)
}

func (s *Service) MarkViewed(ctx context.Context, reportID string) (models.WeeklyReport, error) {
	r, err := s.Store.MarkViewed(ctx, reportID, s.Now())
	if err != nil {
		return models.WeeklyReport{}, err
	}
	s.Logger.Debug().Str("report_id", reportID).Str("client_id", r.ClientID).Msg("report viewed")
	return r, nil
}

func (s *Service) Build(ctx context.Context, clientID string, period time.Time) (models.WeeklyReport, error) {
	return s.Builder.Build(ctx, clientID, period)
}

// IngestSample validates and stores a client metric sample.
func (s *Service) IngestSample(ctx context.Context, sample models.ClientMetricSample) (bool, error) {
	kind, err := models.ParseClientMetric(string(sample.MetricKind))
	if err != nil {
		return false, err
	}
	sample.MetricKind = kind
	if err := validateSample(sample); err != nil {
		return false, err
	}
	sample.PeriodStart = models.PeriodStart(sample.PeriodStart)
	return s.Store.PutClientSample(ctx, sample)
}

func validateSample(s models.ClientMetricSample) error {
	if s.ClientID == "" {
		return apperr.Validation("client_id is required")
	}
	if s.PeriodStart.IsZero() {
		return apperr.Validation("period_start is required")
	}
	if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) || s.Value < 0 {
		return apperr.Validation("value must be a non-negative number")
	}
	if s.MetricKind.CountLike() && s.Value != math.Trunc(s.Value) {
		return apperr.Validation("%s is a count and must be a whole number", s.MetricKind)
	}
	if b := s.Benchmark; b != nil && (math.IsNaN(*b) || math.IsInf(*b, 0) || *b < 0) {
		return apperr.Validation("benchmark must be a non-negative number")
	}
	return nil
}
