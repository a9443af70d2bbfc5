package leaderboard

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

const MaxLimit = 100

type Store interface {
	PutRegionSnapshot(ctx context.Context, snap models.RegionStatsSnapshot) (bool, error)
	RegionScores(ctx context.Context, kind models.RegionMetric, period time.Time) ([]models.RegionScore, error)
	RecomputeLeaderboard(ctx context.Context, kind models.RegionMetric, period time.Time,
		rank func([]models.RegionScore, map[string]int) []models.LeaderboardEntry) ([]models.LeaderboardEntry, error)
	LatestLeaderboardPeriod(ctx context.Context, kind models.RegionMetric) (time.Time, error)
	LeaderboardAt(ctx context.Context, kind models.RegionMetric, period time.Time, limit int) ([]models.LeaderboardEntry, error)
}

type Service struct {
	Store        Store
	Cache        *Cache
	Logger       zerolog.Logger
	DefaultLimit int
	Now          func() time.Time
}

func NewService(store Store, cache *Cache, logger zerolog.Logger, defaultLimit int) *Service {
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &Service{
		Store:        store,
		Cache:        cache,
		Logger:       logger.With().Str("component", "leaderboard").Logger(),
		DefaultLimit: defaultLimit,
		Now:          time.Now,
	}
}

// Recompute ranks every region for (kind, period) against the prior
// period's ranks and replaces the stored ranking. The store runs the read
// and the replace as one step per (kind, period).
func (s *Service) Recompute(ctx context.Context, kind models.RegionMetric, period time.Time) (models.Leaderboard, error) {
	period = models.PeriodStart(period)
	var skipped []string
	entries, err := s.Store.RecomputeLeaderboard(ctx, kind, period, func(scores []models.RegionScore, previous map[string]int) []models.LeaderboardEntry {
		var entries []models.LeaderboardEntry
		entries, skipped = Rank(scores, previous)
		for i := range entries {
			entries[i].MetricKind = kind
			entries[i].PeriodStart = period
		}
		return entries
	})
	if err != nil {
		return models.Leaderboard{}, err
	}
	if len(skipped) > 0 {
		s.Logger.Warn().
			Str("metric_kind", string(kind)).
			Time("period_start", period).
			Strs("regions", skipped).
			Msg("skipped regions with non-finite score")
	}
	if err := s.Cache.Invalidate(ctx, kind); err != nil {
		s.Logger.Warn().Err(err).Str("metric_kind", string(kind)).Msg("cache invalidate failed")
	}

	s.Logger.Info().
		Str("metric_kind", string(kind)).
		Time("period_start", period).
		Int("regions", len(entries)).
		Msg("leaderboard recomputed")
	return models.Leaderboard{MetricKind: kind, PeriodStart: period, Entries: entries}, nil
}

// RecomputePeriod recomputes all region kinds for period. When the
// following period already has snapshots it is recomputed too, so its
// trends reflect the new priors.
func (s *Service) RecomputePeriod(ctx context.Context, period time.Time) error {
	period = models.PeriodStart(period)
	if err := s.recomputeAll(ctx, period); err != nil {
		return err
	}

	next := period.Add(models.Week)
	scores, err := s.Store.RegionScores(ctx, models.RegionRevenue, next)
	if err != nil {
		return err
	}
	if len(scores) == 0 {
		return nil
	}
	return s.recomputeAll(ctx, next)
}

func (s *Service) recomputeAll(ctx context.Context, period time.Time) error {
	var errs []error
	for _, kind := range models.RegionMetrics {
		if _, err := s.Recompute(ctx, kind, period); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) limit(limit int) (int, error) {
	if limit == 0 {
		return s.DefaultLimit, nil
	}
	if limit < 0 || limit > MaxLimit {
		return 0, apperr.Validation("limit must be between 1 and %d", MaxLimit)
	}
	return limit, nil
}

// Current returns the most recent leaderboard for kind, truncated to limit.
// A zero limit selects the default.
func (s *Service) Current(ctx context.Context, kind models.RegionMetric, limit int) (models.Leaderboard, error) {
	limit, err := s.limit(limit)
	if err != nil {
		return models.Leaderboard{}, err
	}

	board, ok, err := s.Cache.Get(ctx, kind)
	if err != nil {
		s.Logger.Warn().Err(err).Str("metric_kind", string(kind)).Msg("cache read failed")
	}
	if !ok {
		// Read the generation first so a board loaded before a recompute
		// cannot be cached after that recompute invalidated it.
		gen, genErr := s.Cache.Generation(ctx, kind)
		if genErr != nil {
			s.Logger.Warn().Err(genErr).Str("metric_kind", string(kind)).Msg("cache read failed")
		}
		period, err := s.Store.LatestLeaderboardPeriod(ctx, kind)
		if err != nil {
			return models.Leaderboard{}, err
		}
		entries, err := s.Store.LeaderboardAt(ctx, kind, period, MaxLimit)
		if err != nil {
			return models.Leaderboard{}, err
		}
		board = models.Leaderboard{MetricKind: kind, PeriodStart: period, Entries: entries}
		if genErr == nil {
			if _, err := s.Cache.Set(ctx, board, gen); err != nil {
				s.Logger.Warn().Err(err).Str("metric_kind", string(kind)).Msg("cache write failed")
			}
		}
	}
	return truncate(board, limit), nil
}

// At returns the leaderboard for a specific period.
func (s *Service) At(ctx context.Context, kind models.RegionMetric, period time.Time, limit int) (models.Leaderboard, error) {
	limit, err := s.limit(limit)
	if err != nil {
		return models.Leaderboard{}, err
	}
	period = models.PeriodStart(period)
	entries, err := s.Store.LeaderboardAt(ctx, kind, period, limit)
	if err != nil {
		return models.Leaderboard{}, err
	}
	return models.Leaderboard{MetricKind: kind, PeriodStart: period, Entries: entries}, nil
}

func truncate(board models.Leaderboard, limit int) models.Leaderboard {
	if len(board.Entries) > limit {
		board.Entries = board.Entries[:limit]
	}
	return board
}

// IngestSnapshot validates and stores a region snapshot. A newly stored
// snapshot triggers a recompute of its period; recompute failures are
// logged and do not fail the ingestion.
func (s *Service) IngestSnapshot(ctx context.Context, snap models.RegionStatsSnapshot) (bool, error) {
	if err := validateSnapshot(snap); err != nil {
		return false, err
	}
	snap.PeriodStart = models.PeriodStart(snap.PeriodStart)
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = s.Now().UTC()
	}
	snap.CapturedAt = snap.CapturedAt.UTC()

	created, err := s.Store.PutRegionSnapshot(ctx, snap)
	if err != nil || !created {
		return created, err
	}
	if err := s.RecomputePeriod(ctx, snap.PeriodStart); err != nil {
		s.Logger.Error().Err(err).
			Str("region_id", snap.RegionID).
			Time("period_start", snap.PeriodStart).
			Msg("recompute after ingestion failed")
	}
	return true, nil
}

func validateSnapshot(s models.RegionStatsSnapshot) error {
	switch {
	case s.RegionID == "":
		return apperr.Validation("region_id is required")
	case s.PeriodStart.IsZero():
		return apperr.Validation("period_start is required")
	case s.TotalClients < 0 || s.ActiveClients < 0:
		return apperr.Validation("client counts must be non-negative")
	case s.ActiveClients > s.TotalClients:
		return apperr.Validation("active_clients %d exceeds total_clients %d", s.ActiveClients, s.TotalClients)
	case !finite(s.AverageEngagement) || s.AverageEngagement < 0 || s.AverageEngagement > 1:
		return apperr.Validation("average_engagement must be within [0, 1]")
	case !finite(s.TotalRevenue) || s.TotalRevenue < 0:
		return apperr.Validation("total_revenue must be a non-negative number")
	case !finite(s.YoYGrowth):
		return apperr.Validation("yoy_growth must be a finite number")
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
