package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PutRegionSnapshot inserts s. It reports created=false when an identical
// snapshot already exists and fails with Conflict when the stored values differ.
func (s *Store) PutRegionSnapshot(ctx context.Context, snap models.RegionStatsSnapshot) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO region_stats_snapshot (region_id, period_start, total_clients, active_clients, average_engagement, total_revenue, yoy_growth, captured_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (region_id, period_start) DO NOTHING
	`, snap.RegionID, snap.PeriodStart, snap.TotalClients, snap.ActiveClients, snap.AverageEngagement, snap.TotalRevenue, snap.YoYGrowth, snap.CapturedAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var existing models.RegionStatsSnapshot
	err = s.Pool.QueryRow(ctx, `
		SELECT region_id, period_start, total_clients, active_clients, average_engagement, total_revenue, yoy_growth, captured_at
		FROM region_stats_snapshot WHERE region_id = $1 AND period_start = $2
	`, snap.RegionID, snap.PeriodStart).Scan(&existing.RegionID, &existing.PeriodStart, &existing.TotalClients, &existing.ActiveClients,
		&existing.AverageEngagement, &existing.TotalRevenue, &existing.YoYGrowth, &existing.CapturedAt)
	if err != nil {
		return false, err
	}
	if !existing.SameValues(snap) {
		return false, apperr.Conflict("region snapshot %s/%s already recorded with different values", snap.RegionID, snap.PeriodStart.Format(time.DateOnly))
	}
	return false, nil
}

func (s *Store) PutClientSample(ctx context.Context, sample models.ClientMetricSample) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO client_metric_sample (client_id, metric_kind, period_start, value, benchmark)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (client_id, metric_kind, period_start) DO NOTHING
	`, sample.ClientID, sample.MetricKind, sample.PeriodStart, sample.Value, sample.Benchmark)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	existing := models.ClientMetricSample{ClientID: sample.ClientID, MetricKind: sample.MetricKind, PeriodStart: sample.PeriodStart}
	err = s.Pool.QueryRow(ctx, `
		SELECT value, benchmark FROM client_metric_sample
		WHERE client_id = $1 AND metric_kind = $2 AND period_start = $3
	`, sample.ClientID, sample.MetricKind, sample.PeriodStart).Scan(&existing.Value, &existing.Benchmark)
	if err != nil {
		return false, err
	}
	if !existing.SameValues(sample) {
		return false, apperr.Conflict("client sample %s/%s/%s already recorded with different values",
			sample.ClientID, sample.MetricKind, sample.PeriodStart.Format(time.DateOnly))
	}
	return false, nil
}

func (s *Store) RegionScores(ctx context.Context, kind models.RegionMetric, period time.Time) ([]models.RegionScore, error) {
	return regionScores(ctx, s.Pool, kind, period)
}

func regionScores(ctx context.Context, q querier, kind models.RegionMetric, period time.Time) ([]models.RegionScore, error) {
	rows, err := q.Query(ctx, `
		SELECT region_id, period_start, total_clients, active_clients, average_engagement, total_revenue, yoy_growth, captured_at
		FROM region_stats_snapshot WHERE period_start = $1
		ORDER BY region_id ASC
	`, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RegionScore
	for rows.Next() {
		var snap models.RegionStatsSnapshot
		if err := rows.Scan(&snap.RegionID, &snap.PeriodStart, &snap.TotalClients, &snap.ActiveClients,
			&snap.AverageEngagement, &snap.TotalRevenue, &snap.YoYGrowth, &snap.CapturedAt); err != nil {
			return nil, err
		}
		out = append(out, models.RegionScore{RegionID: snap.RegionID, Score: kind.Score(snap), ActiveClients: snap.ActiveClients})
	}
	return out, rows.Err()
}

// ClientSamples returns the client's samples for period and prior.
func (s *Store) ClientSamples(ctx context.Context, clientID string, period, prior time.Time) ([]models.ClientMetricSample, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT client_id, metric_kind, period_start, value, benchmark
		FROM client_metric_sample
		WHERE client_id = $1 AND period_start IN ($2, $3)
		ORDER BY period_start ASC, metric_kind ASC
	`, clientID, period, prior)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ClientMetricSample
	for rows.Next() {
		var sample models.ClientMetricSample
		if err := rows.Scan(&sample.ClientID, &sample.MetricKind, &sample.PeriodStart, &sample.Value, &sample.Benchmark); err != nil {
			return nil, err
		}
		sample.PeriodStart = sample.PeriodStart.UTC()
		out = append(out, sample)
	}
	return out, rows.Err()
}

func (s *Store) LeaderboardRanks(ctx context.Context, kind models.RegionMetric, period time.Time) (map[string]int, error) {
	return leaderboardRanks(ctx, s.Pool, kind, period)
}

func leaderboardRanks(ctx context.Context, q querier, kind models.RegionMetric, period time.Time) (map[string]int, error) {
	rows, err := q.Query(ctx, `
		SELECT region_id, rank FROM leaderboard_entry WHERE metric_kind = $1 AND period_start = $2
	`, kind, period)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			regionID string
			rank     int
		)
		if err := rows.Scan(&regionID, &rank); err != nil {
			return nil, err
		}
		out[regionID] = rank
	}
	return out, rows.Err()
}

// RecomputeLeaderboard ranks the scores of (kind, period) against the
// prior period's ranks and swaps in the result, all in one transaction.
// Recomputes of the same (kind, period) are serialized by an advisory lock,
// so each one reads every snapshot committed before it took the lock.
func (s *Store) RecomputeLeaderboard(ctx context.Context, kind models.RegionMetric, period time.Time,
	rank func([]models.RegionScore, map[string]int) []models.LeaderboardEntry,
) ([]models.LeaderboardEntry, error) {
	var entries []models.LeaderboardEntry
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, leaderboardLockKey(kind, period)); err != nil {
			return err
		}
		scores, err := regionScores(ctx, tx, kind, period)
		if err != nil {
			return err
		}
		previous, err := leaderboardRanks(ctx, tx, kind, period.Add(-models.Week))
		if err != nil {
			return err
		}
		entries = rank(scores, previous)
		return replaceLeaderboard(ctx, tx, kind, period, entries)
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func leaderboardLockKey(kind models.RegionMetric, period time.Time) string {
	return fmt.Sprintf("leaderboard:%s:%s", kind, period.Format(time.DateOnly))
}

func replaceLeaderboard(ctx context.Context, tx pgx.Tx, kind models.RegionMetric, period time.Time, entries []models.LeaderboardEntry) error {
	if _, err := tx.Exec(ctx, `DELETE FROM leaderboard_entry WHERE metric_kind = $1 AND period_start = $2`, kind, period); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{string(kind), period, e.RegionID, e.Rank, e.Score, e.PreviousRank, string(e.Trend)})
	}
	_, err := tx.CopyFrom(ctx, pgx.Identifier{"leaderboard_entry"},
		[]string{"metric_kind", "period_start", "region_id", "rank", "score", "previous_rank", "trend"}, pgx.CopyFromRows(rows))
	return err
}

func (s *Store) LatestLeaderboardPeriod(ctx context.Context, kind models.RegionMetric) (time.Time, error) {
	var period *time.Time
	err := s.Pool.QueryRow(ctx, `SELECT MAX(period_start) FROM leaderboard_entry WHERE metric_kind = $1`, kind).Scan(&period)
	if err != nil {
		return time.Time{}, err
	}
	if period == nil {
		return time.Time{}, apperr.NotFound("no leaderboard computed for %s", kind)
	}
	return period.UTC(), nil
}

func (s *Store) LeaderboardAt(ctx context.Context, kind models.RegionMetric, period time.Time, limit int) ([]models.LeaderboardEntry, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT region_id, rank, score, previous_rank, trend
		FROM leaderboard_entry
		WHERE metric_kind = $1 AND period_start = $2
		ORDER BY rank ASC
		LIMIT $3
	`, kind, period, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.LeaderboardEntry
	for rows.Next() {
		e := models.LeaderboardEntry{MetricKind: kind, PeriodStart: period}
		if err := rows.Scan(&e.RegionID, &e.Rank, &e.Score, &e.PreviousRank, &e.Trend); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, apperr.NotFound("no leaderboard for %s at %s", kind, period.Format(time.DateOnly))
	}
	return out, nil
}
