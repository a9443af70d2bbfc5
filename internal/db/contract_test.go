package db

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

// contractStore is the method set shared by Store and MemoryStore.
type contractStore interface {
	PutRegionSnapshot(ctx context.Context, snap models.RegionStatsSnapshot) (bool, error)
	PutClientSample(ctx context.Context, sample models.ClientMetricSample) (bool, error)
	RegionScores(ctx context.Context, kind models.RegionMetric, period time.Time) ([]models.RegionScore, error)
	ClientSamples(ctx context.Context, clientID string, period, prior time.Time) ([]models.ClientMetricSample, error)
	LeaderboardRanks(ctx context.Context, kind models.RegionMetric, period time.Time) (map[string]int, error)
	RecomputeLeaderboard(ctx context.Context, kind models.RegionMetric, period time.Time,
		rank func([]models.RegionScore, map[string]int) []models.LeaderboardEntry) ([]models.LeaderboardEntry, error)
	LatestLeaderboardPeriod(ctx context.Context, kind models.RegionMetric) (time.Time, error)
	LeaderboardAt(ctx context.Context, kind models.RegionMetric, period time.Time, limit int) ([]models.LeaderboardEntry, error)
	ReportByWeek(ctx context.Context, clientID string, week models.ISOWeek) (models.WeeklyReport, error)
	CreateReport(ctx context.Context, r models.WeeklyReport) (models.WeeklyReport, bool, error)
	ReportByID(ctx context.Context, id string) (models.WeeklyReport, error)
	LatestReport(ctx context.Context, clientID string) (models.WeeklyReport, error)
	ReportHistory(ctx context.Context, clientID string, since time.Time, limit int) ([]models.WeeklyReport, error)
	MarkViewed(ctx context.Context, id string, at time.Time) (models.WeeklyReport, error)
	ActivePreferences(ctx context.Context) ([]models.ReportDeliveryPreference, error)
	UpsertPreference(ctx context.Context, p models.ReportDeliveryPreference) (models.ReportDeliveryPreference, error)
	Watermark(ctx context.Context, clientID string, method models.DeliveryMethod) (*models.Watermark, error)
	HasDeliveryFailure(ctx context.Context, clientID string, method models.DeliveryMethod, week models.ISOWeek) (bool, error)
	MarkDelivered(ctx context.Context, d models.Delivery) (models.WeeklyReport, error)
	RecordDeliveryFailure(ctx context.Context, reportID, clientID string, f models.DeliveryFailure) error
	PutInboxItem(ctx context.Context, item models.InboxItem) error
	InboxItems(ctx context.Context, clientID string) ([]models.InboxItem, error)
}

var (
	_ contractStore = (*Store)(nil)
	_ contractStore = (*MemoryStore)(nil)
)

// runContract exercises a store. prefix keeps ids unique when the store is
// shared with earlier runs.
func runContract(t *testing.T, s contractStore, prefix string) {
	ctx := context.Background()
	period := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	t.Run("snapshot idempotence", func(t *testing.T) {
		snap := models.RegionStatsSnapshot{
			RegionID: prefix + "r1", PeriodStart: period, TotalClients: 10, ActiveClients: 7,
			AverageEngagement: 0.5, TotalRevenue: 1000, YoYGrowth: 0.1, CapturedAt: period.Add(time.Hour),
		}
		created, err := s.PutRegionSnapshot(ctx, snap)
		require.NoError(t, err)
		assert.True(t, created)

		retry := snap
		retry.CapturedAt = period.Add(2 * time.Hour)
		created, err = s.PutRegionSnapshot(ctx, retry)
		require.NoError(t, err)
		assert.False(t, created)

		changed := snap
		changed.TotalRevenue = 2000
		_, err = s.PutRegionSnapshot(ctx, changed)
		assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

		scores, err := s.RegionScores(ctx, models.RegionCompliance, period)
		require.NoError(t, err)
		var found bool
		for _, sc := range scores {
			if sc.RegionID == snap.RegionID {
				found = true
				assert.InDelta(t, 0.7, sc.Score, 1e-9)
				assert.Equal(t, 7, sc.ActiveClients)
			}
		}
		assert.True(t, found)
	})

	t.Run("sample idempotence", func(t *testing.T) {
		b := 40.0
		sample := models.ClientMetricSample{ClientID: prefix + "c1", MetricKind: models.ClientViews, PeriodStart: period, Value: 50, Benchmark: &b}
		created, err := s.PutClientSample(ctx, sample)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.PutClientSample(ctx, sample)
		require.NoError(t, err)
		assert.False(t, created)

		sample.Benchmark = nil
		_, err = s.PutClientSample(ctx, sample)
		assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

		got, err := s.ClientSamples(ctx, prefix+"c1", period, period.Add(-models.Week))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 50.0, got[0].Value)
	})

	t.Run("leaderboard recompute", func(t *testing.T) {
		kind := models.RegionRevenue
		prev := 2
		board := []models.LeaderboardEntry{
			{RegionID: prefix + "a", Rank: 1, Score: 10, PreviousRank: &prev, Trend: models.TrendUp},
			{RegionID: prefix + "b", Rank: 2, Score: 5, Trend: models.TrendStable},
		}
		var seen []models.RegionScore
		got, err := s.RecomputeLeaderboard(ctx, kind, period, func(scores []models.RegionScore, _ map[string]int) []models.LeaderboardEntry {
			seen = scores
			return board
		})
		require.NoError(t, err)
		assert.Equal(t, board, got)
		assert.True(t, slices.ContainsFunc(seen, func(sc models.RegionScore) bool { return sc.RegionID == prefix+"r1" }),
			"rank sees the period's snapshots")

		_, err = s.RecomputeLeaderboard(ctx, kind, period, func([]models.RegionScore, map[string]int) []models.LeaderboardEntry {
			return board[:1]
		})
		require.NoError(t, err)

		entries, err := s.LeaderboardAt(ctx, kind, period, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, prefix+"a", entries[0].RegionID)
		require.NotNil(t, entries[0].PreviousRank)
		assert.Equal(t, 2, *entries[0].PreviousRank)

		ranks, err := s.LeaderboardRanks(ctx, kind, period)
		require.NoError(t, err)
		assert.Equal(t, 1, ranks[prefix+"a"])

		var prior map[string]int
		_, err = s.RecomputeLeaderboard(ctx, kind, period.Add(models.Week), func(_ []models.RegionScore, previous map[string]int) []models.LeaderboardEntry {
			prior = previous
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, prior[prefix+"a"], "rank receives the prior period's ranks")

		latest, err := s.LatestLeaderboardPeriod(ctx, kind)
		require.NoError(t, err)
		assert.False(t, latest.Before(period))

		_, err = s.LeaderboardAt(ctx, kind, period.AddDate(5, 0, 0), 10)
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
	})

	t.Run("report lifecycle", func(t *testing.T) {
		clientID := prefix + "c2"
		week := models.WeekOf(period)
		report := models.WeeklyReport{
			ID: uuid.NewString(), ClientID: clientID, Year: week.Year, WeekNumber: week.Week,
			PeriodStart: period, ReportDate: period.Add(8 * 24 * time.Hour), Status: models.StatusGenerated,
			Insights: []string{"steady"}, CreatedAt: period.Add(8 * 24 * time.Hour),
		}
		stored, created, err := s.CreateReport(ctx, report)
		require.NoError(t, err)
		assert.True(t, created)

		dup := report
		dup.ID = uuid.NewString()
		again, created, err := s.CreateReport(ctx, dup)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, stored.ID, again.ID)

		_, err = s.MarkViewed(ctx, report.ID, period)
		assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

		_, err = s.MarkViewed(ctx, uuid.NewString(), period)
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

		deliveredAt := period.Add(9 * 24 * time.Hour)
		slot := models.WeekOf(deliveredAt)
		delivered, err := s.MarkDelivered(ctx, models.Delivery{
			ReportID: report.ID, ClientID: clientID, Method: models.DeliveryEmail, Week: slot, At: deliveredAt,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StatusDelivered, delivered.Status)
		require.NotNil(t, delivered.DeliveredAt)
		assert.True(t, delivered.DeliveredAt.Equal(deliveredAt))

		// a second first-time insert for the same (client, method) loses the CAS
		_, err = s.MarkDelivered(ctx, models.Delivery{
			ReportID: report.ID, ClientID: clientID, Method: models.DeliveryEmail, Week: slot, At: deliveredAt,
		})
		assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

		stale := slot.Prev()
		_, err = s.MarkDelivered(ctx, models.Delivery{
			ReportID: report.ID, ClientID: clientID, Method: models.DeliveryEmail, Week: slot, Expected: &stale, At: deliveredAt,
		})
		assert.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

		w, err := s.Watermark(ctx, clientID, models.DeliveryEmail)
		require.NoError(t, err)
		require.NotNil(t, w)
		assert.Equal(t, slot, w.Week)

		none, err := s.Watermark(ctx, clientID, models.DeliverySMS)
		require.NoError(t, err)
		assert.Nil(t, none)

		viewed, err := s.MarkViewed(ctx, report.ID, deliveredAt.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, models.StatusViewed, viewed.Status)
		require.NotNil(t, viewed.ViewedAt)

		again, err = s.MarkViewed(ctx, report.ID, deliveredAt.Add(2*time.Hour))
		require.NoError(t, err)
		assert.True(t, again.ViewedAt.Equal(*viewed.ViewedAt))

		latest, err := s.LatestReport(ctx, clientID)
		require.NoError(t, err)
		assert.Equal(t, report.ID, latest.ID)

		history, err := s.ReportHistory(ctx, clientID, time.Time{}, 10)
		require.NoError(t, err)
		require.Len(t, history, 1)

		history, err = s.ReportHistory(ctx, clientID, period.Add(models.Week), 10)
		require.NoError(t, err)
		assert.Empty(t, history)

		_, err = s.LatestReport(ctx, prefix+"nobody")
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
	})

	t.Run("delivery failure blocks slot", func(t *testing.T) {
		clientID := prefix + "c3"
		week := models.WeekOf(period)
		report := models.WeeklyReport{
			ID: uuid.NewString(), ClientID: clientID, Year: week.Year, WeekNumber: week.Week,
			PeriodStart: period, ReportDate: period, Status: models.StatusGenerated, CreatedAt: period,
		}
		_, _, err := s.CreateReport(ctx, report)
		require.NoError(t, err)

		slot := week.Prev()
		blocked, err := s.HasDeliveryFailure(ctx, clientID, models.DeliverySMS, slot)
		require.NoError(t, err)
		assert.False(t, blocked)

		require.NoError(t, s.RecordDeliveryFailure(ctx, report.ID, clientID, models.DeliveryFailure{
			Method: models.DeliverySMS, Week: slot, Reason: "invalid number", FailedAt: period,
		}))
		blocked, err = s.HasDeliveryFailure(ctx, clientID, models.DeliverySMS, slot)
		require.NoError(t, err)
		assert.True(t, blocked)

		got, err := s.ReportByID(ctx, report.ID)
		require.NoError(t, err)
		require.Len(t, got.DeliveryFailures, 1)
		assert.Equal(t, "invalid number", got.DeliveryFailures[0].Reason)
		assert.Equal(t, models.StatusGenerated, got.Status)
	})

	t.Run("preferences and inbox", func(t *testing.T) {
		clientID := prefix + "c4"
		created := period
		p, err := s.UpsertPreference(ctx, models.ReportDeliveryPreference{
			ID: uuid.NewString(), ClientID: clientID, Method: models.DeliveryDashboard, DeliveryDay: "monday",
			DeliveryTime: "09:00", Timezone: "UTC", IsActive: true, CreatedAt: created, UpdatedAt: created,
		})
		require.NoError(t, err)

		updated, err := s.UpsertPreference(ctx, models.ReportDeliveryPreference{
			ID: uuid.NewString(), ClientID: clientID, Method: models.DeliveryDashboard, DeliveryDay: "friday",
			DeliveryTime: "17:30", Timezone: "Europe/Berlin", IsActive: true,
			CreatedAt: created.Add(time.Hour), UpdatedAt: created.Add(time.Hour),
		})
		require.NoError(t, err)
		assert.Equal(t, p.ID, updated.ID)
		assert.True(t, updated.CreatedAt.Equal(created))
		assert.Equal(t, models.Weekday("friday"), updated.DeliveryDay)

		active, err := s.ActivePreferences(ctx)
		require.NoError(t, err)
		var found bool
		for _, a := range active {
			if a.ClientID == clientID {
				found = true
			}
		}
		assert.True(t, found)

		reportID := uuid.NewString()
		item := models.InboxItem{ClientID: clientID, ReportID: reportID, Subject: "s", Body: "b", CreatedAt: period}
		require.NoError(t, s.PutInboxItem(ctx, item))
		require.NoError(t, s.PutInboxItem(ctx, item))
		items, err := s.InboxItems(ctx, clientID)
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})
}
