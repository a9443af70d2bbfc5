package db

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

type snapshotKey struct {
	regionID string
	period   time.Time
}

type sampleKey struct {
	clientID string
	kind     models.ClientMetric
	period   time.Time
}

type boardKey struct {
	kind   models.RegionMetric
	period time.Time
}

type reportWeekKey struct {
	clientID string
	week     models.ISOWeek
}

type methodKey struct {
	clientID string
	method   models.DeliveryMethod
}

type failureKey struct {
	methodKey
	week models.ISOWeek
}

type inboxKey struct {
	clientID string
	reportID string
}

// MemoryStore implements the same contract as Store using in-memory maps.
// Used by tests and when no database is configured in development.
type MemoryStore struct {
	mu sync.RWMutex

	snapshots   map[snapshotKey]models.RegionStatsSnapshot
	samples     map[sampleKey]models.ClientMetricSample
	boards      map[boardKey][]models.LeaderboardEntry
	reports     map[string]models.WeeklyReport
	reportWeeks map[reportWeekKey]string
	prefs       map[methodKey]models.ReportDeliveryPreference
	watermarks  map[methodKey]models.Watermark
	failures    map[failureKey]models.DeliveryFailure
	inbox       []models.InboxItem
	inboxSeen   map[inboxKey]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots:   map[snapshotKey]models.RegionStatsSnapshot{},
		samples:     map[sampleKey]models.ClientMetricSample{},
		boards:      map[boardKey][]models.LeaderboardEntry{},
		reports:     map[string]models.WeeklyReport{},
		reportWeeks: map[reportWeekKey]string{},
		prefs:       map[methodKey]models.ReportDeliveryPreference{},
		watermarks:  map[methodKey]models.Watermark{},
		failures:    map[failureKey]models.DeliveryFailure{},
		inboxSeen:   map[inboxKey]bool{},
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) PutRegionSnapshot(_ context.Context, snap models.RegionStatsSnapshot) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.PeriodStart = snap.PeriodStart.UTC()
	key := snapshotKey{snap.RegionID, snap.PeriodStart}
	if existing, ok := m.snapshots[key]; ok {
		if !existing.SameValues(snap) {
			return false, apperr.Conflict("region snapshot %s/%s already recorded with different values", snap.RegionID, snap.PeriodStart.Format(time.DateOnly))
		}
		return false, nil
	}
	m.snapshots[key] = snap
	return true, nil
}

func (m *MemoryStore) PutClientSample(_ context.Context, sample models.ClientMetricSample) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sample.PeriodStart = sample.PeriodStart.UTC()
	key := sampleKey{sample.ClientID, sample.MetricKind, sample.PeriodStart}
	if existing, ok := m.samples[key]; ok {
		if !existing.SameValues(sample) {
			return false, apperr.Conflict("client sample %s/%s/%s already recorded with different values",
				sample.ClientID, sample.MetricKind, sample.PeriodStart.Format(time.DateOnly))
		}
		return false, nil
	}
	m.samples[key] = sample
	return true, nil
}

func (m *MemoryStore) RegionScores(_ context.Context, kind models.RegionMetric, period time.Time) ([]models.RegionScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.regionScores(kind, period), nil
}

func (m *MemoryStore) regionScores(kind models.RegionMetric, period time.Time) []models.RegionScore {
	var out []models.RegionScore
	for key, snap := range m.snapshots {
		if key.period.Equal(period) {
			out = append(out, models.RegionScore{RegionID: snap.RegionID, Score: kind.Score(snap), ActiveClients: snap.ActiveClients})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegionID < out[j].RegionID })
	return out
}

func (m *MemoryStore) ClientSamples(_ context.Context, clientID string, period, prior time.Time) ([]models.ClientMetricSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ClientMetricSample
	for key, sample := range m.samples {
		if key.clientID == clientID && (key.period.Equal(period) || key.period.Equal(prior)) {
			out = append(out, sample)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.Before(out[j].PeriodStart)
		}
		return out[i].MetricKind < out[j].MetricKind
	})
	return out, nil
}

func (m *MemoryStore) LeaderboardRanks(_ context.Context, kind models.RegionMetric, period time.Time) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.leaderboardRanks(kind, period), nil
}

func (m *MemoryStore) leaderboardRanks(kind models.RegionMetric, period time.Time) map[string]int {
	out := map[string]int{}
	for _, e := range m.boards[boardKey{kind, period.UTC()}] {
		out[e.RegionID] = e.Rank
	}
	return out
}

// RecomputeLeaderboard holds the write lock from reading the scores to
// storing the ranking.
func (m *MemoryStore) RecomputeLeaderboard(_ context.Context, kind models.RegionMetric, period time.Time,
	rank func([]models.RegionScore, map[string]int) []models.LeaderboardEntry,
) ([]models.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	period = period.UTC()
	entries := rank(m.regionScores(kind, period), m.leaderboardRanks(kind, period.Add(-models.Week)))

	key := boardKey{kind, period}
	if len(entries) == 0 {
		delete(m.boards, key)
		return entries, nil
	}
	ranked := slices.Clone(entries)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Rank < ranked[j].Rank })
	m.boards[key] = ranked
	return entries, nil
}

func (m *MemoryStore) LatestLeaderboardPeriod(_ context.Context, kind models.RegionMetric) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	for key := range m.boards {
		if key.kind == kind && key.period.After(latest) {
			latest = key.period
		}
	}
	if latest.IsZero() {
		return time.Time{}, apperr.NotFound("no leaderboard computed for %s", kind)
	}
	return latest, nil
}

func (m *MemoryStore) LeaderboardAt(_ context.Context, kind models.RegionMetric, period time.Time, limit int) ([]models.LeaderboardEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := m.boards[boardKey{kind, period.UTC()}]
	if len(entries) == 0 {
		return nil, apperr.NotFound("no leaderboard for %s at %s", kind, period.Format(time.DateOnly))
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return slices.Clone(entries), nil
}

func cloneReport(r models.WeeklyReport) models.WeeklyReport {
	r.Metrics = slices.Clone(r.Metrics)
	r.Insights = slices.Clone(r.Insights)
	r.Recommendations = slices.Clone(r.Recommendations)
	r.DeliveryFailures = slices.Clone(r.DeliveryFailures)
	if r.DeliveredAt != nil {
		t := *r.DeliveredAt
		r.DeliveredAt = &t
	}
	if r.ViewedAt != nil {
		t := *r.ViewedAt
		r.ViewedAt = &t
	}
	return r
}

func (m *MemoryStore) ReportByWeek(_ context.Context, clientID string, week models.ISOWeek) (models.WeeklyReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.reportWeeks[reportWeekKey{clientID, week}]
	if !ok {
		return models.WeeklyReport{}, apperr.NotFound("no report for client %s in %s", clientID, week)
	}
	return cloneReport(m.reports[id]), nil
}

func (m *MemoryStore) CreateReport(_ context.Context, r models.WeeklyReport) (models.WeeklyReport, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := reportWeekKey{r.ClientID, r.Week()}
	if id, ok := m.reportWeeks[key]; ok {
		return cloneReport(m.reports[id]), false, nil
	}
	r = cloneReport(r)
	r.Metrics = nonNil(r.Metrics)
	r.Insights = nonNil(r.Insights)
	r.Recommendations = nonNil(r.Recommendations)
	r.DeliveryFailures = nonNil(r.DeliveryFailures)
	m.reports[r.ID] = r
	m.reportWeeks[key] = r.ID
	return cloneReport(r), true, nil
}

func (m *MemoryStore) ReportByID(_ context.Context, id string) (models.WeeklyReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return models.WeeklyReport{}, apperr.NotFound("report %s not found", id)
	}
	return cloneReport(r), nil
}

func (m *MemoryStore) clientReports(clientID string, since time.Time) []models.WeeklyReport {
	var out []models.WeeklyReport
	for _, r := range m.reports {
		if r.ClientID == clientID && r.Status.Published() && !r.PeriodStart.Before(since) {
			out = append(out, cloneReport(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out
}

func (m *MemoryStore) LatestReport(_ context.Context, clientID string) (models.WeeklyReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reports := m.clientReports(clientID, time.Time{})
	if len(reports) == 0 {
		return models.WeeklyReport{}, apperr.NotFound("no reports for client %s", clientID)
	}
	return reports[len(reports)-1], nil
}

func (m *MemoryStore) ReportHistory(_ context.Context, clientID string, since time.Time, limit int) ([]models.WeeklyReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.clientReports(clientID, since)
	if out == nil {
		out = []models.WeeklyReport{}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) MarkViewed(_ context.Context, id string, at time.Time) (models.WeeklyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return models.WeeklyReport{}, apperr.NotFound("report %s not found", id)
	}
	switch r.Status {
	case models.StatusViewed:
		return cloneReport(r), nil
	case models.StatusDelivered:
	default:
		return models.WeeklyReport{}, apperr.Conflict("report %s is %s and cannot be marked viewed", id, r.Status)
	}
	at = at.UTC()
	r.Status = models.StatusViewed
	r.ViewedAt = &at
	m.reports[id] = r
	return cloneReport(r), nil
}

func (m *MemoryStore) ActivePreferences(context.Context) ([]models.ReportDeliveryPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ReportDeliveryPreference
	for _, p := range m.prefs {
		if p.IsActive {
			p.Recipients = slices.Clone(p.Recipients)
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientID != out[j].ClientID {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].Method < out[j].Method
	})
	return out, nil
}

func (m *MemoryStore) UpsertPreference(_ context.Context, p models.ReportDeliveryPreference) (models.ReportDeliveryPreference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := methodKey{p.ClientID, p.Method}
	if existing, ok := m.prefs[key]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	}
	p.Recipients = slices.Clone(nonNil(p.Recipients))
	m.prefs[key] = p
	return p, nil
}

func (m *MemoryStore) Watermark(_ context.Context, clientID string, method models.DeliveryMethod) (*models.Watermark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.watermarks[methodKey{clientID, method}]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (m *MemoryStore) HasDeliveryFailure(_ context.Context, clientID string, method models.DeliveryMethod, week models.ISOWeek) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.failures[failureKey{methodKey{clientID, method}, week}]
	return ok, nil
}

func (m *MemoryStore) MarkDelivered(_ context.Context, d models.Delivery) (models.WeeklyReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[d.ReportID]
	if !ok {
		return models.WeeklyReport{}, apperr.NotFound("report %s not found", d.ReportID)
	}
	if r.Status != models.StatusGenerated && r.Status != models.StatusDelivered && r.Status != models.StatusViewed {
		return models.WeeklyReport{}, apperr.Conflict("report %s is %s and cannot be delivered", d.ReportID, r.Status)
	}

	key := methodKey{d.ClientID, d.Method}
	current, exists := m.watermarks[key]
	switch {
	case d.Expected == nil && exists:
		return models.WeeklyReport{}, apperr.Conflict("watermark for %s/%s advanced concurrently", d.ClientID, d.Method)
	case d.Expected != nil && (!exists || current.Week != *d.Expected):
		return models.WeeklyReport{}, apperr.Conflict("watermark for %s/%s moved past %s", d.ClientID, d.Method, *d.Expected)
	}

	at := d.At.UTC()
	if r.Status == models.StatusGenerated {
		r.Status = models.StatusDelivered
		r.DeliveredAt = &at
		m.reports[d.ReportID] = r
	}
	m.watermarks[key] = models.Watermark{ClientID: d.ClientID, Method: d.Method, Week: d.Week, ReportID: d.ReportID, DeliveredAt: at}
	return cloneReport(r), nil
}

func (m *MemoryStore) RecordDeliveryFailure(_ context.Context, reportID, clientID string, f models.DeliveryFailure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[reportID]
	if !ok {
		return apperr.NotFound("report %s not found", reportID)
	}
	f.FailedAt = f.FailedAt.UTC()
	r.DeliveryFailures = append(slices.Clone(r.DeliveryFailures), f)
	m.reports[reportID] = r
	key := failureKey{methodKey{clientID, f.Method}, f.Week}
	if _, ok := m.failures[key]; !ok {
		m.failures[key] = f
	}
	return nil
}

func (m *MemoryStore) PutInboxItem(_ context.Context, item models.InboxItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := inboxKey{item.ClientID, item.ReportID}
	if m.inboxSeen[key] {
		return nil
	}
	m.inboxSeen[key] = true
	item.CreatedAt = item.CreatedAt.UTC()
	m.inbox = append(m.inbox, item)
	return nil
}

func (m *MemoryStore) InboxItems(_ context.Context, clientID string) ([]models.InboxItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.InboxItem{}
	for _, item := range m.inbox {
		if item.ClientID == clientID {
			out = append(out, item)
		}
	}
	return out, nil
}
