package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

const reportColumns = `id, client_id, year, week_number, period_start, report_date, status,
	metrics, insights, recommendations, delivery_failures, delivered_at, viewed_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReport(row rowScanner) (models.WeeklyReport, error) {
	var (
		r                                    models.WeeklyReport
		metrics, insights, recs, failuresRaw []byte
	)
	if err := row.Scan(&r.ID, &r.ClientID, &r.Year, &r.WeekNumber, &r.PeriodStart, &r.ReportDate, &r.Status,
		&metrics, &insights, &recs, &failuresRaw, &r.DeliveredAt, &r.ViewedAt, &r.CreatedAt); err != nil {
		return models.WeeklyReport{}, err
	}
	for _, part := range []struct {
		raw []byte
		dst any
	}{
		{metrics, &r.Metrics},
		{insights, &r.Insights},
		{recs, &r.Recommendations},
		{failuresRaw, &r.DeliveryFailures},
	} {
		if err := json.Unmarshal(part.raw, part.dst); err != nil {
			return models.WeeklyReport{}, err
		}
	}
	r.PeriodStart = r.PeriodStart.UTC()
	r.ReportDate = r.ReportDate.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.DeliveredAt = utcPtr(r.DeliveredAt)
	r.ViewedAt = utcPtr(r.ViewedAt)
	return r, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (s *Store) ReportByWeek(ctx context.Context, clientID string, week models.ISOWeek) (models.WeeklyReport, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM weekly_report WHERE client_id = $1 AND year = $2 AND week_number = $3`,
		clientID, week.Year, week.Week)
	r, err := scanReport(row)
	if err != nil {
		return models.WeeklyReport{}, notFoundOr(err, "no report for client %s in %s", clientID, week)
	}
	return r, nil
}

// CreateReport inserts r unless a report already exists for its
// (client, ISO week). In that case the stored report is returned with
// created=false.
func (s *Store) CreateReport(ctx context.Context, r models.WeeklyReport) (models.WeeklyReport, bool, error) {
	metrics, err := json.Marshal(nonNil(r.Metrics))
	if err != nil {
		return models.WeeklyReport{}, false, err
	}
	insights, err := json.Marshal(nonNil(r.Insights))
	if err != nil {
		return models.WeeklyReport{}, false, err
	}
	recs, err := json.Marshal(nonNil(r.Recommendations))
	if err != nil {
		return models.WeeklyReport{}, false, err
	}
	failures, err := json.Marshal(nonNil(r.DeliveryFailures))
	if err != nil {
		return models.WeeklyReport{}, false, err
	}

	tag, err := s.Pool.Exec(ctx, `
		INSERT INTO weekly_report (`+reportColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (client_id, year, week_number) DO NOTHING
	`, r.ID, r.ClientID, r.Year, r.WeekNumber, r.PeriodStart, r.ReportDate, r.Status,
		metrics, insights, recs, failures, r.DeliveredAt, r.ViewedAt, r.CreatedAt)
	if err != nil {
		return models.WeeklyReport{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return r, true, nil
	}
	existing, err := s.ReportByWeek(ctx, r.ClientID, r.Week())
	return existing, false, err
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func (s *Store) ReportByID(ctx context.Context, id string) (models.WeeklyReport, error) {
	if !validUUID(id) {
		return models.WeeklyReport{}, apperr.NotFound("report %s not found", id)
	}
	r, err := scanReport(s.Pool.QueryRow(ctx, `SELECT `+reportColumns+` FROM weekly_report WHERE id = $1`, id))
	if err != nil {
		return models.WeeklyReport{}, notFoundOr(err, "report %s not found", id)
	}
	return r, nil
}

func (s *Store) LatestReport(ctx context.Context, clientID string) (models.WeeklyReport, error) {
	r, err := scanReport(s.Pool.QueryRow(ctx, `
		SELECT `+reportColumns+` FROM weekly_report
		WHERE client_id = $1 AND status IN ('generated', 'delivered', 'viewed')
		ORDER BY period_start DESC
		LIMIT 1
	`, clientID))
	if err != nil {
		return models.WeeklyReport{}, notFoundOr(err, "no reports for client %s", clientID)
	}
	return r, nil
}

// ReportHistory lists the client's reports whose period starts at or after
// since, oldest first. A zero since returns the full history up to limit.
func (s *Store) ReportHistory(ctx context.Context, clientID string, since time.Time, limit int) ([]models.WeeklyReport, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+reportColumns+` FROM weekly_report
		WHERE client_id = $1 AND period_start >= $2 AND status IN ('generated', 'delivered', 'viewed')
		ORDER BY period_start ASC
		LIMIT $3
	`, clientID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.WeeklyReport{}
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkViewed moves a delivered report to viewed. Viewing an already viewed
// report is a no-op that returns it unchanged.
func (s *Store) MarkViewed(ctx context.Context, id string, at time.Time) (models.WeeklyReport, error) {
	var out models.WeeklyReport
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		if !validUUID(id) {
			return apperr.NotFound("report %s not found", id)
		}
		r, err := scanReport(tx.QueryRow(ctx, `SELECT `+reportColumns+` FROM weekly_report WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFoundOr(err, "report %s not found", id)
		}
		switch r.Status {
		case models.StatusViewed:
			out = r
			return nil
		case models.StatusDelivered:
		default:
			return apperr.Conflict("report %s is %s and cannot be marked viewed", id, r.Status)
		}
		at = at.UTC()
		if _, err := tx.Exec(ctx, `UPDATE weekly_report SET status = $2, viewed_at = $3 WHERE id = $1`, id, models.StatusViewed, at); err != nil {
			return err
		}
		r.Status = models.StatusViewed
		r.ViewedAt = &at
		out = r
		return nil
	})
	return out, err
}
