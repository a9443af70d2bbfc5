package db

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/models"
)

const preferenceColumns = `id, client_id, delivery_method, delivery_day, delivery_time, timezone, recipients, is_active, created_at, updated_at`

func scanPreference(row rowScanner) (models.ReportDeliveryPreference, error) {
	var (
		p          models.ReportDeliveryPreference
		recipients []byte
	)
	if err := row.Scan(&p.ID, &p.ClientID, &p.Method, &p.DeliveryDay, &p.DeliveryTime, &p.Timezone,
		&recipients, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return models.ReportDeliveryPreference{}, err
	}
	if err := json.Unmarshal(recipients, &p.Recipients); err != nil {
		return models.ReportDeliveryPreference{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

// ActivePreferences returns every active preference ordered by client then method.
func (s *Store) ActivePreferences(ctx context.Context) ([]models.ReportDeliveryPreference, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+preferenceColumns+` FROM report_delivery_preference
		WHERE is_active
		ORDER BY client_id ASC, delivery_method ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ReportDeliveryPreference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpsertPreference creates or replaces the (client, method) preference.
// ID and CreatedAt of an existing row are kept.
func (s *Store) UpsertPreference(ctx context.Context, p models.ReportDeliveryPreference) (models.ReportDeliveryPreference, error) {
	recipients, err := json.Marshal(nonNil(p.Recipients))
	if err != nil {
		return models.ReportDeliveryPreference{}, err
	}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO report_delivery_preference (`+preferenceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (client_id, delivery_method) DO UPDATE SET
			delivery_day  = EXCLUDED.delivery_day,
			delivery_time = EXCLUDED.delivery_time,
			timezone      = EXCLUDED.timezone,
			recipients    = EXCLUDED.recipients,
			is_active     = EXCLUDED.is_active,
			updated_at    = EXCLUDED.updated_at
		RETURNING `+preferenceColumns,
		p.ID, p.ClientID, p.Method, p.DeliveryDay, p.DeliveryTime, p.Timezone, recipients, p.IsActive, p.CreatedAt, p.UpdatedAt)
	return scanPreference(row)
}

func (s *Store) Watermark(ctx context.Context, clientID string, method models.DeliveryMethod) (*models.Watermark, error) {
	w := models.Watermark{ClientID: clientID, Method: method}
	err := s.Pool.QueryRow(ctx, `
		SELECT iso_year, iso_week, report_id::text, delivered_at
		FROM delivery_watermark WHERE client_id = $1 AND delivery_method = $2
	`, clientID, method).Scan(&w.Week.Year, &w.Week.Week, &w.ReportID, &w.DeliveredAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	w.DeliveredAt = w.DeliveredAt.UTC()
	return &w, nil
}

func (s *Store) HasDeliveryFailure(ctx context.Context, clientID string, method models.DeliveryMethod, week models.ISOWeek) (bool, error) {
	var exists bool
	err := s.Pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM delivery_failure
			WHERE client_id = $1 AND delivery_method = $2 AND iso_year = $3 AND iso_week = $4
		)
	`, clientID, method, week.Year, week.Week).Scan(&exists)
	return exists, err
}

// MarkDelivered records a successful send. In one transaction it moves the
// report from generated to delivered and advances the (client, method)
// watermark by compare-and-set on d.Expected. A report that is already
// delivered or viewed keeps its status and delivered_at.
func (s *Store) MarkDelivered(ctx context.Context, d models.Delivery) (models.WeeklyReport, error) {
	var out models.WeeklyReport
	at := d.At.UTC()
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		if !validUUID(d.ReportID) {
			return apperr.NotFound("report %s not found", d.ReportID)
		}
		r, err := scanReport(tx.QueryRow(ctx, `SELECT `+reportColumns+` FROM weekly_report WHERE id = $1 FOR UPDATE`, d.ReportID))
		if err != nil {
			return notFoundOr(err, "report %s not found", d.ReportID)
		}
		switch r.Status {
		case models.StatusGenerated:
			if _, err := tx.Exec(ctx, `UPDATE weekly_report SET status = $2, delivered_at = $3 WHERE id = $1`,
				d.ReportID, models.StatusDelivered, at); err != nil {
				return err
			}
			r.Status = models.StatusDelivered
			r.DeliveredAt = &at
		case models.StatusDelivered, models.StatusViewed:
		default:
			return apperr.Conflict("report %s is %s and cannot be delivered", d.ReportID, r.Status)
		}

		if d.Expected == nil {
			_, err = tx.Exec(ctx, `
				INSERT INTO delivery_watermark (client_id, delivery_method, iso_year, iso_week, report_id, delivered_at)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, d.ClientID, d.Method, d.Week.Year, d.Week.Week, d.ReportID, at)
			if isUniqueViolation(err) {
				return apperr.Conflict("watermark for %s/%s advanced concurrently", d.ClientID, d.Method)
			}
			if err != nil {
				return err
			}
		} else {
			tag, err := tx.Exec(ctx, `
				UPDATE delivery_watermark
				SET iso_year = $3, iso_week = $4, report_id = $5, delivered_at = $6
				WHERE client_id = $1 AND delivery_method = $2 AND iso_year = $7 AND iso_week = $8
			`, d.ClientID, d.Method, d.Week.Year, d.Week.Week, d.ReportID, at, d.Expected.Year, d.Expected.Week)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return apperr.Conflict("watermark for %s/%s moved past %s", d.ClientID, d.Method, *d.Expected)
			}
		}
		out = r
		return nil
	})
	return out, err
}

// RecordDeliveryFailure appends f to the report and blocks the slot week
// for (client, method).
func (s *Store) RecordDeliveryFailure(ctx context.Context, reportID, clientID string, f models.DeliveryFailure) error {
	if !validUUID(reportID) {
		return apperr.NotFound("report %s not found", reportID)
	}
	entry, err := json.Marshal([]models.DeliveryFailure{f})
	if err != nil {
		return err
	}
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE weekly_report SET delivery_failures = delivery_failures || $2::jsonb WHERE id = $1
		`, reportID, entry)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound("report %s not found", reportID)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO delivery_failure (client_id, delivery_method, iso_year, iso_week, report_id, reason, failed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (client_id, delivery_method, iso_year, iso_week) DO NOTHING
		`, clientID, f.Method, f.Week.Year, f.Week.Week, reportID, f.Reason, f.FailedAt.UTC())
		return err
	})
}

// PutInboxItem stores a dashboard message. Re-delivering the same report is
// a no-op.
func (s *Store) PutInboxItem(ctx context.Context, item models.InboxItem) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO dashboard_inbox (client_id, report_id, subject, body, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (client_id, report_id) DO NOTHING
	`, item.ClientID, item.ReportID, item.Subject, item.Body, item.CreatedAt.UTC())
	return err
}

func (s *Store) InboxItems(ctx context.Context, clientID string) ([]models.InboxItem, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT client_id, report_id::text, subject, body, created_at
		FROM dashboard_inbox WHERE client_id = $1
		ORDER BY created_at ASC, id ASC
	`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.InboxItem{}
	for rows.Next() {
		var item models.InboxItem
		if err := rows.Scan(&item.ClientID, &item.ReportID, &item.Subject, &item.Body, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		out = append(out, item)
	}
	return out, rows.Err()
}
