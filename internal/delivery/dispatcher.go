package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/config"
	"github.com/locallift/backend/internal/models"
)

type Store interface {
	MarkDelivered(ctx context.Context, d models.Delivery) (models.WeeklyReport, error)
	RecordDeliveryFailure(ctx context.Context, reportID, clientID string, f models.DeliveryFailure) error
}

// Job is one report delivery for a preference's slot. Expected is the
// watermark week observed when the slot was found due.
type Job struct {
	Report     models.WeeklyReport
	Preference models.ReportDeliveryPreference
	Slot       models.ISOWeek
	Expected   *models.ISOWeek
}

type Dispatcher struct {
	Store       Store
	Adapters    map[models.DeliveryMethod]Adapter
	Renderer    *Renderer
	Logger      zerolog.Logger
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(store Store, adapters map[models.DeliveryMethod]Adapter, renderer *Renderer, logger zerolog.Logger, cfg config.DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		Store:       store,
		Adapters:    adapters,
		Renderer:    renderer,
		Logger:      logger.With().Str("component", "dispatcher").Logger(),
		MaxAttempts: max(cfg.MaxAttempts, 1),
		BackoffBase: time.Duration(cfg.BackoffBaseSeconds) * time.Second,
		BackoffCap:  time.Duration(cfg.BackoffCapSeconds) * time.Second,
		Now:         time.Now,
		Sleep:       sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Backoff is the wait before the retry that follows failed attempt n
// (1-based): base * 2^(n-1), capped.
func (d *Dispatcher) Backoff(n int) time.Duration {
	wait := d.BackoffBase
	for i := 1; i < n; i++ {
		wait *= 2
		if wait >= d.BackoffCap {
			return d.BackoffCap
		}
	}
	return min(wait, d.BackoffCap)
}

// Dispatch sends the job's report and records the result. On success the
// report and watermark are updated together; on a permanent failure the
// slot is blocked. Transient failures are retried with backoff and surface
// as TransientUpstream once attempts run out.
func (d *Dispatcher) Dispatch(ctx context.Context, job Job) (models.WeeklyReport, error) {
	method := job.Preference.Method
	adapter, ok := d.Adapters[method]
	if !ok {
		return models.WeeklyReport{}, apperr.Internal("no adapter for delivery method %s", method)
	}
	payload, err := d.Renderer.Render(job.Report)
	if err != nil {
		return models.WeeklyReport{}, apperr.Wrap(apperr.KindInternal, err, "render report %s", job.Report.ID)
	}

	log := d.Logger.With().
		Str("report_id", job.Report.ID).
		Str("client_id", job.Report.ClientID).
		Str("method", string(method)).
		Str("slot_week", job.Slot.String()).
		Logger()

	recipients := job.Preference.Recipients
	for attempt := 1; ; attempt++ {
		outcome, sendErr := adapter.Send(ctx, payload, recipients)
		at := d.Now().UTC()

		switch outcome {
		case Delivered:
			// The message is out; record it even if the tick is being cancelled.
			report, err := d.Store.MarkDelivered(context.WithoutCancel(ctx), models.Delivery{
				ReportID: job.Report.ID,
				ClientID: job.Report.ClientID,
				Method:   method,
				Week:     job.Slot,
				Expected: job.Expected,
				At:       at,
			})
			if err != nil {
				return models.WeeklyReport{}, err
			}
			log.Info().Int("attempt", attempt).Msg("report delivered")
			return report, nil

		case PermanentFailure:
			reason := "permanent failure"
			if sendErr != nil {
				reason = sendErr.Error()
			}
			failure := models.DeliveryFailure{Method: method, Week: job.Slot, Reason: reason, FailedAt: at}
			if err := d.Store.RecordDeliveryFailure(context.WithoutCancel(ctx), job.Report.ID, job.Report.ClientID, failure); err != nil {
				log.Error().Err(err).Msg("failed to record delivery failure")
				return models.WeeklyReport{}, err
			}
			log.Error().Str("alert", "delivery_permanent_failure").Str("reason", reason).Int("attempt", attempt).
				Msg("report delivery failed permanently")
			return models.WeeklyReport{}, &apperr.Error{
				Kind:    apperr.KindPermanentUpstream,
				Message: fmt.Sprintf("deliver report %s via %s", job.Report.ID, method),
				Err:     sendErr,
			}

		default:
			if attempt >= d.MaxAttempts {
				log.Warn().Err(sendErr).Int("attempts", attempt).Msg("report delivery retries exhausted")
				return models.WeeklyReport{}, &apperr.Error{
					Kind:    apperr.KindTransientUpstream,
					Message: fmt.Sprintf("deliver report %s via %s: retries exhausted", job.Report.ID, method),
					Err:     sendErr,
				}
			}
			// Retries only go to recipients the failed attempt did not reach.
			recipients = pending(recipients, sendErr)
			wait := d.Backoff(attempt)
			log.Warn().Err(sendErr).Int("attempt", attempt).Dur("backoff", wait).Msg("transient delivery failure")
			if err := d.Sleep(ctx, wait); err != nil {
				return models.WeeklyReport{}, apperr.Wrap(apperr.KindTransientUpstream, err, "deliver report %s via %s: cancelled", job.Report.ID, method)
			}
		}
	}
}
