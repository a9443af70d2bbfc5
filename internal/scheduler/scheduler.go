// Package scheduler finds report deliveries that have come due and hands
// them to the dispatcher.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/locallift/backend/internal/apperr"
	"github.com/locallift/backend/internal/config"
	"github.com/locallift/backend/internal/delivery"
	"github.com/locallift/backend/internal/models"
)

type Store interface {
	ActivePreferences(ctx context.Context) ([]models.ReportDeliveryPreference, error)
	Watermark(ctx context.Context, clientID string, method models.DeliveryMethod) (*models.Watermark, error)
	HasDeliveryFailure(ctx context.Context, clientID string, method models.DeliveryMethod, week models.ISOWeek) (bool, error)
}

type ReportBuilder interface {
	Build(ctx context.Context, clientID string, periodStart time.Time) (models.WeeklyReport, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, job delivery.Job) (models.WeeklyReport, error)
}

type Scheduler struct {
	Store       Store
	Builder     ReportBuilder
	Dispatcher  Dispatcher
	Lock        Locker
	Logger      zerolog.Logger
	Workers     int
	MaxBackfill int
	Interval    time.Duration
	Now         func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a scheduler. lock may be nil, in which case ticks are not
// coordinated across processes.
func New(store Store, builder ReportBuilder, dispatcher Dispatcher, lock Locker, logger zerolog.Logger, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		Store:       store,
		Builder:     builder,
		Dispatcher:  dispatcher,
		Lock:        lock,
		Logger:      logger.With().Str("component", "scheduler").Logger(),
		Workers:     max(cfg.Workers, 1),
		MaxBackfill: max(cfg.MaxBackfillWeeks, 1),
		Interval:    max(cfg.Tick(), time.Second),
		Now:         time.Now,
	}
}

// TickResult summarizes one tick.
type TickResult struct {
	Skipped   bool
	Delivered int
	Failed    int
}

// work is one due slot of one preference.
type work struct {
	pref models.ReportDeliveryPreference
	slot Slot
}

// prefState follows a preference's watermark through one tick.
type prefState struct {
	expected *models.ISOWeek
	halted   bool
}

// Tick delivers every slot due at now. Clients are processed in parallel up
// to Workers; the slots of one client run sequentially in slot order.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	if s.Lock != nil {
		ok, err := s.Lock.Acquire(ctx)
		if err != nil {
			return TickResult{}, err
		}
		if !ok {
			s.Logger.Debug().Msg("scheduler lock held elsewhere, skipping tick")
			return TickResult{Skipped: true}, nil
		}
		defer func() {
			if err := s.Lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.Logger.Warn().Err(err).Msg("failed to release scheduler lock")
			}
		}()

		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		defer cancel()
		stop := s.holdLock(ctx, cancel)
		defer stop()
	}

	plan, states, err := s.plan(ctx, now.UTC())
	if err != nil {
		return TickResult{}, err
	}

	clients := make([]string, 0, len(plan))
	for client := range plan {
		clients = append(clients, client)
	}
	sort.Strings(clients)

	var delivered, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.Workers)
	for _, client := range clients {
		items := plan[client]
		g.Go(func() error {
			for _, it := range items {
				if ctx.Err() != nil {
					return nil
				}
				if s.run(ctx, it, states[prefKey(it.pref)]) {
					delivered.Add(1)
				} else {
					failed.Add(1)
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	res := TickResult{Delivered: int(delivered.Load()), Failed: int(failed.Load())}
	if res.Delivered > 0 || res.Failed > 0 {
		s.Logger.Info().Int("delivered", res.Delivered).Int("failed", res.Failed).Msg("scheduler tick finished")
	}
	return res, ctx.Err()
}

// holdLock renews the tick lock every third of its TTL until stop is
// called. Losing the lock cancels the tick.
func (s *Scheduler) holdLock(ctx context.Context, cancel context.CancelFunc) (stop func()) {
	every := s.Lock.TTL() / 3
	if every <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				ok, err := s.Lock.Extend(ctx)
				if err != nil {
					s.Logger.Warn().Err(err).Msg("failed to extend scheduler lock")
					continue
				}
				if !ok {
					s.Logger.Error().Msg("scheduler lock lost, cancelling tick")
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func prefKey(p models.ReportDeliveryPreference) string {
	return p.ClientID + "/" + string(p.Method)
}

// plan groups the due slots by client, ordered by slot time then method.
func (s *Scheduler) plan(ctx context.Context, now time.Time) (map[string][]work, map[string]*prefState, error) {
	prefs, err := s.Store.ActivePreferences(ctx)
	if err != nil {
		return nil, nil, err
	}

	plan := make(map[string][]work)
	states := make(map[string]*prefState)
	for _, p := range prefs {
		log := s.Logger.With().Str("client_id", p.ClientID).Str("method", string(p.Method)).Logger()

		w, err := s.Store.Watermark(ctx, p.ClientID, p.Method)
		if err != nil {
			log.Error().Err(err).Msg("failed to load delivery watermark")
			continue
		}
		slots, err := DueSlots(p, w, now, s.MaxBackfill)
		if err != nil {
			log.Error().Err(err).Msg("invalid delivery preference")
			continue
		}

		st := &prefState{}
		if w != nil {
			week := w.Week
			st.expected = &week
		}
		states[prefKey(p)] = st

		for _, slot := range slots {
			blocked, err := s.Store.HasDeliveryFailure(ctx, p.ClientID, p.Method, slot.Week)
			if err != nil {
				log.Error().Err(err).Str("slot_week", slot.Week.String()).Msg("failed to check delivery failures")
				break
			}
			if blocked {
				continue
			}
			plan[p.ClientID] = append(plan[p.ClientID], work{pref: p, slot: slot})
		}
	}

	for _, items := range plan {
		sort.SliceStable(items, func(i, j int) bool {
			if !items[i].slot.At.Equal(items[j].slot.At) {
				return items[i].slot.At.Before(items[j].slot.At)
			}
			return items[i].pref.Method < items[j].pref.Method
		})
	}
	return plan, states, nil
}

// run builds and dispatches one slot and reports whether it was delivered.
// A transient failure or watermark conflict halts the preference for the
// rest of the tick so its later slots are not delivered ahead of it.
func (s *Scheduler) run(ctx context.Context, it work, st *prefState) bool {
	if st.halted {
		return false
	}
	log := s.Logger.With().
		Str("client_id", it.pref.ClientID).
		Str("method", string(it.pref.Method)).
		Str("slot_week", it.slot.Week.String()).
		Logger()

	report, err := s.Builder.Build(ctx, it.pref.ClientID, it.slot.ReportPeriod())
	if err != nil {
		log.Error().Err(err).Msg("failed to build report for delivery")
		st.halted = true
		return false
	}

	_, err = s.Dispatcher.Dispatch(ctx, delivery.Job{
		Report:     report,
		Preference: it.pref,
		Slot:       it.slot.Week,
		Expected:   st.expected,
	})
	switch {
	case err == nil:
		week := it.slot.Week
		st.expected = &week
		return true
	case apperr.Is(err, apperr.KindPermanentUpstream):
		// The slot is blocked; later slots may still go out.
		return false
	case errors.Is(err, context.Canceled):
		st.halted = true
		return false
	default:
		log.Warn().Err(err).Str("kind", string(apperr.KindOf(err))).Msg("delivery left due for a later tick")
		st.halted = true
		return false
	}
}

// Run ticks immediately and then every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.tick(ctx)
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.Tick(ctx, s.Now()); err != nil && ctx.Err() == nil {
		s.Logger.Error().Err(err).Msg("scheduler tick failed")
	}
}

// Start runs the loop in the background until Stop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
	s.Logger.Info().Dur("interval", s.Interval).Msg("scheduler started")
}

// Stop cancels the running tick and waits for it to return or for ctx to
// expire. In-flight retries stop at their next backoff boundary.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		s.Logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
