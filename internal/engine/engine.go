package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"lockerline/internal/domain"
	"lockerline/internal/projection"
	"lockerline/internal/store"
)

// Engine ties the event store to the projection. Appends go to the store
// first; only newly accepted events reach the projection, so a duplicate
// delivery never mutates state. Projection access is serialized here since
// the state itself is not thread-safe.
type Engine struct {
	Store store.Store
	Now   func() time.Time

	mu    sync.RWMutex
	state *projection.State
}

func New(st store.Store) *Engine {
	return &Engine{
		Store: st,
		Now:   time.Now,
		state: projection.NewState(),
	}
}

// Rehydrate rebuilds the projection from the store's full replay. Called at
// process start; the projected state has no persistence of its own.
func (e *Engine) Rehydrate(ctx context.Context) error {
	events, err := e.Store.LoadAll(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Rebuild(events)
	return nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Ingest appends the event and, if newly accepted, applies it. Returns
// whether the event was newly accepted; a duplicate is not an error.
// OccurredAt is stamped when the caller left it empty; it is informational
// only, append order stays authoritative.
func (e *Engine) Ingest(ctx context.Context, ev domain.Event) (bool, error) {
	if ev.OccurredAt == "" {
		ev.OccurredAt = e.now().UTC().Format(time.RFC3339)
	}
	accepted, err := e.Store.Append(ctx, ev)
	if err != nil || !accepted {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Apply(ev)
	return true, nil
}

func (e *Engine) LockerSummary(_ context.Context, lockerID string) (domain.LockerSummary, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.LockerSummary(lockerID)
}

func (e *Engine) CompartmentStatus(_ context.Context, compartmentID string) (domain.CompartmentStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.CompartmentStatus(compartmentID)
}

func (e *Engine) ReservationStatus(_ context.Context, reservationID string) (domain.ReservationStatus, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.ReservationStatus(reservationID)
}

// VerifyReplay rebuilds a fresh projection from the full log and compares
// its per-locker state hashes against the live projection. The two must
// converge for every locker; any mismatch means replay and incremental
// application have diverged.
func (e *Engine) VerifyReplay(ctx context.Context) (domain.ReplayReport, error) {
	events, err := e.Store.LoadAll(ctx)
	if err != nil {
		return domain.ReplayReport{}, err
	}
	fresh := projection.NewState()
	fresh.Rebuild(events)

	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := map[string]struct{}{}
	for _, id := range fresh.LockerIDs() {
		ids[id] = struct{}{}
	}
	for _, id := range e.state.LockerIDs() {
		ids[id] = struct{}{}
	}
	report := domain.ReplayReport{Consistent: true, Lockers: len(ids), Events: len(events)}
	for id := range ids {
		live, liveErr := e.state.LockerSummary(id)
		replayed, replayErr := fresh.LockerSummary(id)
		if liveErr != nil || replayErr != nil || live.StateHash != replayed.StateHash {
			report.Mismatched = append(report.Mismatched, id)
		}
	}
	if len(report.Mismatched) > 0 {
		sort.Strings(report.Mismatched)
		report.Consistent = false
	}
	return report, nil
}

// RecentEvents returns the newest n log records, oldest first.
func (e *Engine) RecentEvents(ctx context.Context, n int, lockerID string) ([]domain.Event, error) {
	var (
		events []domain.Event
		err    error
	)
	if lockerID != "" {
		events, err = e.Store.LoadByLocker(ctx, lockerID)
	} else {
		events, err = e.Store.LoadAll(ctx)
	}
	if err != nil {
		return nil, err
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

// EventsAfter returns up to limit records after the given log offset along
// with the new offset. Offsets count accepted records from the start of the
// log; the log is append-only so an offset stays valid forever.
func (e *Engine) EventsAfter(ctx context.Context, offset int64, limit int) ([]domain.Event, int64, error) {
	events, err := e.Store.LoadAll(ctx)
	if err != nil {
		return nil, offset, err
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(events)) {
		return nil, offset, nil
	}
	events = events[offset:]
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, offset + int64(len(events)), nil
}
