package engine_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"lockerline/internal/domain"
	"lockerline/internal/engine"
	"lockerline/internal/store"
)

type testEnv struct {
	Engine *engine.Engine
	Store  *store.FileStore
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	st, err := store.OpenFile(filepath.Join(t.TempDir(), "events.jsonl"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	e := engine.New(st)
	e.Now = func() time.Time { return time.Date(2026, 2, 20, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: e, Store: st, Ctx: context.Background()}
}

func evt(id, lockerID string, t domain.EventType, payload map[string]any) domain.Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return domain.Event{
		EventID:  id,
		LockerID: lockerID,
		Type:     t,
		Payload:  payload,
	}
}

func ingest(t *testing.T, env testEnv, events ...domain.Event) {
	t.Helper()
	for _, ev := range events {
		if ok, err := env.Engine.Ingest(env.Ctx, ev); !ok || err != nil {
			t.Fatalf("ingest %s: ok=%v err=%v", ev.EventID, ok, err)
		}
	}
}

func TestIngestAndQuery(t *testing.T) {
	env := newTestEnv(t)
	ingest(t, env,
		evt("e1", "l1", domain.TypeCompartmentRegistered, map[string]any{"compartment_id": "c1"}),
		evt("e2", "l1", domain.TypeReservationCreated, map[string]any{"compartment_id": "c1", "reservation_id": "r1"}),
	)
	summary, err := env.Engine.LockerSummary(env.Ctx, "l1")
	if err != nil {
		t.Fatalf("locker summary: %v", err)
	}
	if summary.Compartments != 1 || summary.ActiveReservations != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	comp, err := env.Engine.CompartmentStatus(env.Ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if comp.ActiveReservation == nil || *comp.ActiveReservation != "r1" {
		t.Fatalf("unexpected compartment status: %+v", comp)
	}
	res, err := env.Engine.ReservationStatus(env.Ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != domain.ReservationCreatedStatus {
		t.Fatalf("unexpected reservation status: %+v", res)
	}
}

func TestDuplicateIngestDoesNotMutate(t *testing.T) {
	env := newTestEnv(t)
	ingest(t, env, evt("e1", "l1", domain.TypeCompartmentRegistered, map[string]any{"compartment_id": "c1"}))
	before, _ := env.Engine.LockerSummary(env.Ctx, "l1")

	// same id, different payload: must be rejected by the store
	ok, err := env.Engine.Ingest(env.Ctx, evt("e1", "l1", domain.TypeCompartmentRegistered, map[string]any{"compartment_id": "c2"}))
	if err != nil {
		t.Fatalf("duplicate ingest: %v", err)
	}
	if ok {
		t.Fatalf("duplicate accepted")
	}
	after, _ := env.Engine.LockerSummary(env.Ctx, "l1")
	if before.StateHash != after.StateHash {
		t.Fatalf("duplicate ingest changed state")
	}
}

func TestIngestStampsOccurredAt(t *testing.T) {
	env := newTestEnv(t)
	ingest(t, env, evt("e1", "l1", domain.TypeCompartmentRegistered, map[string]any{"compartment_id": "c1"}))
	events, err := env.Store.LoadAll(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if events[0].OccurredAt != "2026-02-20T12:00:00Z" {
		t.Fatalf("expected stamped timestamp, got %q", events[0].OccurredAt)
	}
}

func TestRehydrateMatchesLive(t *testing.T) {
	env := newTestEnv(t)
	ingest(t, env,
		evt("e1", "l1", domain.TypeCompartmentRegistered, map[string]any{"compartment_id": "c1"}),
		evt("e2", "l1", domain.TypeReservationCreated, map[string]any{"compartment_id": "c1", "reservation_id": "r1"}),
		evt("e3", "l1", domain.TypeParcelDeposited, map[string]any{"reservation_id": "r1"}),
		evt("f1", "l1", domain.TypeFaultReported, map[string]any{"compartment_id": "c1", "severity": 4}),
	)
	live, err := env.Engine.LockerSummary(env.Ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}

	restarted := engine.New(env.Store)
	if err := restarted.Rehydrate(env.Ctx); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	rebuilt, err := restarted.LockerSummary(env.Ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if live.StateHash != rebuilt.StateHash {
		t.Fatalf("restart diverged: %s vs %s", live.StateHash, rebuilt.StateHash)
	}
}

func TestVerifyReplay(t *testing.T) {
	env := newTestEnv(t)
	ingest(t, env,
		evt("e1", "l1", domain.TypeCompartmentRegistered, map[string]any{"compartment_id": "c1"}),
		evt("e2", "l2", domain.TypeCompartmentRegistered, map[string]any{"compartment_id": "c2"}),
		evt("e3", "l1", domain.TypeReservationCreated, map[string]any{"compartment_id": "c1", "reservation_id": "r1"}),
	)
	report, err := env.Engine.VerifyReplay(env.Ctx)
	if err != nil {
		t.Fatalf("verify replay: %v", err)
	}
	if !report.Consistent {
		t.Fatalf("expected consistent replay, mismatched: %v", report.Mismatched)
	}
	if report.Lockers != 2 || report.Events != 3 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestRecentEventsAndOffsets(t *testing.T) {
	env := newTestEnv(t)
	ingest(t, env,
		evt("e1", "l1", domain.TypeCompartmentRegistered, map[string]any{"compartment_id": "c1"}),
		evt("e2", "l2", domain.TypeCompartmentRegistered, map[string]any{"compartment_id": "c2"}),
		evt("e3", "l1", domain.TypeFaultReported, map[string]any{"compartment_id": "c1"}),
	)
	recent, err := env.Engine.RecentEvents(env.Ctx, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].EventID != "e2" || recent[1].EventID != "e3" {
		t.Fatalf("unexpected tail: %+v", recent)
	}
	filtered, err := env.Engine.RecentEvents(env.Ctx, 0, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 2 || filtered[1].EventID != "e3" {
		t.Fatalf("unexpected locker tail: %+v", filtered)
	}

	after, next, err := env.Engine.EventsAfter(env.Ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 2 || after[0].EventID != "e2" || next != 3 {
		t.Fatalf("unexpected offset read: events=%+v next=%d", after, next)
	}
	empty, next2, err := env.Engine.EventsAfter(env.Ctx, next, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 || next2 != next {
		t.Fatalf("expected empty read at log end")
	}
}
