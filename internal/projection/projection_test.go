package projection_test

import (
	"fmt"
	"testing"

	"lockerline/internal/domain"
	"lockerline/internal/projection"
)

func evt(id, lockerID string, t domain.EventType, payload map[string]any) domain.Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return domain.Event{
		EventID:    id,
		OccurredAt: "2026-02-20T12:00:00Z",
		LockerID:   lockerID,
		Type:       t,
		Payload:    payload,
	}
}

func register(id, lockerID, compartmentID string) domain.Event {
	return evt(id, lockerID, domain.TypeCompartmentRegistered, map[string]any{"compartment_id": compartmentID})
}

func reserve(id, lockerID, compartmentID, reservationID string) domain.Event {
	return evt(id, lockerID, domain.TypeReservationCreated, map[string]any{
		"compartment_id": compartmentID,
		"reservation_id": reservationID,
	})
}

func deposit(id, lockerID, reservationID string) domain.Event {
	return evt(id, lockerID, domain.TypeParcelDeposited, map[string]any{"reservation_id": reservationID})
}

func pickup(id, lockerID, reservationID string) domain.Event {
	return evt(id, lockerID, domain.TypeParcelPickedUp, map[string]any{"reservation_id": reservationID})
}

func expire(id, lockerID, reservationID string) domain.Event {
	return evt(id, lockerID, domain.TypeReservationExpired, map[string]any{"reservation_id": reservationID})
}

func fault(id, lockerID, compartmentID string, severity int) domain.Event {
	return evt(id, lockerID, domain.TypeFaultReported, map[string]any{
		"compartment_id": compartmentID,
		"severity":       severity,
	})
}

func clear(id, lockerID, compartmentID, faultEventID string) domain.Event {
	return evt(id, lockerID, domain.TypeFaultCleared, map[string]any{
		"compartment_id": compartmentID,
		"fault_event_id": faultEventID,
	})
}

func apply(s *projection.State, events ...domain.Event) {
	for _, ev := range events {
		s.Apply(ev)
	}
}

func TestReservationLifecycle(t *testing.T) {
	s := projection.NewState()
	apply(s,
		register("e1", "l1", "c1"),
		reserve("e2", "l1", "c1", "r1"),
		deposit("e3", "l1", "r1"),
		pickup("e4", "l1", "r1"),
	)
	res, err := s.ReservationStatus("r1")
	if err != nil {
		t.Fatalf("reservation status: %v", err)
	}
	if res.Status != domain.ReservationPickedUpStatus {
		t.Fatalf("expected PICKED_UP, got %s", res.Status)
	}
	// a second deposit against a terminal reservation is ignored
	apply(s, deposit("e5", "l1", "r1"))
	res, _ = s.ReservationStatus("r1")
	if res.Status != domain.ReservationPickedUpStatus {
		t.Fatalf("terminal status mutated to %s", res.Status)
	}
	comp, err := s.CompartmentStatus("c1")
	if err != nil {
		t.Fatalf("compartment status: %v", err)
	}
	if comp.ActiveReservation != nil {
		t.Fatalf("expected compartment released after pickup")
	}
}

func TestDepositRequiresCreated(t *testing.T) {
	s := projection.NewState()
	apply(s,
		register("e1", "l1", "c1"),
		reserve("e2", "l1", "c1", "r1"),
		pickup("e3", "l1", "r1"), // no deposit yet, must be ignored
	)
	res, _ := s.ReservationStatus("r1")
	if res.Status != domain.ReservationCreatedStatus {
		t.Fatalf("expected CREATED, got %s", res.Status)
	}
	// deposit on an unknown reservation is ignored
	apply(s, deposit("e4", "l1", "nope"))
	if _, err := s.ReservationStatus("nope"); err == nil {
		t.Fatalf("expected not found for unknown reservation")
	}
}

func TestSingleActiveReservation(t *testing.T) {
	s := projection.NewState()
	apply(s,
		register("e1", "l1", "c1"),
		reserve("e2", "l1", "c1", "r1"),
		reserve("e3", "l1", "c1", "r2"), // second reservation must be ignored
	)
	if _, err := s.ReservationStatus("r2"); err == nil {
		t.Fatalf("expected r2 to be rejected while r1 is active")
	}
	summary, err := s.LockerSummary("l1")
	if err != nil {
		t.Fatal(err)
	}
	if summary.ActiveReservations != 1 {
		t.Fatalf("expected 1 active reservation, got %d", summary.ActiveReservations)
	}
}

func TestExpireReleasesCompartment(t *testing.T) {
	s := projection.NewState()
	apply(s,
		register("e1", "l1", "c1"),
		reserve("e2", "l1", "c1", "r1"),
		deposit("e3", "l1", "r1"),
		expire("e4", "l1", "r1"), // allowed from any non-terminal status
		reserve("e5", "l1", "c1", "r2"),
	)
	res, _ := s.ReservationStatus("r1")
	if res.Status != domain.ReservationExpiredStatus {
		t.Fatalf("expected EXPIRED, got %s", res.Status)
	}
	res2, err := s.ReservationStatus("r2")
	if err != nil {
		t.Fatalf("expected compartment reusable after expiry: %v", err)
	}
	if res2.Status != domain.ReservationCreatedStatus {
		t.Fatalf("expected CREATED for r2, got %s", res2.Status)
	}
}

func TestExpireIgnoredOnTerminalReservation(t *testing.T) {
	s := projection.NewState()
	apply(s,
		register("e1", "l1", "c1"),
		reserve("e2", "l1", "c1", "r1"),
		deposit("e3", "l1", "r1"),
		pickup("e4", "l1", "r1"),
		expire("e5", "l1", "r1"), // terminal, must stay PICKED_UP
	)
	res, _ := s.ReservationStatus("r1")
	if res.Status != domain.ReservationPickedUpStatus {
		t.Fatalf("expire mutated terminal reservation to %s", res.Status)
	}
}

func TestDegradedGatingScenario(t *testing.T) {
	// Literal scenario: severe fault blocks reservation, clearing re-enables it.
	s := projection.NewState()
	apply(s,
		register("e1", "l1", "c1"),
		fault("f1", "l1", "c1", 3),
		reserve("e2", "l1", "c1", "r1"),
	)
	if _, err := s.ReservationStatus("r1"); err == nil {
		t.Fatalf("expected r1 rejected against degraded compartment")
	}
	comp, _ := s.CompartmentStatus("c1")
	if !comp.Degraded {
		t.Fatalf("expected compartment degraded")
	}
	apply(s,
		clear("e3", "l1", "c1", "f1"),
		reserve("e4", "l1", "c1", "r2"),
	)
	res, err := s.ReservationStatus("r2")
	if err != nil {
		t.Fatalf("expected r2 created after clearing: %v", err)
	}
	if res.Status != domain.ReservationCreatedStatus {
		t.Fatalf("expected CREATED, got %s", res.Status)
	}
	comp, _ = s.CompartmentStatus("c1")
	if comp.Degraded {
		t.Fatalf("expected compartment cleared")
	}
}

func TestLowSeverityFaultDoesNotDegrade(t *testing.T) {
	s := projection.NewState()
	apply(s,
		register("e1", "l1", "c1"),
		fault("f1", "l1", "c1", 1),
		reserve("e2", "l1", "c1", "r1"),
	)
	if _, err := s.ReservationStatus("r1"); err != nil {
		t.Fatalf("low severity fault must not block reservations: %v", err)
	}
}

func TestDegradedIsRecomputedOnClear(t *testing.T) {
	s := projection.NewState()
	apply(s,
		register("e1", "l1", "c1"),
		fault("f1", "l1", "c1", 3),
		fault("f2", "l1", "c1", 4),
		clear("e2", "l1", "c1", "f1"),
	)
	comp, _ := s.CompartmentStatus("c1")
	if !comp.Degraded {
		t.Fatalf("expected still degraded while f2 is open")
	}
	apply(s, clear("e3", "l1", "c1", "f2"))
	comp, _ = s.CompartmentStatus("c1")
	if comp.Degraded {
		t.Fatalf("expected degraded cleared once last severe fault closed")
	}
}

func TestFaultClearGuards(t *testing.T) {
	s := projection.NewState()
	apply(s,
		register("e1", "l1", "c1"),
		register("e2", "l1", "c2"),
		fault("f1", "l1", "c1", 3),
		clear("x1", "l1", "c2", "f1"),   // wrong compartment, ignored
		clear("x2", "l1", "c1", "nope"), // unknown fault, ignored
	)
	comp, _ := s.CompartmentStatus("c1")
	if !comp.Degraded {
		t.Fatalf("guarded clears must not affect the fault")
	}
	apply(s,
		clear("x3", "l1", "c1", "f1"),
		clear("x4", "l1", "c1", "f1"), // already cleared, ignored
	)
	comp, _ = s.CompartmentStatus("c1")
	if comp.Degraded {
		t.Fatalf("expected degraded cleared")
	}
}

func TestFaultAgainstUnknownCompartment(t *testing.T) {
	// Recorded but attached to nothing; the locker still appears, untouched.
	s := projection.NewState()
	apply(s, fault("f1", "l1", "ghost", 5))
	summary, err := s.LockerSummary("l1")
	if err != nil {
		t.Fatalf("locker should exist after any event naming it: %v", err)
	}
	if summary.DegradedCompartments != 0 {
		t.Fatalf("fault on unregistered compartment must not degrade anything")
	}
	if _, err := s.CompartmentStatus("ghost"); err == nil {
		t.Fatalf("unregistered compartment must stay unknown")
	}
}

func TestApplyIdempotent(t *testing.T) {
	s := projection.NewState()
	apply(s, register("e1", "l1", "c1"))
	before, _ := s.LockerSummary("l1")
	// same event id with a different payload must be a no-op
	apply(s, reserve("e1", "l1", "c1", "r1"))
	after, _ := s.LockerSummary("l1")
	if before.StateHash != after.StateHash {
		t.Fatalf("re-applying a seen event id changed state")
	}
	if _, err := s.ReservationStatus("r1"); err == nil {
		t.Fatalf("duplicate event id must not create entities")
	}
}

func TestRebuildMatchesIncremental(t *testing.T) {
	events := []domain.Event{
		register("e1", "l1", "c1"),
		register("e2", "l1", "c2"),
		reserve("e3", "l1", "c1", "r1"),
		deposit("e4", "l1", "r1"),
		fault("f1", "l1", "c2", 3),
		pickup("e5", "l1", "r1"),
		reserve("e6", "l1", "c2", "r2"), // ignored, degraded
		clear("e7", "l1", "c2", "f1"),
		reserve("e8", "l1", "c2", "r3"),
		expire("e9", "l1", "r3"),
		register("e10", "l2", "c3"),
		reserve("e11", "l2", "c3", "r4"),
	}
	incremental := projection.NewState()
	for _, ev := range events {
		incremental.Apply(ev)
	}
	rebuilt := projection.NewState()
	// noise before the rebuild must not matter
	rebuilt.Apply(register("z1", "l9", "c9"))
	rebuilt.Rebuild(events)

	for _, lockerID := range []string{"l1", "l2"} {
		a, err := incremental.LockerSummary(lockerID)
		if err != nil {
			t.Fatalf("incremental summary %s: %v", lockerID, err)
		}
		b, err := rebuilt.LockerSummary(lockerID)
		if err != nil {
			t.Fatalf("rebuilt summary %s: %v", lockerID, err)
		}
		if a.StateHash != b.StateHash {
			t.Fatalf("locker %s: rebuild hash %s != incremental hash %s", lockerID, b.StateHash, a.StateHash)
		}
	}
	if _, err := rebuilt.LockerSummary("l9"); err == nil {
		t.Fatalf("rebuild must discard prior state")
	}
}

func TestStateHashIgnoresRegistrationOrder(t *testing.T) {
	a := projection.NewState()
	b := projection.NewState()
	for i := 0; i < 5; i++ {
		a.Apply(register(fmt.Sprintf("a%d", i), "l1", fmt.Sprintf("c%d", i)))
	}
	for i := 4; i >= 0; i-- {
		b.Apply(register(fmt.Sprintf("b%d", i), "l1", fmt.Sprintf("c%d", i)))
	}
	sa, _ := a.LockerSummary("l1")
	sb, _ := b.LockerSummary("l1")
	if sa.StateHash != sb.StateHash {
		t.Fatalf("hash depends on processing order: %s vs %s", sa.StateHash, sb.StateHash)
	}
}

func TestReadViewsNotFound(t *testing.T) {
	s := projection.NewState()
	if _, err := s.LockerSummary("l1"); err != projection.ErrNotFound {
		t.Fatalf("expected ErrNotFound for locker, got %v", err)
	}
	if _, err := s.CompartmentStatus("c1"); err != projection.ErrNotFound {
		t.Fatalf("expected ErrNotFound for compartment, got %v", err)
	}
	if _, err := s.ReservationStatus("r1"); err != projection.ErrNotFound {
		t.Fatalf("expected ErrNotFound for reservation, got %v", err)
	}
}

func TestFaultSeverityDefaultsToOne(t *testing.T) {
	s := projection.NewState()
	apply(s,
		register("e1", "l1", "c1"),
		evt("f1", "l1", domain.TypeFaultReported, map[string]any{"compartment_id": "c1"}),
	)
	comp, _ := s.CompartmentStatus("c1")
	if comp.Degraded {
		t.Fatalf("default severity 1 must not degrade")
	}
}
