package projection

import (
	"errors"

	"lockerline/internal/domain"
)

var ErrNotFound = errors.New("not found")

type locker struct {
	compartments         map[string]struct{}
	activeReservations   map[string]struct{}
	degradedCompartments map[string]struct{}
}

type compartment struct {
	lockerID          string
	degraded          bool
	activeReservation string
	faults            map[string]struct{}
}

type reservation struct {
	compartmentID string
	lockerID      string
	status        domain.ReservationLifecycle
}

// A fault is keyed by the event ID of its FaultReported event.
type fault struct {
	compartmentID string
	severity      int
	cleared       bool
}

// State is the projected view of the event log. It is constructed empty,
// mutated only through Apply, and replaced wholesale by Rebuild. It is not
// safe for concurrent use; callers serialize access.
type State struct {
	lockers      map[string]*locker
	compartments map[string]*compartment
	reservations map[string]*reservation
	faults       map[string]*fault
	applied      map[string]struct{}
}

func NewState() *State {
	return &State{
		lockers:      make(map[string]*locker),
		compartments: make(map[string]*compartment),
		reservations: make(map[string]*reservation),
		faults:       make(map[string]*fault),
		applied:      make(map[string]struct{}),
	}
}

// Rebuild resets to empty state and applies every event in order.
func (s *State) Rebuild(events []domain.Event) {
	*s = *NewState()
	for _, ev := range events {
		s.Apply(ev)
	}
}

// Apply folds one event into the state. It is idempotent: an event ID that
// was already applied is a no-op. Events whose preconditions fail are
// silently ignored but still marked as seen; the log keeps the full record
// of what was submitted either way.
func (s *State) Apply(ev domain.Event) {
	if _, ok := s.applied[ev.EventID]; ok {
		return
	}
	s.applied[ev.EventID] = struct{}{}

	l := s.lockerFor(ev.LockerID)
	payload, err := domain.PayloadOf(ev)
	if err != nil {
		// Structurally invalid payloads are the transport's concern; at
		// this layer they fall in the silent-ignore tier.
		return
	}

	switch p := payload.(type) {
	case domain.CompartmentRegistered:
		s.applyCompartmentRegistered(ev.LockerID, l, p)
	case domain.ReservationCreated:
		s.applyReservationCreated(ev.LockerID, l, p)
	case domain.ParcelDeposited:
		s.applyParcelDeposited(p)
	case domain.ParcelPickedUp:
		s.applyParcelPickedUp(p)
	case domain.ReservationExpired:
		s.applyReservationExpired(p)
	case domain.FaultReported:
		s.applyFaultReported(ev.EventID, l, p)
	case domain.FaultCleared:
		s.applyFaultCleared(l, p)
	}
}

// Applied reports whether the event ID has already been folded in.
func (s *State) Applied(eventID string) bool {
	_, ok := s.applied[eventID]
	return ok
}

func (s *State) lockerFor(lockerID string) *locker {
	l, ok := s.lockers[lockerID]
	if !ok {
		l = &locker{
			compartments:         make(map[string]struct{}),
			activeReservations:   make(map[string]struct{}),
			degradedCompartments: make(map[string]struct{}),
		}
		s.lockers[lockerID] = l
	}
	return l
}

func (s *State) applyCompartmentRegistered(lockerID string, l *locker, p domain.CompartmentRegistered) {
	if _, ok := s.compartments[p.CompartmentID]; ok {
		// Re-registration must not wipe reservations or fault state.
		l.compartments[p.CompartmentID] = struct{}{}
		return
	}
	l.compartments[p.CompartmentID] = struct{}{}
	s.compartments[p.CompartmentID] = &compartment{
		lockerID: lockerID,
		faults:   make(map[string]struct{}),
	}
}

func (s *State) applyReservationCreated(lockerID string, l *locker, p domain.ReservationCreated) {
	comp, ok := s.compartments[p.CompartmentID]
	if !ok {
		return
	}
	if comp.activeReservation != "" {
		return
	}
	if comp.degraded {
		return
	}
	comp.activeReservation = p.ReservationID
	l.activeReservations[p.ReservationID] = struct{}{}
	s.reservations[p.ReservationID] = &reservation{
		compartmentID: p.CompartmentID,
		lockerID:      lockerID,
		status:        domain.ReservationCreatedStatus,
	}
}

func (s *State) applyParcelDeposited(p domain.ParcelDeposited) {
	res, ok := s.reservations[p.ReservationID]
	if !ok {
		return
	}
	if res.status != domain.ReservationCreatedStatus {
		return
	}
	res.status = domain.ReservationDepositedStatus
}

func (s *State) applyParcelPickedUp(p domain.ParcelPickedUp) {
	res, ok := s.reservations[p.ReservationID]
	if !ok {
		return
	}
	if res.status != domain.ReservationDepositedStatus {
		return
	}
	res.status = domain.ReservationPickedUpStatus
	s.releaseReservation(p.ReservationID, res)
}

func (s *State) applyReservationExpired(p domain.ReservationExpired) {
	res, ok := s.reservations[p.ReservationID]
	if !ok {
		return
	}
	if res.status.Terminal() {
		return
	}
	res.status = domain.ReservationExpiredStatus
	s.releaseReservation(p.ReservationID, res)
}

func (s *State) releaseReservation(reservationID string, res *reservation) {
	if comp, ok := s.compartments[res.compartmentID]; ok && comp.activeReservation == reservationID {
		comp.activeReservation = ""
	}
	delete(s.lockers[res.lockerID].activeReservations, reservationID)
}

func (s *State) applyFaultReported(eventID string, l *locker, p domain.FaultReported) {
	severity := 1
	if p.Severity != nil {
		severity = *p.Severity
	}
	s.faults[eventID] = &fault{compartmentID: p.CompartmentID, severity: severity}
	// A fault against an unregistered compartment is recorded but attaches
	// to nothing until a compartment of that ID exists.
	comp, ok := s.compartments[p.CompartmentID]
	if !ok {
		return
	}
	comp.faults[eventID] = struct{}{}
	if severity >= 3 {
		comp.degraded = true
		l.degradedCompartments[p.CompartmentID] = struct{}{}
	}
}

func (s *State) applyFaultCleared(l *locker, p domain.FaultCleared) {
	f, ok := s.faults[p.FaultEventID]
	if !ok {
		return
	}
	if f.compartmentID != p.CompartmentID {
		return
	}
	if f.cleared {
		return
	}
	f.cleared = true
	comp, ok := s.compartments[p.CompartmentID]
	if !ok {
		return
	}
	delete(comp.faults, p.FaultEventID)
	// Degraded is a derived predicate over the live open-fault set, not a
	// sticky flag: recompute it from what remains open.
	still := false
	for id := range comp.faults {
		if of, ok := s.faults[id]; ok && !of.cleared && of.severity >= 3 {
			still = true
			break
		}
	}
	if !still {
		comp.degraded = false
		delete(l.degradedCompartments, p.CompartmentID)
	}
}

// LockerSummary returns counts and the deterministic state hash for one locker.
func (s *State) LockerSummary(lockerID string) (domain.LockerSummary, error) {
	l, ok := s.lockers[lockerID]
	if !ok {
		return domain.LockerSummary{}, ErrNotFound
	}
	hash, err := stateHash(l)
	if err != nil {
		return domain.LockerSummary{}, err
	}
	return domain.LockerSummary{
		LockerID:             lockerID,
		Compartments:         len(l.compartments),
		ActiveReservations:   len(l.activeReservations),
		DegradedCompartments: len(l.degradedCompartments),
		StateHash:            hash,
	}, nil
}

// CompartmentStatus returns the degraded flag and active reservation, if any.
func (s *State) CompartmentStatus(compartmentID string) (domain.CompartmentStatus, error) {
	comp, ok := s.compartments[compartmentID]
	if !ok {
		return domain.CompartmentStatus{}, ErrNotFound
	}
	status := domain.CompartmentStatus{
		CompartmentID: compartmentID,
		Degraded:      comp.degraded,
	}
	if comp.activeReservation != "" {
		active := comp.activeReservation
		status.ActiveReservation = &active
	}
	return status, nil
}

// ReservationStatus returns the current lifecycle status.
func (s *State) ReservationStatus(reservationID string) (domain.ReservationStatus, error) {
	res, ok := s.reservations[reservationID]
	if !ok {
		return domain.ReservationStatus{}, ErrNotFound
	}
	return domain.ReservationStatus{
		ReservationID: reservationID,
		Status:        res.status,
	}, nil
}

// LockerIDs lists every locker the projection knows about.
func (s *State) LockerIDs() []string {
	ids := make([]string, 0, len(s.lockers))
	for id := range s.lockers {
		ids = append(ids, id)
	}
	return ids
}
