package domain

import (
	"encoding/json"
	"fmt"
)

// EventType enumerates the locker lifecycle event vocabulary.
type EventType string

const (
	TypeCompartmentRegistered EventType = "CompartmentRegistered"
	TypeReservationCreated    EventType = "ReservationCreated"
	TypeParcelDeposited       EventType = "ParcelDeposited"
	TypeParcelPickedUp        EventType = "ParcelPickedUp"
	TypeReservationExpired    EventType = "ReservationExpired"
	TypeFaultReported         EventType = "FaultReported"
	TypeFaultCleared          EventType = "FaultCleared"
)

// EventTypes lists every known event type in a stable order.
func EventTypes() []EventType {
	return []EventType{
		TypeCompartmentRegistered,
		TypeReservationCreated,
		TypeParcelDeposited,
		TypeParcelPickedUp,
		TypeReservationExpired,
		TypeFaultReported,
		TypeFaultCleared,
	}
}

// Known reports whether t is part of the event vocabulary.
func (t EventType) Known() bool {
	for _, k := range EventTypes() {
		if t == k {
			return true
		}
	}
	return false
}

// Event is an immutable fact about one locker. EventID is the global dedup
// key; OccurredAt is informational only, log append order is authoritative.
// Payload carries the type-specific fields verbatim as submitted.
type Event struct {
	EventID    string         `json:"event_id"`
	OccurredAt string         `json:"occurred_at" format:"date-time"`
	LockerID   string         `json:"locker_id"`
	Type       EventType      `json:"type" enum:"CompartmentRegistered,ReservationCreated,ParcelDeposited,ParcelPickedUp,ReservationExpired,FaultReported,FaultCleared"`
	Payload    map[string]any `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

// Typed payload variants, one per event type. PayloadOf picks the variant
// for an event so transition rules never read stringly-typed maps.

type CompartmentRegistered struct {
	CompartmentID string `json:"compartment_id"`
}

type ReservationCreated struct {
	CompartmentID string `json:"compartment_id"`
	ReservationID string `json:"reservation_id"`
}

type ParcelDeposited struct {
	ReservationID string `json:"reservation_id"`
}

type ParcelPickedUp struct {
	ReservationID string `json:"reservation_id"`
}

type ReservationExpired struct {
	ReservationID string `json:"reservation_id"`
}

type FaultReported struct {
	CompartmentID string `json:"compartment_id"`
	Severity      *int   `json:"severity,omitempty"`
}

type FaultCleared struct {
	CompartmentID string `json:"compartment_id"`
	FaultEventID  string `json:"fault_event_id"`
}

// PayloadOf decodes the event's payload map into its typed variant.
func PayloadOf(e Event) (any, error) {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	decode := func(dst any) error {
		if err := json.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.Type, err)
		}
		return nil
	}
	switch e.Type {
	case TypeCompartmentRegistered:
		var p CompartmentRegistered
		err := decode(&p)
		return p, err
	case TypeReservationCreated:
		var p ReservationCreated
		err := decode(&p)
		return p, err
	case TypeParcelDeposited:
		var p ParcelDeposited
		err := decode(&p)
		return p, err
	case TypeParcelPickedUp:
		var p ParcelPickedUp
		err := decode(&p)
		return p, err
	case TypeReservationExpired:
		var p ReservationExpired
		err := decode(&p)
		return p, err
	case TypeFaultReported:
		var p FaultReported
		err := decode(&p)
		return p, err
	case TypeFaultCleared:
		var p FaultCleared
		err := decode(&p)
		return p, err
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// ReservationLifecycle is the reservation status enumeration. PickedUp and
// Expired are terminal.
type ReservationLifecycle string

const (
	ReservationCreatedStatus   ReservationLifecycle = "CREATED"
	ReservationDepositedStatus ReservationLifecycle = "DEPOSITED"
	ReservationPickedUpStatus  ReservationLifecycle = "PICKED_UP"
	ReservationExpiredStatus   ReservationLifecycle = "EXPIRED"
)

// Terminal reports whether no further transitions are accepted.
func (s ReservationLifecycle) Terminal() bool {
	return s == ReservationPickedUpStatus || s == ReservationExpiredStatus
}

// Read views.

type LockerSummary struct {
	LockerID             string `json:"locker_id"`
	Compartments         int    `json:"compartments"`
	ActiveReservations   int    `json:"active_reservations"`
	DegradedCompartments int    `json:"degraded_compartments"`
	StateHash            string `json:"state_hash"`
}

type CompartmentStatus struct {
	CompartmentID     string  `json:"compartment_id"`
	Degraded          bool    `json:"degraded"`
	ActiveReservation *string `json:"active_reservation"`
}

type ReservationStatus struct {
	ReservationID string               `json:"reservation_id"`
	Status        ReservationLifecycle `json:"status" enum:"CREATED,DEPOSITED,PICKED_UP,EXPIRED"`
}

// ReplayReport is the result of comparing the live projection against a
// fresh rebuild of the full log.
type ReplayReport struct {
	Consistent bool     `json:"consistent"`
	Lockers    int      `json:"lockers"`
	Events     int      `json:"events"`
	Mismatched []string `json:"mismatched,omitempty"`
}
