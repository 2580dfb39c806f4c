package server

import (
	"lockerline/internal/domain"
)

// Request payloads

// IngestEventRequest is the wire shape of one domain event. Required fields
// and the type enumeration are enforced by schema validation before the
// core ever sees the event.
type IngestEventRequest struct {
	EventID    string         `json:"event_id" minLength:"1" doc:"Globally unique event identifier (dedup key)"`
	OccurredAt string         `json:"occurred_at,omitempty" format:"date-time" doc:"Informational timestamp, stamped server-side when omitted; append order is authoritative"`
	LockerID   string         `json:"locker_id" minLength:"1"`
	Type       string         `json:"type" enum:"CompartmentRegistered,ReservationCreated,ParcelDeposited,ParcelPickedUp,ReservationExpired,FaultReported,FaultCleared"`
	Payload    map[string]any `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

// Event converts the request to the domain event, payload verbatim.
func (r IngestEventRequest) Event() domain.Event {
	payload := r.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return domain.Event{
		EventID:    r.EventID,
		OccurredAt: r.OccurredAt,
		LockerID:   r.LockerID,
		Type:       domain.EventType(r.Type),
		Payload:    payload,
	}
}

// Response payloads

type IngestEventResponse struct {
	EventID  string `json:"event_id"`
	Accepted bool   `json:"accepted" doc:"False when the event_id was already recorded"`
}

type IngestEventOutput struct {
	Status int
	Body   IngestEventResponse `json:"body"`
}

type eventList struct {
	Items []domain.Event `json:"items"`
}

func eventItems(events []domain.Event) []domain.Event {
	if events == nil {
		return []domain.Event{}
	}
	return events
}
