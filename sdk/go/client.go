package lockerlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Lockerline HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Event is the wire shape of one domain event.
type Event struct {
	EventID    string         `json:"event_id"`
	OccurredAt string         `json:"occurred_at"`
	LockerID   string         `json:"locker_id"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
}

// IngestResult reports whether the event was newly accepted.
type IngestResult struct {
	EventID  string `json:"event_id"`
	Accepted bool   `json:"accepted"`
}

// LockerSummary mirrors the locker summary view.
type LockerSummary struct {
	LockerID             string `json:"locker_id"`
	Compartments         int    `json:"compartments"`
	ActiveReservations   int    `json:"active_reservations"`
	DegradedCompartments int    `json:"degraded_compartments"`
	StateHash            string `json:"state_hash"`
}

// CompartmentStatus mirrors the compartment status view.
type CompartmentStatus struct {
	CompartmentID     string  `json:"compartment_id"`
	Degraded          bool    `json:"degraded"`
	ActiveReservation *string `json:"active_reservation"`
}

// ReservationStatus mirrors the reservation status view.
type ReservationStatus struct {
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Ingest submits one event. Accepted is false for a duplicate event_id.
func (c *Client) Ingest(ctx context.Context, ev Event) (IngestResult, error) {
	var resp IngestResult
	err := c.do(ctx, http.MethodPost, "v0/events", ev, &resp)
	return resp, err
}

// LockerSummary fetches the summary view for one locker.
func (c *Client) LockerSummary(ctx context.Context, lockerID string) (LockerSummary, error) {
	var resp LockerSummary
	endpoint := fmt.Sprintf("v0/lockers/%s", url.PathEscape(lockerID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompartmentStatus fetches the status view for one compartment.
func (c *Client) CompartmentStatus(ctx context.Context, lockerID, compartmentID string) (CompartmentStatus, error) {
	var resp CompartmentStatus
	endpoint := fmt.Sprintf("v0/lockers/%s/compartments/%s", url.PathEscape(lockerID), url.PathEscape(compartmentID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ReservationStatus fetches the lifecycle status of one reservation.
func (c *Client) ReservationStatus(ctx context.Context, reservationID string) (ReservationStatus, error) {
	var resp ReservationStatus
	endpoint := fmt.Sprintf("v0/reservations/%s", url.PathEscape(reservationID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent log records.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
