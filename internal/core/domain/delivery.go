package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// EventWebhookTest is the synthetic event sent by a test-send.
const EventWebhookTest = "webhook.test"

// SentAtLayout renders sentAt as UTC with millisecond precision.
const SentAtLayout = "2006-01-02T15:04:05.000Z"

// FallbackDeliveryError is logged when a failed attempt carries no transport error.
const FallbackDeliveryError = "delivery failed"

var eventNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// IsValidEventName reports whether s can be used as an event name, e.g. "proposal.sent".
func IsValidEventName(s string) bool {
	return eventNamePattern.MatchString(s)
}

// Payload is the exact body delivered to a receiver. Field order is part of
// the wire contract: the signature covers the serialised bytes.
type Payload struct {
	Event  string `json:"event"`
	Data   any    `json:"data"`
	SentAt string `json:"sentAt"`
}

// FormatSentAt renders a timestamp in the wire format.
func FormatSentAt(t time.Time) string {
	return t.UTC().Format(SentAtLayout)
}

// CanonicalPayload serialises {event, data, sentAt} to the bytes that are
// both signed and sent. HTML characters are not escaped and no trailing
// newline is emitted. A nil data value is sent as an empty object.
func CanonicalPayload(event string, data any, sentAt time.Time) (string, error) {
	if data == nil {
		data = map[string]any{}
	}
	if raw, ok := data.(json.RawMessage); ok && len(bytes.TrimSpace(raw)) == 0 {
		data = map[string]any{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Payload{Event: event, Data: data, SentAt: FormatSentAt(sentAt)}); err != nil {
		return "", fmt.Errorf("encode webhook payload: %w", err)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// DeliveryResult is the outcome of a single HTTP attempt. Status and
// StatusText are set only when a response was received; Error only on failure.
type DeliveryResult struct {
	OK           bool   `json:"ok"`
	Status       *int   `json:"status,omitempty"`
	StatusText   string `json:"statusText,omitempty"`
	ResponseBody string `json:"responseBody,omitempty"`
	DurationMs   int64  `json:"durationMs"`
	Error        string `json:"error,omitempty"`
}

// ErrorMessage returns the text persisted in the delivery log, or nil on success.
func (r DeliveryResult) ErrorMessage() *string {
	if r.OK {
		return nil
	}
	msg := r.Error
	if msg == "" {
		msg = FallbackDeliveryError
	}
	return &msg
}

// Attempt bundles everything produced by one delivery attempt.
type Attempt struct {
	SubscriptionID uuid.UUID      `json:"subscriptionId"`
	Event          string         `json:"event"`
	Payload        string         `json:"payload"`
	Signature      string         `json:"-"`
	SentAt         time.Time      `json:"sentAt"`
	Result         DeliveryResult `json:"result"`
}

// DeliveryLog is an append-only record of one attempt.
type DeliveryLog struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscriptionId"`
	TenantID       uuid.UUID `json:"tenantId"`
	EventType      string    `json:"eventType"`
	URL            string    `json:"url"`
	Payload        string    `json:"payload"`
	ResponseStatus *int      `json:"responseStatus"`
	StatusText     string    `json:"statusText,omitempty"`
	ResponseBody   string    `json:"responseBody,omitempty"`
	Success        bool      `json:"success"`
	DurationMs     int64     `json:"durationMs"`
	ErrorMessage   *string   `json:"errorMessage"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewDeliveryLog builds the log row for an attempt against a subscription.
func NewDeliveryLog(sub *Subscription, attempt *Attempt, createdAt time.Time) *DeliveryLog {
	return &DeliveryLog{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		EventType:      attempt.Event,
		URL:            sub.URL,
		Payload:        attempt.Payload,
		ResponseStatus: attempt.Result.Status,
		StatusText:     attempt.Result.StatusText,
		ResponseBody:   attempt.Result.ResponseBody,
		Success:        attempt.Result.OK,
		DurationMs:     attempt.Result.DurationMs,
		ErrorMessage:   attempt.Result.ErrorMessage(),
		CreatedAt:      createdAt,
	}
}

// StoredEvent recovers the event name and data carried by a logged payload.
func (l *DeliveryLog) StoredEvent() (string, json.RawMessage, error) {
	var p struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal([]byte(l.Payload), &p); err != nil {
		return "", nil, fmt.Errorf("decode logged payload: %w", err)
	}
	if p.Event == "" {
		p.Event = l.EventType
	}
	return p.Event, p.Data, nil
}

// DispatchResult is the only thing an emitter sees from a dispatch.
type DispatchResult struct {
	Dispatched int `json:"dispatched"`
}

// TestSendResult is returned by a test-send.
type TestSendResult struct {
	Result       DeliveryResult `json:"result"`
	Subscription *Subscription  `json:"subscription"`
}

// RetryResult is returned by a manual retry.
type RetryResult struct {
	Attempt *Attempt     `json:"attempt"`
	Log     *DeliveryLog `json:"log"`
}
