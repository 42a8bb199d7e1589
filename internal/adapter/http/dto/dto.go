package dto

import (
	"encoding/json"

	"crm-webhook-engine/internal/core/domain"
)

// EmitEventRequest is the request body for emitting a CRM event.
type EmitEventRequest struct {
	Event string          `json:"event" binding:"required,event_name"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// EmitEventHeaders carries the optional idempotency key of an emit.
type EmitEventHeaders struct {
	IdempotencyKey string `header:"Idempotency-Key" binding:"omitempty,max=128,safe_id"`
}

// EmitEventQuery selects synchronous dispatch.
type EmitEventQuery struct {
	Wait bool `form:"wait"`
}

// QueuedResponse is returned when an event was handed to the dispatch queue.
type QueuedResponse struct {
	Queued bool `json:"queued"`
}

// RetryRequest is the request body for a manual retry.
type RetryRequest struct {
	Event string          `json:"event" binding:"required,event_name"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SubscriptionURI binds the :id path parameter.
type SubscriptionURI struct {
	ID string `uri:"id" binding:"required,uuid"`
}

// LogURI binds the :id and :logId path parameters.
type LogURI struct {
	ID    string `uri:"id" binding:"required,uuid"`
	LogID string `uri:"logId" binding:"required,uuid"`
}

// ListLogsQuery binds the log listing page size.
type ListLogsQuery struct {
	Limit int `form:"limit" binding:"omitempty,min=1"`
}

// SearchRequest is the request body for the global search.
type SearchRequest struct {
	Query   string                `json:"query" binding:"max=256"`
	Filters *domain.SearchFilters `json:"filters,omitempty"`
}

// ProviderURI binds the :provider path parameter.
type ProviderURI struct {
	Provider string `uri:"provider" binding:"required,safe_id"`
}

// ValidateCredentialsRequest carries provider credential values keyed by field.
type ValidateCredentialsRequest struct {
	Credentials map[string]string `json:"credentials" binding:"required"`
}

// ValidateCredentialsResponse reports successful validation.
type ValidateCredentialsResponse struct {
	Provider string `json:"provider"`
	Valid    bool   `json:"valid"`
}

// ProviderResponse describes one integration provider and its fields.
type ProviderResponse struct {
	ID     string             `json:"id"`
	Fields []domain.FieldSpec `json:"fields"`
}

// EventData converts an optional raw JSON body field into dispatchable data.
// Absent or null data becomes nil, which is delivered as {}.
func EventData(raw json.RawMessage) any {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
