package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AnalyticsEvent is an append-only usage event.
type AnalyticsEvent struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	EventData json.RawMessage `json:"event_data,omitempty"`
	UserID    *string         `json:"user_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
