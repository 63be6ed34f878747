package amqp

import (
	"encoding/json"
	"time"

	"finrank/internal/core"
)

// ScoreEventMessage is the wire form of a score event published by the
// finance services.
type ScoreEventMessage struct {
	EventID     string    `json:"event_id,omitempty"`
	Kind        string    `json:"kind"`
	UserID      string    `json:"user_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	BasePoints  int64     `json:"base_points,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

func NewScoreEventMessage(ev core.ScoreEvent) *ScoreEventMessage {
	return &ScoreEventMessage{
		EventID:     ev.ID,
		Kind:        string(ev.Kind),
		UserID:      ev.UserID,
		OccurredAt:  ev.OccurredAt.UTC(),
		BasePoints:  ev.BasePoints,
		PublishedAt: time.Now().UTC(),
	}
}

// ToEvent converts the message back into a score event. The event is not
// validated here.
func (m *ScoreEventMessage) ToEvent() core.ScoreEvent {
	return core.ScoreEvent{
		ID:         m.EventID,
		Kind:       core.EventKind(m.Kind),
		UserID:     m.UserID,
		OccurredAt: m.OccurredAt,
		BasePoints: m.BasePoints,
	}
}

func (m *ScoreEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ScoreEventMessageFromJSON(data []byte) (*ScoreEventMessage, error) {
	var msg ScoreEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
