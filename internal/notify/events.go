// Package notify delivers fire-and-forget events to the external push
// collaborator. Delivery failure never affects the triggering transaction.
package notify

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// EventType enumerates notification events.
type EventType string

const (
	EventNewDeposit          EventType = "new_deposit"
	EventDepositExpired      EventType = "deposit_expired"
	EventWithdrawalCompleted EventType = "withdrawal_completed"
)

// TaskTypePush is the asynq task carrying one notification event.
const TaskTypePush = "notify:push"

// Event is the payload handed to the push collaborator.
type Event struct {
	ID      string         `json:"id"`
	Type    EventType      `json:"type"`
	StoreID int64          `json:"store_id"`
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Data    map[string]any `json:"data,omitempty"`
}

// NewEvent builds an event with a fresh id.
func NewEvent(eventType EventType, storeID int64, title, body string, data map[string]any) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    eventType,
		StoreID: storeID,
		Title:   title,
		Body:    body,
		Data:    data,
	}
}

// NewPushTask constructs the asynq task for an event.
func NewPushTask(evt Event) (*asynq.Task, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypePush, body), nil
}
