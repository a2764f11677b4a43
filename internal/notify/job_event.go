// Package notify fans job lifecycle events out to other systems. Events are
// appended to a Redis stream (the outbox) next to each state change; a
// relay forwards them to Kafka and acks the stream entry only after the
// publish succeeded.
package notify

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	ActionOrderCreated = "order.created"
	ActionClaimed      = "job.claimed"
	ActionDispatched   = "job.dispatched"
	ActionDone         = "job.done"
	ActionFailed       = "job.failed"
	ActionReset        = "jobs.reset"
)

// JobEvent 是写入 outbox / Kafka 的任务状态事件。
type JobEvent struct {
	EventID    string    `json:"event_id"`
	Action     string    `json:"action"`
	OrderID    int64     `json:"order_id,omitempty"`
	LineItemID int64     `json:"line_item_id,omitempty"`
	UserID     int64     `json:"user_id,omitempty"` // 0: no acting user
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// NewJobEvent stamps a fresh event id and the current time.
func NewJobEvent(action string, orderID, lineItemID int64, userID *int64, detail string) JobEvent {
	ev := JobEvent{
		EventID:    uuid.NewString(),
		Action:     action,
		OrderID:    orderID,
		LineItemID: lineItemID,
		Detail:     detail,
		At:         time.Now().UTC(),
	}
	if userID != nil {
		ev.UserID = *userID
	}
	return ev
}

// Validate 做最小字段校验，防止 relay 转发脏消息。
func (e JobEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	switch e.Action {
	case ActionReset:
		return nil
	case ActionOrderCreated:
		if e.OrderID <= 0 {
			return fmt.Errorf("order_id is required")
		}
	case ActionClaimed, ActionDispatched, ActionDone, ActionFailed:
		if e.OrderID <= 0 {
			return fmt.Errorf("order_id is required")
		}
		if e.LineItemID <= 0 {
			return fmt.Errorf("line_item_id is required")
		}
	default:
		return fmt.Errorf("unknown action %q", e.Action)
	}
	if e.UserID < 0 {
		return fmt.Errorf("user_id must be >= 0")
	}
	return nil
}

// Key partitions events so one line item's history stays ordered.
func (e JobEvent) Key() string {
	if e.LineItemID > 0 {
		return fmt.Sprintf("line:%d", e.LineItemID)
	}
	if e.OrderID > 0 {
		return fmt.Sprintf("order:%d", e.OrderID)
	}
	return e.Action
}
