// Package queue is the durable job queue: it hands each queued line item to
// at most one claimant, tracks it through execution and keeps the owning
// order's status consistent with its line items.
//
// Every mutating operation runs as one gorm transaction and appends exactly
// one event log entry inside it. Exclusive claims rely on a conditional
// UPDATE plus its affected-row count; a lost race is reported as "no job",
// never as an error.
package queue

import (
	"errors"
	"fmt"
	"strings"

	"sorter/internal/apperr"
	"sorter/internal/model"

	"gorm.io/gorm"
)

// DefaultListLimit caps ListActive when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Job is a line item together with its order id, as handed to a claimant.
type Job struct {
	OrderID    int64        `json:"order_id"`
	LineItemID int64        `json:"line_item_id"`
	ItemClass  string       `json:"item_class"`
	TargetBin  string       `json:"target_bin"`
	Quantity   int          `json:"quantity"`
	Priority   int          `json:"priority"`
	Status     model.Status `json:"status"`
}

// Queue wraps a store handle. It holds no other state, so any number of
// Queues over the same database are safe to use concurrently.
type Queue struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

// jobColumns projects line_items (li) joined with orders (o) onto Job.
const jobColumns = "li.order_id, li.id AS line_item_id, li.item_class, li.target_bin, li.quantity, li.priority, li.status"

var activeOrderStatuses = []model.Status{model.StatusQueued, model.StatusRunning}

func activeJobs(tx *gorm.DB) *gorm.DB {
	return tx.Table("line_items AS li").
		Select(jobColumns).
		Joins("JOIN orders o ON o.id = li.order_id").
		Where("o.status IN ?", activeOrderStatuses)
}

func appendEvent(tx *gorm.DB, userID *int64, action, detail string) error {
	entry := &model.EventLog{UserID: userID, Action: action}
	if d := strings.TrimSpace(detail); d != "" {
		entry.Detail = &d
	}
	if err := tx.Omit("User").Create(entry).Error; err != nil {
		return storeErr("append event "+action, err)
	}
	return nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("queue: %s: %w: %w", op, apperr.ErrStore, err)
}

// classify keeps errors that already carry a kind and marks everything else
// (begin/commit failures, driver errors) as a store failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{apperr.ErrInvalidArgument, apperr.ErrInvalidTransition, apperr.ErrStore, apperr.ErrNotFound} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return storeErr(op, err)
}

func jobDetail(orderID, lineItemID int64) string {
	return fmt.Sprintf("ordre=%d, linje=%d", orderID, lineItemID)
}
