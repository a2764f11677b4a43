package queue

import (
	"context"
	"fmt"

	"sorter/internal/apperr"
	"sorter/internal/model"

	"gorm.io/gorm"
)

// Completion reports the outcome of a claimed line item.
type Completion struct {
	OrderID    int64
	LineItemID int64
	Outcome    model.Status // Done or Failed
	UserID     *int64
	Detail     string
}

// Complete moves a Running line item to its outcome and reconciles the
// order: Failed fails the order at once, Done finishes it only when every
// sibling is Done. A line item that is not Running (never claimed, already
// completed, or not part of OrderID) yields ErrInvalidTransition and no
// write. The order status after the update is returned.
func (q *Queue) Complete(ctx context.Context, c Completion) (model.Status, error) {
	var action string
	switch c.Outcome {
	case model.StatusDone:
		action = model.ActionJobDone
	case model.StatusFailed:
		action = model.ActionJobFailed
	default:
		return "", fmt.Errorf("%w: outcome must be Done or Failed, got %q", apperr.ErrInvalidArgument, string(c.Outcome))
	}

	var orderStatus model.Status
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.LineItem{}).
			Where("id = ? AND order_id = ? AND status = ?", c.LineItemID, c.OrderID, model.StatusRunning).
			Update("status", c.Outcome)
		if res.Error != nil {
			return storeErr("finish line item", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: line item %d of order %d is not Running", apperr.ErrInvalidTransition, c.LineItemID, c.OrderID)
		}

		order := tx.Model(&model.Order{}).Where("id = ?", c.OrderID)
		if c.Outcome == model.StatusDone {
			order = order.Where("NOT EXISTS (SELECT 1 FROM line_items WHERE order_id = ? AND status <> ?)", c.OrderID, model.StatusDone)
		}
		if err := order.Update("status", c.Outcome).Error; err != nil {
			return storeErr("reconcile order", err)
		}

		var o model.Order
		if err := tx.Select("status").Where("id = ?", c.OrderID).Take(&o).Error; err != nil {
			return storeErr("read order", err)
		}
		orderStatus = o.Status

		detail := c.Detail
		if detail == "" {
			detail = jobDetail(c.OrderID, c.LineItemID)
		}
		return appendEvent(tx, c.UserID, action, detail)
	})
	if err != nil {
		return "", classify("complete", err)
	}
	return orderStatus, nil
}
