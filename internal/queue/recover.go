package queue

import (
	"context"
	"fmt"

	"sorter/internal/model"

	"gorm.io/gorm"
)

// Recovered counts the rows RecoverStuck put back in the queue.
type Recovered struct {
	LineItems int64 `json:"line_items"`
	Orders    int64 `json:"orders"`
}

// RecoverStuck puts every Running line item and order back to Queued.
// It cannot tell a stranded job from one still executing, so it must only
// run when no claim is outstanding: at process start or on operator request.
func (q *Queue) RecoverStuck(ctx context.Context, userID *int64) (Recovered, error) {
	var out Recovered
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.LineItem{}).
			Where("status = ?", model.StatusRunning).
			Update("status", model.StatusQueued)
		if res.Error != nil {
			return storeErr("reset line items", res.Error)
		}
		out.LineItems = res.RowsAffected

		res = tx.Model(&model.Order{}).
			Where("status = ?", model.StatusRunning).
			Update("status", model.StatusQueued)
		if res.Error != nil {
			return storeErr("reset orders", res.Error)
		}
		out.Orders = res.RowsAffected

		return appendEvent(tx, userID, model.ActionJobsReset,
			fmt.Sprintf("ordrelinjer=%d, ordrer=%d", out.LineItems, out.Orders))
	})
	if err != nil {
		return Recovered{}, classify("recover stuck", err)
	}
	return out, nil
}
