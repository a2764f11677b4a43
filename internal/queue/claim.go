package queue

import (
	"context"
	"errors"

	"sorter/internal/model"

	"gorm.io/gorm"
)

var errLostRace = errors.New("claim lost race")

// ClaimNext reserves the most urgent queued line item (highest priority,
// then lowest id) whose order is still active, flipping it to Running.
// It returns nil, nil when nothing is queued or when a concurrent claimant
// took the candidate first; the caller may simply call again.
func (q *Queue) ClaimNext(ctx context.Context, userID *int64) (*Job, error) {
	var claimed *Job
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []Job
		err := activeJobs(tx).
			Where("li.status = ?", model.StatusQueued).
			Order("li.priority DESC, li.id ASC").
			Limit(1).
			Scan(&candidates).Error
		if err != nil {
			return storeErr("select next", err)
		}
		if len(candidates) == 0 {
			return nil
		}
		job := candidates[0]

		// compare-and-swap: only a still-Queued row may be taken
		res := tx.Model(&model.LineItem{}).
			Where("id = ? AND status = ?", job.LineItemID, model.StatusQueued).
			Update("status", model.StatusRunning)
		if res.Error != nil {
			return storeErr("reserve line item", res.Error)
		}
		if res.RowsAffected != 1 {
			return errLostRace
		}

		err = tx.Model(&model.Order{}).
			Where("id = ? AND status = ?", job.OrderID, model.StatusQueued).
			Update("status", model.StatusRunning).Error
		if err != nil {
			return storeErr("start order", err)
		}

		if err := appendEvent(tx, userID, model.ActionJobClaimed, jobDetail(job.OrderID, job.LineItemID)); err != nil {
			return err
		}

		job.Status = model.StatusRunning
		claimed = &job
		return nil
	})
	if errors.Is(err, errLostRace) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("claim next", err)
	}
	return claimed, nil
}
