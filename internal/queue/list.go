package queue

import "context"

// ListActive returns the line items of every Queued or Running order:
// Running first, then by priority, then oldest first.
func (q *Queue) ListActive(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	jobs := make([]Job, 0, limit)
	err := activeJobs(q.db.WithContext(ctx)).
		Order("li.status DESC, li.priority DESC, li.id ASC").
		Limit(limit).
		Scan(&jobs).Error
	if err != nil {
		return nil, storeErr("list active", err)
	}
	return jobs, nil
}
