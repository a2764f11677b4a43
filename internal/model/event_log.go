package model

import "time"

// Audit actions written by the queue.
const (
	ActionOrderCreated = "ORDER_CREATED"
	ActionJobClaimed   = "JOB_CLAIMED"
	ActionJobDone      = "JOB_DONE"
	ActionJobFailed    = "JOB_FAILED"
	ActionJobsReset    = "JOBS_RESET"
)

// EventLog 是只追加的审计记录，核心流程只写不读。
type EventLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp time.Time `gorm:"autoCreateTime;not null" json:"timestamp"`
	UserID    *int64    `gorm:"index" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"-"`
	Action    string    `gorm:"size:64;not null" json:"action"`
	Detail    *string   `gorm:"type:text" json:"detail"`
}

func (EventLog) TableName() string { return "event_logs" }
