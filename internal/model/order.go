package model

import "time"

// Order 是操作员提交的一组分拣任务；状态由其 line items 聚合而来。
type Order struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	CreatedByID int64  `gorm:"not null;index" json:"created_by_id"`
	CreatedBy   *User  `gorm:"foreignKey:CreatedByID;constraint:OnDelete:RESTRICT" json:"-"`
	Status      Status `gorm:"type:varchar(16);not null;default:'Queued';index;check:chk_orders_status,status IN ('Queued','Running','Done','Failed')" json:"status"`
}

// 显式实现结构，确定表名
func (Order) TableName() string { return "orders" }
