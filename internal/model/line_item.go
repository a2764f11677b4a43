package model

import "time"

// LineItem is the unit of dispatch: one item class to one target bin.
// OrderID never changes after insert.
type LineItem struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OrderID   int64  `gorm:"not null;index" json:"order_id"`
	Order     *Order `gorm:"foreignKey:OrderID;constraint:OnDelete:RESTRICT" json:"-"`
	ItemClass string `gorm:"size:64;not null" json:"item_class"`
	TargetBin string `gorm:"size:64;not null" json:"target_bin"`
	Quantity  int    `gorm:"not null;check:chk_line_items_quantity,quantity > 0" json:"quantity"`
	// Priority: higher is more urgent.
	Priority int    `gorm:"not null;default:0;index" json:"priority"`
	Status   Status `gorm:"type:varchar(16);not null;default:'Queued';index;check:chk_line_items_status,status IN ('Queued','Running','Done','Failed')" json:"status"`
}

func (LineItem) TableName() string { return "line_items" }
