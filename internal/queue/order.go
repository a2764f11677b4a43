package queue

import (
	"context"
	"fmt"
	"strings"

	"sorter/internal/apperr"
	"sorter/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LineInput describes one line item of a new order.
type LineInput struct {
	ItemClass string `json:"item_class" binding:"required"`
	TargetBin string `json:"target_bin" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required,min=1"`
	Priority  int    `json:"priority"`
}

// Validate 做最小字段校验，防止脏数据进入队列。
func (l LineInput) Validate() error {
	if strings.TrimSpace(l.ItemClass) == "" {
		return fmt.Errorf("item_class is required")
	}
	if strings.TrimSpace(l.TargetBin) == "" {
		return fmt.Errorf("target_bin is required")
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0")
	}
	return nil
}

// TestOrderLines is the demo order: one urgent RED line, one BLUE line.
var TestOrderLines = []LineInput{
	{ItemClass: "RED", TargetBin: "VIDERESALG", Quantity: 5, Priority: 1},
	{ItemClass: "BLUE", TargetBin: "MATERIALEGENANVEND", Quantity: 5, Priority: 0},
}

// CreateOrder inserts an order and all its line items, Queued, in one
// transaction and returns the new order id.
func (q *Queue) CreateOrder(ctx context.Context, createdBy int64, lines []LineInput) (int64, error) {
	if len(lines) == 0 {
		return 0, fmt.Errorf("%w: order needs at least one line item", apperr.ErrInvalidArgument)
	}
	for i, l := range lines {
		if err := l.Validate(); err != nil {
			return 0, fmt.Errorf("%w: line %d: %v", apperr.ErrInvalidArgument, i, err)
		}
	}

	var orderID int64
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order := &model.Order{CreatedByID: createdBy, Status: model.StatusQueued}
		if err := tx.Omit(clause.Associations).Create(order).Error; err != nil {
			return storeErr("insert order", err)
		}

		items := make([]model.LineItem, 0, len(lines))
		for _, l := range lines {
			items = append(items, model.LineItem{
				OrderID:   order.ID,
				ItemClass: strings.TrimSpace(l.ItemClass),
				TargetBin: strings.TrimSpace(l.TargetBin),
				Quantity:  l.Quantity,
				Priority:  l.Priority,
				Status:    model.StatusQueued,
			})
		}
		if err := tx.Omit(clause.Associations).Create(&items).Error; err != nil {
			return storeErr("insert line items", err)
		}

		orderID = order.ID
		return appendEvent(tx, &createdBy, model.ActionOrderCreated,
			fmt.Sprintf("ordre=%d, linjer=%d", order.ID, len(items)))
	})
	if err != nil {
		return 0, classify("create order", err)
	}
	return orderID, nil
}

// HasActiveOrders reports whether any order is still Queued or Running.
func (q *Queue) HasActiveOrders(ctx context.Context) (bool, error) {
	var n int64
	err := q.db.WithContext(ctx).Model(&model.Order{}).
		Where("status IN ?", activeOrderStatuses).
		Count(&n).Error
	if err != nil {
		return false, storeErr("count active orders", err)
	}
	return n > 0, nil
}

// CreateTestOrder creates the demo order unless active orders already
// exist. created is false when it was skipped.
func (q *Queue) CreateTestOrder(ctx context.Context, createdBy int64) (orderID int64, created bool, err error) {
	active, err := q.HasActiveOrders(ctx)
	if err != nil {
		return 0, false, err
	}
	if active {
		return 0, false, nil
	}
	orderID, err = q.CreateOrder(ctx, createdBy, TestOrderLines)
	if err != nil {
		return 0, false, err
	}
	return orderID, true, nil
}
