package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// LastClaim 对应 Redis 内操作员最近领取任务的 hash 结构。
type LastClaim struct {
	Operator   string
	OrderID    int64
	LineItemID int64
	Program    string
	ClaimedAt  time.Time
}

// ClaimTracker 把操作员与其最近领取的任务关联起来，供 "完成上一个任务" 使用。
type ClaimTracker struct {
	rdb *rd.Client
	ttl time.Duration
}

func NewClaimTracker(rdb *rd.Client, ttl time.Duration) *ClaimTracker {
	return &ClaimTracker{rdb: rdb, ttl: ttl}
}

// Remember 覆盖写入，并刷新 key TTL。
func (t *ClaimTracker) Remember(ctx context.Context, c LastClaim) error {
	key := LastClaimKey(c.Operator)
	pipe := t.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"operator", c.Operator,
		"order_id", c.OrderID,
		"line_item_id", c.LineItemID,
		"program", c.Program,
		"claimed_at", c.ClaimedAt.UTC().Format(time.RFC3339Nano),
	)
	if t.ttl > 0 {
		pipe.Expire(ctx, key, t.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Last 查询操作员最近的领取记录。found=false 表示 key 不存在。
func (t *ClaimTracker) Last(ctx context.Context, operator string) (LastClaim, bool, error) {
	m, err := t.rdb.HGetAll(ctx, LastClaimKey(operator)).Result()
	if err != nil {
		return LastClaim{}, false, err
	}
	if len(m) == 0 {
		return LastClaim{}, false, nil
	}
	return decodeLastClaim(operator, m)
}

// Forget 在任务完成后删除记录，重复调用无副作用。
func (t *ClaimTracker) Forget(ctx context.Context, operator string) error {
	return t.rdb.Del(ctx, LastClaimKey(operator)).Err()
}

func decodeLastClaim(operator string, m map[string]string) (LastClaim, bool, error) {
	orderID, err := strconv.ParseInt(m["order_id"], 10, 64)
	if err != nil {
		return LastClaim{}, false, fmt.Errorf("last claim %s: bad order_id %q", operator, m["order_id"])
	}
	lineID, err := strconv.ParseInt(m["line_item_id"], 10, 64)
	if err != nil {
		return LastClaim{}, false, fmt.Errorf("last claim %s: bad line_item_id %q", operator, m["line_item_id"])
	}
	out := LastClaim{
		Operator:   operator,
		OrderID:    orderID,
		LineItemID: lineID,
		Program:    m["program"],
	}
	if at := m["claimed_at"]; at != "" {
		out.ClaimedAt, _ = time.Parse(time.RFC3339Nano, at)
	}
	return out, true, nil
}
