package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// Outbox appends job events to a Redis stream for the Relay to forward.
type Outbox struct {
	rdb    *rd.Client
	stream string
	maxLen int64
}

// NewOutbox writes to stream, trimming it to roughly maxLen entries
// (0 disables trimming).
func NewOutbox(rdb *rd.Client, stream string, maxLen int64) *Outbox {
	return &Outbox{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Publish appends ev to the stream.
func (o *Outbox) Publish(ctx context.Context, ev JobEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	args := &rd.XAddArgs{
		Stream: o.stream,
		Values: streamValues(ev),
	}
	if o.maxLen > 0 {
		args.MaxLen = o.maxLen
		args.Approx = true
	}
	return o.rdb.XAdd(ctx, args).Err()
}

func streamValues(ev JobEvent) map[string]any {
	return map[string]any{
		"event_id":     ev.EventID,
		"action":       ev.Action,
		"order_id":     strconv.FormatInt(ev.OrderID, 10),
		"line_item_id": strconv.FormatInt(ev.LineItemID, 10),
		"user_id":      strconv.FormatInt(ev.UserID, 10),
		"detail":       ev.Detail,
		"at":           ev.At.UTC().Format(time.RFC3339Nano),
	}
}
