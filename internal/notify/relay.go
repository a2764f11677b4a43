package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// EventPublisher is where the relay forwards events; *Producer in production.
type EventPublisher interface {
	Publish(ctx context.Context, ev JobEvent) error
}

// Relay 将 Redis Stream 事件异步转发到 Kafka。
// 语义：发布 Kafka 成功后才 ACK Stream，失败则保留消息等待重试。
type Relay struct {
	rdb       *rd.Client
	publisher EventPublisher
	log       *slog.Logger

	stream   string
	group    string
	consumer string
}

func NewRelay(rdb *rd.Client, publisher EventPublisher, stream, group, consumer string, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		rdb:       rdb,
		publisher: publisher,
		log:       log.With(slog.String("stream", stream), slog.String("group", group)),
		stream:    stream,
		group:     group,
		consumer:  consumer,
	}
}

// Run blocks until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.ensureGroup(ctx); err != nil {
		return fmt.Errorf("relay ensure group: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		// 先处理当前消费者历史 pending，避免遗留消息长期堆积。
		msgs, err := r.readGroup(ctx, "0", 0)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			r.log.Warn("relay read pending", slog.String("error", err.Error()))
			sleepCtx(ctx, 300*time.Millisecond)
			continue
		}
		if len(msgs) == 0 {
			msgs, err = r.readGroup(ctx, ">", 2*time.Second)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return nil
				}
				r.log.Warn("relay read new", slog.String("error", err.Error()))
				sleepCtx(ctx, 300*time.Millisecond)
				continue
			}
		}

		for _, xm := range msgs {
			if err := r.processOne(ctx, xm); err != nil {
				// 发布失败不 ACK，消息会继续保留用于重试。
				r.log.Warn("relay process message", slog.String("id", xm.ID), slog.String("error", err.Error()))
				sleepCtx(ctx, 200*time.Millisecond)
				break
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (r *Relay) ensureGroup(ctx context.Context) error {
	err := r.rdb.XGroupCreateMkStream(ctx, r.stream, r.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

func (r *Relay) readGroup(ctx context.Context, streamID string, block time.Duration) ([]rd.XMessage, error) {
	streams, err := r.rdb.XReadGroup(ctx, &rd.XReadGroupArgs{
		Group:    r.group,
		Consumer: r.consumer,
		Streams:  []string{r.stream, streamID},
		Count:    16,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, nil
		}
		return nil, err
	}
	out := make([]rd.XMessage, 0, 16)
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (r *Relay) processOne(ctx context.Context, xm rd.XMessage) error {
	ev, err := parseJobEvent(xm.Values)
	if err != nil {
		// 脏消息直接 ACK 丢弃，避免阻塞队列。
		r.log.Warn("relay drop malformed event", slog.String("id", xm.ID), slog.String("error", err.Error()))
		if ackErr := r.ackAndDelete(ctx, xm.ID); ackErr != nil {
			return fmt.Errorf("parse failed: %v, ack failed: %w", err, ackErr)
		}
		return nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, ev); err != nil {
		return err
	}
	return r.ackAndDelete(ctx, xm.ID)
}

func (r *Relay) ackAndDelete(ctx context.Context, id string) error {
	pipe := r.rdb.TxPipeline()
	pipe.XAck(ctx, r.stream, r.group, id)
	pipe.XDel(ctx, r.stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func parseJobEvent(values map[string]interface{}) (JobEvent, error) {
	eventID, err := getStreamString(values, "event_id")
	if err != nil {
		return JobEvent{}, err
	}
	action, err := getStreamString(values, "action")
	if err != nil {
		return JobEvent{}, err
	}
	orderStr, err := getStreamString(values, "order_id")
	if err != nil {
		return JobEvent{}, err
	}
	lineStr, err := getStreamString(values, "line_item_id")
	if err != nil {
		return JobEvent{}, err
	}
	userStr, err := getStreamString(values, "user_id")
	if err != nil {
		return JobEvent{}, err
	}
	atStr, err := getStreamString(values, "at")
	if err != nil {
		return JobEvent{}, err
	}
	// detail is optional
	detail, _ := getStreamString(values, "detail")

	orderID, err := strconv.ParseInt(orderStr, 10, 64)
	if err != nil {
		return JobEvent{}, fmt.Errorf("invalid order_id %q", orderStr)
	}
	lineID, err := strconv.ParseInt(lineStr, 10, 64)
	if err != nil {
		return JobEvent{}, fmt.Errorf("invalid line_item_id %q", lineStr)
	}
	userID, err := strconv.ParseInt(userStr, 10, 64)
	if err != nil {
		return JobEvent{}, fmt.Errorf("invalid user_id %q", userStr)
	}
	at, err := time.Parse(time.RFC3339Nano, atStr)
	if err != nil {
		return JobEvent{}, fmt.Errorf("invalid at %q", atStr)
	}

	ev := JobEvent{
		EventID:    eventID,
		Action:     action,
		OrderID:    orderID,
		LineItemID: lineID,
		UserID:     userID,
		Detail:     detail,
		At:         at,
	}
	if err := ev.Validate(); err != nil {
		return JobEvent{}, err
	}
	return ev, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
