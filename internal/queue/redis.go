package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// KEYS: stream. ARGV: capacity, operation id.
var enqueueScript = redis.NewScript(`
if redis.call('XLEN', KEYS[1]) >= tonumber(ARGV[1]) then return false end
return redis.call('XADD', KEYS[1], '*', 'op', ARGV[2])
`)

// DefaultClaimIdle is how long a delivered entry may stay unacked before
// another consumer takes it over.
const DefaultClaimIdle = 30 * time.Minute

// RedisQueue is a Redis Streams consumer group. Acked entries are deleted so
// XLEN counts queued plus in-flight tasks, which is what capacity bounds.
// Entries left pending by a consumer that went away are claimed back by
// Dequeue once idle for claimIdle, so they never hold capacity for good.
type RedisQueue struct {
	client    redis.UniversalClient
	Stream    string
	Group     string
	consumer  string
	capacity  int
	claimIdle time.Duration
}

// NewRedisQueue ensures stream and group exist.
func NewRedisQueue(ctx context.Context, client redis.UniversalClient, stream, group, consumer string, capacity int) (*RedisQueue, error) {
	if capacity < 1 {
		capacity = 1
	}
	q := &RedisQueue{
		client:    client,
		Stream:    stream,
		Group:     group,
		consumer:  consumer,
		capacity:  capacity,
		claimIdle: DefaultClaimIdle,
	}
	// MKSTREAM creates the stream if missing
	if err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err(); err != nil && !isBusyGroupErr(err) {
		return nil, fmt.Errorf("xgroup create: %w", err)
	}
	return q, nil
}

// WithClaimIdle sets the idle time after which pending entries of other
// consumers are reclaimed. It must exceed the longest task. Zero disables it.
func (q *RedisQueue) WithClaimIdle(d time.Duration) *RedisQueue {
	q.claimIdle = d
	return q
}

func isBusyGroupErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *RedisQueue) Enqueue(ctx context.Context, opID string) error {
	err := enqueueScript.Run(ctx, q.client, []string{q.Stream}, q.capacity, opID).Err()
	if errors.Is(err, redis.Nil) {
		return ErrQueueFull
	}
	return err
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (Message, bool, error) {
	if msg, ok, err := q.claimStale(ctx); err != nil || ok {
		return msg, ok, err
	}
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.Group,
		Consumer: q.consumer,
		Streams:  []string{q.Stream, ">"},
		Count:    1,
		Block:    timeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Message{}, false, nil
		}
		return Message{}, false, err
	}
	if len(res) == 0 || len(res[0].Messages) == 0 {
		return Message{}, false, nil
	}
	msg := res[0].Messages[0]
	op, _ := msg.Values["op"].(string)
	return Message{ID: msg.ID, OperationID: op}, true, nil
}

// claimStale takes over the oldest entry another consumer left unacked for
// longer than claimIdle. Workers skip operations that are no longer pending,
// so handing it out again is safe.
func (q *RedisQueue) claimStale(ctx context.Context) (Message, bool, error) {
	if q.claimIdle <= 0 {
		return Message{}, false, nil
	}
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.Stream,
		Group:    q.Group,
		Consumer: q.consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Message{}, false, nil
		}
		return Message{}, false, fmt.Errorf("xautoclaim: %w", err)
	}
	if len(msgs) == 0 {
		return Message{}, false, nil
	}
	op, _ := msgs[0].Values["op"].(string)
	log.Warn().Str("stream", q.Stream).Str("entry", msgs[0].ID).Str("operation_id", op).Msg("reclaimed stale queue entry")
	return Message{ID: msgs[0].ID, OperationID: op}, true, nil
}

// Ack acknowledges and drops the entry.
func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
	if msgID == "" {
		return nil
	}
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.Stream, q.Group, msgID)
	pipe.XDel(ctx, q.Stream, msgID)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.XLen(ctx, q.Stream).Result()
}

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Close leaves the shared client open; main owns it.
func (q *RedisQueue) Close() error { return nil }
