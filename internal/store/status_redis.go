package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/pdfdispatcher/internal/operation"
)

// KEYS: record, index, stats. ARGV: id, status, json, score.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'record', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[1])
redis.call('HINCRBY', KEYS[3], ARGV[2], 1)
return 1
`)

// KEYS: record, stats. ARGV: expected status, next status, json.
var transitionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then return -1 end
if cur ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'record', ARGV[3])
redis.call('HINCRBY', KEYS[2], ARGV[1], -1)
redis.call('HINCRBY', KEYS[2], ARGV[2], 1)
return 1
`)

// KEYS: record, index, stats. ARGV: id.
var deleteScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
redis.call('ZREM', KEYS[2], ARGV[1])
if not cur then return 0 end
redis.call('DEL', KEYS[1])
redis.call('HINCRBY', KEYS[3], cur, -1)
return 1
`)

// casAttempts bounds the read/compare/set loop when another writer wins.
const casAttempts = 5

// RedisRegistry keeps each record as a hash {status, record} and applies
// transitions with a compare-and-set on the status field.
type RedisRegistry struct {
	client redis.UniversalClient
	keyNS  string
}

// Connect parses url, opens a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opt)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func NewRedisRegistry(client redis.UniversalClient, prefix string) *RedisRegistry {
	return &RedisRegistry{client: client, keyNS: prefix}
}

func (s *RedisRegistry) key(id string) string { return fmt.Sprintf("%sop:%s", s.keyNS, id) }
func (s *RedisRegistry) indexKey() string     { return s.keyNS + "ops:index" }
func (s *RedisRegistry) statsKey() string     { return s.keyNS + "ops:stats" }

func (s *RedisRegistry) Create(ctx context.Context, rec *operation.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", rec.OperationID, err)
	}
	ok, err := createScript.Run(ctx, s.client,
		[]string{s.key(rec.OperationID), s.indexKey(), s.statsKey()},
		rec.OperationID, string(rec.Status), string(b), rec.CreatedAt.UnixMilli(),
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return fmt.Errorf("%s: %w", rec.OperationID, operation.ErrDuplicateOperation)
	}
	return nil
}

func (s *RedisRegistry) MarkProcessing(ctx context.Context, id string, at time.Time) (*operation.Record, error) {
	return s.apply(ctx, id, operation.Start(at))
}

func (s *RedisRegistry) MarkCompleted(ctx context.Context, id string, outputs []operation.OutputFile, at time.Time) (*operation.Record, error) {
	return s.apply(ctx, id, operation.Complete(outputs, at))
}

func (s *RedisRegistry) MarkFailed(ctx context.Context, id, message string, at time.Time) (*operation.Record, error) {
	return s.apply(ctx, id, operation.Fail(message, at))
}

func (s *RedisRegistry) apply(ctx context.Context, id string, ev operation.Event) (*operation.Record, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		cur, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		next, err := operation.Transition(cur, ev)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", id, err)
		}
		res, err := transitionScript.Run(ctx, s.client,
			[]string{s.key(id), s.statsKey()},
			string(cur.Status), string(next.Status), string(b),
		).Int()
		if err != nil {
			return nil, err
		}
		switch res {
		case 1:
			return next, nil
		case -1:
			return nil, fmt.Errorf("%s: %w", id, operation.ErrNotFound)
		}
	}
	return nil, fmt.Errorf("%s: %w: status kept changing", id, operation.ErrInvalidTransition)
}

func (s *RedisRegistry) FindByID(ctx context.Context, id string) (*operation.Record, error) {
	raw, err := s.client.HGet(ctx, s.key(id), "record").Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s: %w", id, operation.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var rec operation.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return &rec, nil
}

func (s *RedisRegistry) List(ctx context.Context, filter operation.Filter, page, pageSize int) (operation.Page, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return operation.Page{}, err
	}
	recs, err := s.load(ctx, ids)
	if err != nil {
		return operation.Page{}, err
	}
	matched := make([]*operation.Record, 0, len(recs))
	for _, rec := range recs {
		if filter.Matches(rec) {
			matched = append(matched, rec)
		}
	}
	return operation.NewPage(matched, page, pageSize), nil
}

func (s *RedisRegistry) Stats(ctx context.Context) (operation.Stats, error) {
	res, err := s.client.HGetAll(ctx, s.statsKey()).Result()
	if err != nil {
		return operation.Stats{}, err
	}
	st := operation.Stats{ByStatus: make(map[operation.Status]int, len(operation.Statuses))}
	for _, status := range operation.Statuses {
		n, _ := strconv.Atoi(res[string(status)])
		st.ByStatus[status] = n
		st.Total += n
	}
	return st, nil
}

func (s *RedisRegistry) ListExpired(ctx context.Context, cutoff time.Time) ([]*operation.Record, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

func (s *RedisRegistry) Delete(ctx context.Context, id string) error {
	ok, err := deleteScript.Run(ctx, s.client,
		[]string{s.key(id), s.indexKey(), s.statsKey()}, id).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return fmt.Errorf("%s: %w", id, operation.ErrNotFound)
	}
	return nil
}

// load fetches records in ids order, skipping ids whose hash is gone.
func (s *RedisRegistry) load(ctx context.Context, ids []string) ([]*operation.Record, error) {
	if len(ids) == 0 {
		return []*operation.Record{}, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.key(id), "record")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	out := make([]*operation.Record, 0, len(ids))
	for i, cmd := range cmds {
		raw, err := cmd.Result()
		if err != nil {
			continue
		}
		var rec operation.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", ids[i], err)
		}
		out = append(out, &rec)
	}
	return out, nil
}

// Ping checks redis connectivity.
func (s *RedisRegistry) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisRegistry) Close() error { return s.client.Close() }
