package repository

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/metrics"
)

// coalesced is what survives for one id between flushes: the latest
// last_accessed_at seen and how many hits landed on it, so the flusher
// can issue a single Touch call per id per flush. Coalescing keeps
// last_accessed_at monotonic non-decreasing and delivery at-least-once.
type coalesced struct {
	when  time.Time
	count int64
}

// touchQueue is a bounded, best-effort buffer for access-time updates
// (default size 10k; entries dropped on overflow, with a counter
// incremented). Enqueue never blocks.
type touchQueue interface {
	enqueue(id string, when time.Time)
	drain() map[string]coalesced
}

// ringTouchQueue is the default in-memory implementation: a bounded map
// guarded by a mutex. New ids are rejected once the map is at capacity
// (the overflow case drops the *new* event rather than evicting an
// existing one, since an existing coalesced entry already represents
// real, undelivered work).
type ringTouchQueue struct {
	mu       sync.Mutex
	capacity int
	pending  map[string]coalesced
	metrics  *metrics.Collector
}

func newRingTouchQueue(capacity int, m *metrics.Collector) *ringTouchQueue {
	return &ringTouchQueue{
		capacity: capacity,
		pending:  make(map[string]coalesced, capacity),
		metrics:  m,
	}
}

func (q *ringTouchQueue) enqueue(id string, when time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.pending[id]; ok {
		if when.After(existing.when) {
			existing.when = when
		}
		existing.count++
		q.pending[id] = existing
		return
	}

	if len(q.pending) >= q.capacity {
		if q.metrics != nil {
			q.metrics.TouchQueueDropped.Inc()
		}
		return
	}

	q.pending[id] = coalesced{when: when, count: 1}
}

func (q *ringTouchQueue) drain() map[string]coalesced {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	out := q.pending
	q.pending = make(map[string]coalesced, q.capacity)
	return out
}

// redisTouchQueue backs the same bounded-coalescing contract with a
// capped Redis hash, so a multi-instance deployment shares one touch
// buffer instead of each process losing its own on restart. Unlike the
// in-memory queue, the hash keeps the most recently enqueued access time
// per id rather than the latest one; Store.Touch never moves
// last_accessed_at backwards, so the row itself stays monotonic.
type redisTouchQueue struct {
	client   *redis.Client
	key      string
	capacity int
	metrics  *metrics.Collector
}

func newRedisTouchQueue(client *redis.Client, keyPrefix string, capacity int, m *metrics.Collector) *redisTouchQueue {
	return &redisTouchQueue{
		client:   client,
		key:      keyPrefix + ":touchq",
		capacity: capacity,
		metrics:  m,
	}
}

func (q *redisTouchQueue) enqueue(id string, when time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	countKey := q.key + ":count:" + id

	n, err := q.client.HLen(ctx, q.key).Result()
	if err == nil && n >= int64(q.capacity) {
		if exists, _ := q.client.HExists(ctx, q.key, id).Result(); !exists {
			if q.metrics != nil {
				q.metrics.TouchQueueDropped.Inc()
			}
			return
		}
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.key, id, when.Format(time.RFC3339Nano))
	pipe.Incr(ctx, countKey)
	pipe.Expire(ctx, countKey, time.Hour)
	_, _ = pipe.Exec(ctx)
}

func (q *redisTouchQueue) drain() map[string]coalesced {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	ids, err := q.client.HGetAll(ctx, q.key).Result()
	if err != nil || len(ids) == 0 {
		return nil
	}

	out := make(map[string]coalesced, len(ids))
	for id, whenStr := range ids {
		when, perr := time.Parse(time.RFC3339Nano, whenStr)
		if perr != nil {
			continue
		}
		// GETDEL so a count delivered in this drain is never re-applied
		// by the next one.
		countStr, _ := q.client.GetDel(ctx, q.key+":count:"+id).Result()
		count, _ := strconv.ParseInt(countStr, 10, 64)
		if count == 0 {
			count = 1
		}
		out[id] = coalesced{when: when, count: count}
	}

	q.client.Del(ctx, q.key)
	return out
}
