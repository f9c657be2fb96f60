package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	eventBacklogKey    = "proofofflip:event_backlog"
	eventBacklogWindow = 15 * time.Minute
)

// EventBus fans events out to connected SSE clients and keeps a Redis-backed
// rolling backlog so newly-connected clients can replay recent history
// (spec §4.5 "Event bus (SSE)").
type EventBus struct {
	rdb *redis.Client
	log *zap.Logger

	mu      sync.Mutex
	clients map[chan Event]struct{}
}

func NewEventBus(rdb *redis.Client, log *zap.Logger) *EventBus {
	return &EventBus{rdb: rdb, log: log, clients: make(map[chan Event]struct{})}
}

// Publish broadcasts ev to every connected client and appends it to the
// backlog. Writes fan out without per-client flow control (spec §4.5);
// a slow client's channel is buffered and best-effort.
func (b *EventBus) Publish(ctx context.Context, ev Event) {
	b.appendBacklog(ctx, ev)

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- ev:
		default:
			b.log.Warn("sse client channel full, dropping event", zap.String("type", ev.Type))
		}
	}
}

func (b *EventBus) appendBacklog(ctx context.Context, ev Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		b.log.Warn("marshal event for backlog failed", zap.Error(err))
		return
	}
	now := float64(ev.Timestamp.UnixNano())
	if err := b.rdb.ZAdd(ctx, eventBacklogKey, redis.Z{Score: now, Member: raw}).Err(); err != nil {
		b.log.Warn("append event backlog failed", zap.Error(err))
		return
	}
	cutoff := float64(time.Now().Add(-eventBacklogWindow).UnixNano())
	b.rdb.ZRemRangeByScore(ctx, eventBacklogKey, "-inf", fmt.Sprintf("%f", cutoff))
}

// Backlog returns the events still inside the rolling window, oldest first.
func (b *EventBus) Backlog(ctx context.Context) ([]Event, error) {
	cutoff := float64(time.Now().Add(-eventBacklogWindow).UnixNano())
	raws, err := b.rdb.ZRangeByScore(ctx, eventBacklogKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", cutoff),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("coordinator: read event backlog: %w", err)
	}
	out := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// HandleSSE implements GET /api/events: sends a hello frame, replays the
// backlog, then streams live events until the client disconnects.
func (b *EventBus) HandleSSE(c *gin.Context) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	if err := sse.Encode(c.Writer, sse.Event{Data: gin.H{"type": "connected"}}); err != nil {
		return
	}
	c.Writer.Flush()

	backlog, err := b.Backlog(c.Request.Context())
	if err != nil {
		b.log.Warn("sse backlog replay failed", zap.Error(err))
	}
	for _, ev := range backlog {
		if err := sse.Encode(c.Writer, sse.Event{Data: ev}); err != nil {
			return
		}
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := sse.Encode(c.Writer, sse.Event{Data: ev}); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
