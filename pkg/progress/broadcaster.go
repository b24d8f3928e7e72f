// Package progress implements the Progress Broadcaster (C9): it fans
// out the Wave Scheduler's progress messages over an in-memory snapshot
// map, a Redis pub/sub channel, and a WebSocket hub, and serves them
// over HTTP. It is a fully independent concurrency domain — C4 never
// blocks on it.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Message is one progress update: C4 publishes one per wave plus a final
// 100% update, and the engine publishes a closing Done message.
type Message struct {
	ScheduleID string    `json:"schedule_id"`
	Text       string    `json:"text"`
	WaveIndex  int       `json:"wave_index"`
	WaveCount  int       `json:"wave_count"`
	Percent    float64   `json:"percent"`
	At         time.Time `json:"at"`
	Done       bool      `json:"done"`
}

// RunSnapshot is the last known state of a run, returned by GET
// /runs/{scheduleId}.
type RunSnapshot struct {
	ScheduleID string    `json:"schedule_id"`
	Latest     Message   `json:"latest"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// redisChannel names the Redis pub/sub channel for a run.
func redisChannel(scheduleID string) string {
	return fmt.Sprintf("waveplan:progress:%s", scheduleID)
}

// Broadcaster owns the in-memory snapshot map and fans every published
// message out to the WebSocket hub and (if configured) Redis. Publish
// is non-blocking: a full internal queue drops the oldest pending
// message rather than stall the caller (§5).
type Broadcaster struct {
	logger zerolog.Logger
	hub    *Hub
	redis  *redis.Client

	mu   sync.RWMutex
	runs map[string]RunSnapshot

	queue chan Message
}

// NewBroadcaster builds a Broadcaster. redisAddr may be empty to
// disable the Redis fan-out leg.
func NewBroadcaster(redisAddr string, logger zerolog.Logger) *Broadcaster {
	b := &Broadcaster{
		logger: logger,
		hub:    newHub(logger),
		runs:   make(map[string]RunSnapshot),
		queue:  make(chan Message, 256),
	}
	if redisAddr != "" {
		b.redis = redis.NewClient(&redis.Options{Addr: redisAddr})
	}
	return b
}

// Run drains the publish queue until ctx is cancelled. Must be started
// exactly once, typically from cmd/waveplan alongside the HTTP server.
func (b *Broadcaster) Run(ctx context.Context) {
	go b.hub.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.queue:
			b.deliver(ctx, msg)
		}
	}
}

// Publish enqueues a progress message for delivery. Never blocks: if
// the internal queue is full, the oldest queued message is dropped.
func (b *Broadcaster) Publish(msg Message) {
	if msg.At.IsZero() {
		msg.At = time.Now()
	}
	select {
	case b.queue <- msg:
	default:
		select {
		case <-b.queue:
		default:
		}
		select {
		case b.queue <- msg:
		default:
		}
	}
}

func (b *Broadcaster) deliver(ctx context.Context, msg Message) {
	b.mu.Lock()
	b.runs[msg.ScheduleID] = RunSnapshot{ScheduleID: msg.ScheduleID, Latest: msg, UpdatedAt: msg.At}
	b.mu.Unlock()

	b.hub.broadcast(msg)

	if b.redis == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Warn().Err(err).Msg("progress: marshal message for redis")
		return
	}
	if err := b.redis.Publish(ctx, redisChannel(msg.ScheduleID), payload).Err(); err != nil {
		b.logger.Warn().Err(err).Str("schedule_id", msg.ScheduleID).Msg("progress: redis publish failed")
	}
}

// Snapshot returns the last known message for a run, if any.
func (b *Broadcaster) Snapshot(scheduleID string) (RunSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap, ok := b.runs[scheduleID]
	return snap, ok
}

// Close releases the Redis client, if one was configured.
func (b *Broadcaster) Close() error {
	if b.redis == nil {
		return nil
	}
	return b.redis.Close()
}
