package progress

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisChannelNaming(t *testing.T) {
	assert.Equal(t, "waveplan:progress:SCHED1", redisChannel("SCHED1"))
}

func TestBroadcasterPublishAndSnapshot(t *testing.T) {
	b := NewBroadcaster("", zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Publish(Message{ScheduleID: "SCHED1", Text: "batch 1/2", Percent: 50})

	require.Eventually(t, func() bool {
		_, ok := b.Snapshot("SCHED1")
		return ok
	}, time.Second, 5*time.Millisecond)

	snap, ok := b.Snapshot("SCHED1")
	require.True(t, ok)
	assert.Equal(t, "batch 1/2", snap.Latest.Text)
	assert.Equal(t, 50.0, snap.Latest.Percent)
}

func TestBroadcasterSnapshotUnknownRun(t *testing.T) {
	b := NewBroadcaster("", zerolog.Nop())
	_, ok := b.Snapshot("NOPE")
	assert.False(t, ok)
}

func TestBroadcasterPublishStampsTimeWhenZero(t *testing.T) {
	b := NewBroadcaster("", zerolog.Nop())
	before := time.Now()
	b.Publish(Message{ScheduleID: "SCHED1"})

	var msg Message
	select {
	case msg = <-b.queue:
	case <-time.After(time.Second):
		t.Fatal("expected message on queue")
	}
	assert.False(t, msg.At.Before(before))
}

func TestBroadcasterPublishDropsOldestWhenQueueFull(t *testing.T) {
	b := NewBroadcaster("", zerolog.Nop())
	// Fill the queue to capacity without a consumer draining it.
	for i := 0; i < cap(b.queue); i++ {
		b.queue <- Message{ScheduleID: "FILL", WaveIndex: i}
	}

	b.Publish(Message{ScheduleID: "LATEST", WaveIndex: -1})

	// The oldest entry (WaveIndex 0) must have been evicted; the newest
	// publish must be present somewhere in the queue.
	var sawLatest bool
	var firstIndex int
	first := true
	for i := 0; i < cap(b.queue); i++ {
		msg := <-b.queue
		if first {
			firstIndex = msg.WaveIndex
			first = false
		}
		if msg.ScheduleID == "LATEST" {
			sawLatest = true
		}
	}
	assert.NotEqual(t, 0, firstIndex)
	assert.True(t, sawLatest)
}

func TestBroadcasterCloseWithoutRedisIsNoop(t *testing.T) {
	b := NewBroadcaster("", zerolog.Nop())
	assert.NoError(t, b.Close())
}
