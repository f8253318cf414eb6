package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribe(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe("")
	defer cancel()

	h.Publish("run-a", JunctionCompleted, map[string]any{"junction_id": 3})

	select {
	case ev := <-ch:
		assert.Equal(t, int64(1), ev.ID)
		assert.Equal(t, JunctionCompleted, ev.Type)
		assert.Equal(t, "run-a", ev.RunID)
		assert.JSONEq(t, `{"junction_id":3}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSubscribeFiltersByRun(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe("run-b")
	defer cancel()

	h.Publish("run-a", TourStarted, nil)
	h.Publish("run-b", TourStarted, nil)

	ev := <-ch
	assert.Equal(t, "run-b", ev.RunID)
	assert.JSONEq(t, `{}`, string(ev.Data))
	select {
	case extra := <-ch:
		t.Fatalf("unexpected event %+v", extra)
	default:
	}
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe("")
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	cancel() // idempotent
	h.Publish("r", TourStopped, nil)
}

func TestSnapshotSinceRing(t *testing.T) {
	h := NewHub(3)
	for i := range 5 {
		run := "x"
		if i%2 == 1 {
			run = "y"
		}
		h.Publish(run, JunctionDispatched, map[string]int{"i": i})
	}

	all := h.SnapshotSince(0, "")
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 4, 5}, []int64{all[0].ID, all[1].ID, all[2].ID})

	assert.Len(t, h.SnapshotSince(4, ""), 1)
	onlyX := h.SnapshotSince(0, "x")
	require.Len(t, onlyX, 2)
	assert.Equal(t, int64(3), onlyX[0].ID)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(4)
	_, cancel := h.Subscribe("")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for range 200 {
			h.Publish("r", JunctionDispatched, nil)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Equal(t, int64(200-128), h.Dropped())
}

func TestEventJSONKeepsPayloadInline(t *testing.T) {
	h := NewHub(2)
	h.Publish("r", TourCompleted, map[string]bool{"success": true})
	b, err := json.Marshal(h.SnapshotSince(0, "")[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"data":{"success":true}`)
}
