package client

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(ns []Notification) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func TestBufferNewestFirst(t *testing.T) {
	b := NewNotificationBuffer(0)
	assert.Equal(t, MaxNotifications, b.Cap())

	for _, id := range []string{"a", "b", "c"} {
		assert.False(t, b.Push(Notification{ID: id}))
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids(b.Snapshot()))
}

func TestBufferEvictsOldest(t *testing.T) {
	b := NewNotificationBuffer(MaxNotifications)
	for i := 1; i <= MaxNotifications; i++ {
		assert.False(t, b.Push(Notification{ID: fmt.Sprintf("n%d", i)}))
	}
	require.Equal(t, MaxNotifications, b.Len())

	assert.True(t, b.Push(Notification{ID: "n51"}))

	snap := b.Snapshot()
	require.Len(t, snap, MaxNotifications)
	assert.Equal(t, "n51", snap[0].ID)
	assert.Equal(t, "n2", snap[len(snap)-1].ID)
	assert.NotContains(t, ids(snap), "n1")
}

func TestBufferNeverExceedsCapacity(t *testing.T) {
	b := NewNotificationBuffer(MaxNotifications)
	for i := 0; i < 500; i++ {
		b.Push(Notification{ID: fmt.Sprintf("n%d", i)})
		assert.LessOrEqual(t, b.Len(), MaxNotifications)
	}
	assert.Equal(t, "n499", b.Snapshot()[0].ID)
}

func TestBufferRemoveKeepsOrder(t *testing.T) {
	b := NewNotificationBuffer(4)
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		b.Push(Notification{ID: id})
	}
	require.Equal(t, []string{"f", "e", "d", "c"}, ids(b.Snapshot()))

	assert.True(t, b.Remove("e"))
	assert.Equal(t, []string{"f", "d", "c"}, ids(b.Snapshot()))

	assert.False(t, b.Remove("a"), "evicted entries are gone")
	assert.False(t, b.Remove("missing"))
	assert.Equal(t, []string{"f", "d", "c"}, ids(b.Snapshot()))

	b.Push(Notification{ID: "g"})
	b.Push(Notification{ID: "h"})
	assert.Equal(t, []string{"h", "g", "f", "d"}, ids(b.Snapshot()))
}

func TestBufferClear(t *testing.T) {
	b := NewNotificationBuffer(3)
	b.Push(Notification{ID: "a"})
	b.Push(Notification{ID: "b"})
	b.Clear()

	assert.Zero(t, b.Len())
	assert.Empty(t, b.Snapshot())

	b.Push(Notification{ID: "c"})
	assert.Equal(t, []string{"c"}, ids(b.Snapshot()))
}
