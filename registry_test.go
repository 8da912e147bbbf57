package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	// sessionTimeout of zero keeps the reaper out of these tests.
	cfg := &Config{turnTime: 30, lives: 3}

	return newRegistry(cfg, newTestMatcher(t))
}

func TestGameIDReservationDoesNotMaterializeRoom(t *testing.T) {
	reg := newTestRegistry(t)

	id := reg.newGameID()
	assert.Len(t, id, 8)

	// A reserved id only becomes a room on first join.
	_, exists := reg.lookup(id)
	assert.False(t, exists)

	room := reg.getOrCreate(id)
	t.Cleanup(func() { close(room.stopc) })

	_, exists = reg.lookup(id)
	assert.True(t, exists)
}

func TestGetOrCreateReturnsSameRoom(t *testing.T) {
	reg := newTestRegistry(t)

	room := reg.getOrCreate("ABCD1234")
	t.Cleanup(func() { close(room.stopc) })

	assert.Same(t, room, reg.getOrCreate("ABCD1234"))
}

func TestRemoveDeletesRoom(t *testing.T) {
	reg := newTestRegistry(t)

	room := reg.getOrCreate("ABCD1234")
	t.Cleanup(func() { close(room.stopc) })

	reg.remove("ABCD1234")

	_, exists := reg.lookup("ABCD1234")
	assert.False(t, exists)
}

func TestRandomGameIDCharset(t *testing.T) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	for i := 0; i < 32; i++ {
		id := randomGameID(8)
		require.Len(t, id, 8)

		for _, r := range id {
			assert.Contains(t, letters, string(r))
		}
	}
}

// Exercises the run loop end to end: events sent over the room's channels are
// serialized by the loop and answered on the client's send channel.
func TestRoomLoopHandlesEvents(t *testing.T) {
	reg := newTestRegistry(t)

	room := reg.getOrCreate("LOOPTEST")
	t.Cleanup(func() { close(room.stopc) })

	c := newTestClient("p1")

	room.register <- c
	room.joins <- joinRequest{client: c, msg: ClientMessage{Type: "join", Name: "Jesse"}}

	deadline := time.After(2 * time.Second)

	var got []any
	for len(got) < 3 {
		select {
		case m := <-c.send:
			got = append(got, m)
		case <-deadline:
			t.Fatalf("timed out waiting for room responses, got %d", len(got))
		}
	}

	// Snapshot on register, then snapshot + user list after the join.
	_, ok := got[0].(InitializeMessage)
	assert.True(t, ok)
}
