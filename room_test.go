package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests drive the room's handle* methods directly, the same way the run loop
// does: one event at a time, so every test observes the exact serialization
// the loop guarantees.

func newTestRoom(t *testing.T) *Room {
	t.Helper()

	cfg := &Config{turnTime: 30, lives: 3}
	r := newRoom("ABCD", cfg, newTestMatcher(t), nil)

	t.Cleanup(r.cancelTurnTimer)

	return r
}

func newTestClient(id string) *Client {
	return &Client{send: make(chan any, 64), playerID: id}
}

func join(r *Room, c *Client, name string) {
	r.handleRegister(c)
	r.handleJoin(joinRequest{client: c, msg: ClientMessage{Type: "join", Name: name}})
}

// drain empties a client's send buffer, returning everything queued so far.
func drain(c *Client) []any {
	var msgs []any

	for {
		select {
		case m, ok := <-c.send:
			if !ok {
				return msgs
			}
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func findError(msgs []any) (ErrorMessage, bool) {
	for _, m := range msgs {
		if em, ok := m.(ErrorMessage); ok {
			return em, true
		}
	}

	return ErrorMessage{}, false
}

func findEndGame(msgs []any) (EndGameMessage, bool) {
	for _, m := range msgs {
		if em, ok := m.(EndGameMessage); ok {
			return em, true
		}
	}

	return EndGameMessage{}, false
}

func lastTurn(msgs []any) (TurnMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if tm, ok := msgs[i].(TurnMessage); ok {
			return tm, true
		}
	}

	return TurnMessage{}, false
}

func TestJoinCreatesPlayersInTurnOrder(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")

	join(r, c1, "Jesse")
	join(r, c2, "Kit")

	require.Len(t, r.players, 2)
	assert.Equal(t, "Jesse", r.players[0].Name)
	assert.Equal(t, "Kit", r.players[1].Name)
	assert.Equal(t, 0, r.turnIndex)
	assert.Equal(t, 3, r.players[0].Lives)
	assert.True(t, r.players[0].Connected)
	assert.Equal(t, phaseLobby, r.phase)
}

func TestJoinIgnoresBlankNames(t *testing.T) {
	r := newTestRoom(t)

	c := newTestClient("p1")
	r.handleRegister(c)
	r.handleJoin(joinRequest{client: c, msg: ClientMessage{Type: "join", Name: "   "}})

	assert.Empty(t, r.players)
}

func TestFirstJoinerFixesConfig(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")

	r.handleRegister(c1)
	r.handleJoin(joinRequest{client: c1, msg: ClientMessage{Name: "Jesse", TurnTime: 60, Lives: 1}})

	assert.Equal(t, 60, r.config.TurnSeconds)
	assert.Equal(t, 1, r.config.Lives)

	// Later joiners don't get a say.
	r.handleRegister(c2)
	r.handleJoin(joinRequest{client: c2, msg: ClientMessage{Name: "Kit", TurnTime: 10, Lives: 9}})

	assert.Equal(t, 60, r.config.TurnSeconds)
	assert.Equal(t, 1, r.config.Lives)
	assert.Equal(t, 1, r.players[1].Lives)
}

func TestFirstJoinerConfigClamped(t *testing.T) {
	r := newTestRoom(t)

	c := newTestClient("p1")
	r.handleRegister(c)
	r.handleJoin(joinRequest{client: c, msg: ClientMessage{Name: "Jesse", TurnTime: 1000, Lives: 99}})

	assert.Equal(t, maxTurnSeconds, r.config.TurnSeconds)
	assert.Equal(t, maxLives, r.config.Lives)

	em, ok := findError(drain(c))
	require.True(t, ok)
	assert.Equal(t, reasonInvalidConfig, em.Reason)
}

func TestJoinAfterStartRejected(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	join(r, c1, "Jesse")
	r.handleStart(c1)

	late := newTestClient("p2")
	drain(late)
	join(r, late, "Kit")

	require.Len(t, r.players, 1)

	em, ok := findError(drain(late))
	require.True(t, ok)
	assert.Equal(t, reasonRoomStarted, em.Reason)
}

func TestStartGame(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	join(r, c1, "Jesse")
	join(r, c2, "Kit")
	drain(c2)

	r.handleStart(c1)

	assert.Equal(t, phaseInProgress, r.phase)
	assert.False(t, r.isSolo)
	assert.Equal(t, byte('A'), r.currentLetter)
	assert.NotNil(t, r.timerStop)

	msgs := drain(c2)
	require.NotEmpty(t, msgs)

	started, ok := msgs[0].(GameStartedMessage)
	require.True(t, ok)
	assert.Equal(t, "A", started.Letter)
	assert.Equal(t, "p1", started.PlayerID)
	assert.Equal(t, 30, started.TurnTime)
	assert.False(t, started.Solo)
	assert.Len(t, started.Players, 2)
}

func TestStartTwiceErrors(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	join(r, c1, "Jesse")
	r.handleStart(c1)
	drain(c1)

	r.handleStart(c1)

	em, ok := findError(drain(c1))
	require.True(t, ok)
	assert.Equal(t, reasonAlreadyStarted, em.Reason)
}

func TestStartSoloLatchesFlag(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	join(r, c1, "Jesse")
	r.handleStart(c1)

	assert.True(t, r.isSolo)
}

func TestSubmitAcceptedAnswer(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	join(r, c1, "Jesse")
	join(r, c2, "Kit")
	r.handleStart(c1)
	drain(c2)

	genBefore := r.timerGen

	r.handleSubmit(submitRequest{client: c1, location: "Paris"})

	assert.Equal(t, byte('S'), r.currentLetter)
	assert.Equal(t, []string{"Paris"}, r.history)
	assert.True(t, r.guessed["paris"])
	assert.Equal(t, 1, r.turnIndex)
	assert.Greater(t, r.timerGen, genBefore)

	// Broadcast order: letter, marker, locations, turn.
	msgs := drain(c2)
	require.Len(t, msgs, 4)

	letter, ok := msgs[0].(LetterMessage)
	require.True(t, ok)
	assert.Equal(t, "S", letter.Letter)

	marker, ok := msgs[1].(MarkerMessage)
	require.True(t, ok)
	assert.Equal(t, "Paris", marker.Marker.Name)
	assert.InDelta(t, 48.8566, marker.Marker.Latitude, 0.001)

	locations, ok := msgs[2].(LocationsMessage)
	require.True(t, ok)
	assert.Equal(t, []string{"Paris"}, locations.Locations)

	turn, ok := msgs[3].(TurnMessage)
	require.True(t, ok)
	assert.Equal(t, "p2", turn.PlayerID)
}

func TestSubmitDuplicateRejected(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	join(r, c1, "Jesse")
	join(r, c2, "Kit")
	r.handleStart(c1)

	r.handleSubmit(submitRequest{client: c1, location: "Paris"})
	drain(c1)
	drain(c2)

	// Kit names the same place, fuzzily matching back to it.
	r.handleSubmit(submitRequest{client: c2, location: "paris"})

	em, ok := findError(drain(c2))
	require.True(t, ok)
	assert.Equal(t, msgLocationError, em.Type)
	assert.Equal(t, reasonAlreadyGuessed, em.Reason)

	// The rejection stayed private and nothing moved.
	assert.Empty(t, drain(c1))
	assert.Equal(t, []string{"Paris"}, r.history)
	assert.Equal(t, 1, r.turnIndex)
}

func TestSubmitWrongLetterRejected(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	join(r, c1, "Jesse")
	r.handleStart(c1)
	drain(c1)

	r.handleSubmit(submitRequest{client: c1, location: "Berlin"})

	em, ok := findError(drain(c1))
	require.True(t, ok)
	assert.Equal(t, reasonWrongLetter, em.Reason)

	assert.Empty(t, r.history)
	assert.Empty(t, r.guessed)
	assert.Equal(t, byte('A'), r.currentLetter)
}

func TestSubmitUnknownPlaceRejected(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	join(r, c1, "Jesse")
	r.handleStart(c1)
	drain(c1)

	r.handleSubmit(submitRequest{client: c1, location: "Aaaaazzzzz"})

	em, ok := findError(drain(c1))
	require.True(t, ok)
	assert.Equal(t, reasonNotFound, em.Reason)
	assert.Empty(t, r.history)
}

func TestSubmitOutOfTurnNeverMutates(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	join(r, c1, "Jesse")
	join(r, c2, "Kit")
	r.handleStart(c1)
	drain(c1)
	drain(c2)

	r.handleSubmit(submitRequest{client: c2, location: "Amsterdam"})

	assert.Empty(t, r.history)
	assert.Empty(t, r.guessed)
	assert.Equal(t, byte('A'), r.currentLetter)
	assert.Equal(t, 0, r.turnIndex)

	// Stale racers are dropped, not surfaced.
	assert.Empty(t, drain(c2))
	assert.Empty(t, drain(c1))
}

func TestSubmitBeforeStartIgnored(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	join(r, c1, "Jesse")
	drain(c1)

	r.handleSubmit(submitRequest{client: c1, location: "Amsterdam"})

	assert.Empty(t, r.history)
	assert.Empty(t, drain(c1))
}

func TestLetterChainsAcrossTurns(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	join(r, c1, "Jesse")
	join(r, c2, "Kit")
	r.handleStart(c1)

	for _, step := range []struct {
		client *Client
		answer string
		letter byte
	}{
		{c1, "Amsterdam", 'M'},
		{c2, "Moscow", 'W'},
		{c1, "Warsaw", 'W'},
		{c2, "Wellington", 'N'},
	} {
		r.handleSubmit(submitRequest{client: step.client, location: step.answer})
		assert.Equal(t, string(step.letter), string(r.currentLetter), "after %q", step.answer)
	}

	assert.Len(t, r.history, 4)
}

func TestTimerExpiryCostsLife(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	join(r, c1, "Jesse")
	join(r, c2, "Kit")
	r.handleStart(c1)
	drain(c2)

	r.handleTimer(timerEvent{gen: r.timerGen, expired: true})

	assert.Equal(t, 2, r.players[0].Lives)
	assert.Equal(t, 1, r.turnIndex)
	assert.Equal(t, phaseInProgress, r.phase)
	assert.NotNil(t, r.timerStop)

	turn, ok := lastTurn(drain(c2))
	require.True(t, ok)
	assert.Equal(t, "p2", turn.PlayerID)
}

func TestTimerTickBroadcastsRemaining(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	join(r, c1, "Jesse")
	r.handleStart(c1)
	drain(c1)

	r.handleTimer(timerEvent{gen: r.timerGen, remaining: 17})

	msgs := drain(c1)
	require.Len(t, msgs, 1)

	tick, ok := msgs[0].(TimerMessage)
	require.True(t, ok)
	assert.Equal(t, 17, tick.Remaining)
}

func TestStaleTimerEventIgnored(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	join(r, c1, "Jesse")
	join(r, c2, "Kit")
	r.handleStart(c1)

	staleGen := r.timerGen

	// The answer is sequenced first; it cancels the countdown.
	r.handleSubmit(submitRequest{client: c1, location: "Paris"})

	r.handleTimer(timerEvent{gen: staleGen, expired: true})

	// No life was lost and the turn did not move twice.
	assert.Equal(t, 3, r.players[0].Lives)
	assert.Equal(t, 3, r.players[1].Lives)
	assert.Equal(t, 1, r.turnIndex)
}

func TestCancelTurnTimerIdempotent(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	join(r, c1, "Jesse")
	r.handleStart(c1)

	r.cancelTurnTimer()
	r.cancelTurnTimer()

	assert.Nil(t, r.timerStop)
}

func TestEliminationEndsMultiplayerGame(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	r.handleRegister(c1)
	r.handleJoin(joinRequest{client: c1, msg: ClientMessage{Name: "Jesse", Lives: 1}})
	join(r, c2, "Kit")
	r.handleStart(c1)
	drain(c2)

	r.handleTimer(timerEvent{gen: r.timerGen, expired: true})

	assert.Equal(t, phaseEnded, r.phase)
	assert.Nil(t, r.timerStop)
	assert.Empty(t, r.clients)

	end, ok := findEndGame(drain(c2))
	require.True(t, ok)
	assert.Equal(t, "Kit", end.Winner)
	assert.False(t, end.Solo)
	assert.Equal(t, 0, end.TotalLocations)
}

func TestSoloTimeoutEndsGame(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	r.handleRegister(c1)
	r.handleJoin(joinRequest{client: c1, msg: ClientMessage{Name: "Jesse", Lives: 1}})
	r.handleStart(c1)

	r.handleSubmit(submitRequest{client: c1, location: "Amsterdam"})
	drain(c1)

	r.handleTimer(timerEvent{gen: r.timerGen, expired: true})

	assert.Equal(t, phaseEnded, r.phase)

	end, ok := findEndGame(drain(c1))
	require.True(t, ok)
	assert.True(t, end.Solo)
	assert.Empty(t, end.Winner)
	assert.Equal(t, 1, end.TotalLocations)
	require.Len(t, end.Markers, 1)
	assert.Equal(t, "Amsterdam", end.Markers[0].Name)
}

func TestDisconnectForfeitsTurnWithoutLifeLoss(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	c3 := newTestClient("p3")
	join(r, c1, "Jesse")
	join(r, c2, "Kit")
	join(r, c3, "Max")
	r.handleStart(c1)
	drain(c3)

	r.handleUnregister(c1)

	assert.Equal(t, phaseInProgress, r.phase)
	assert.False(t, r.players[0].Connected)
	assert.Equal(t, 3, r.players[0].Lives)
	assert.Equal(t, 1, r.turnIndex)

	turn, ok := lastTurn(drain(c3))
	require.True(t, ok)
	assert.Equal(t, "p2", turn.PlayerID)
}

func TestDisconnectDownToOneEndsGame(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	join(r, c1, "Jesse")
	join(r, c2, "Kit")
	r.handleStart(c1)
	drain(c2)

	r.handleUnregister(c1)

	assert.Equal(t, phaseEnded, r.phase)

	end, ok := findEndGame(drain(c2))
	require.True(t, ok)
	assert.Equal(t, "Kit", end.Winner)
}

func TestTurnAdvancementSkipsIneligible(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	c3 := newTestClient("p3")
	join(r, c1, "Jesse")
	join(r, c2, "Kit")
	join(r, c3, "Max")
	r.handleStart(c1)

	// Kit drops mid-game; Jesse's accepted answer must hand the turn to Max.
	r.handleUnregister(c2)
	r.handleSubmit(submitRequest{client: c1, location: "Amsterdam"})

	assert.Equal(t, 2, r.turnIndex)
	assert.Equal(t, "Max", r.currentPlayer().Name)
}

func TestStartSkipsLobbyDisconnects(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	join(r, c1, "Jesse")
	join(r, c2, "Kit")

	r.handleUnregister(c1)
	r.handleStart(c2)

	assert.Equal(t, phaseInProgress, r.phase)
	assert.Equal(t, "Kit", r.currentPlayer().Name)
}

func TestGuessedOnlyGrows(t *testing.T) {
	r := newTestRoom(t)

	c1 := newTestClient("p1")
	c2 := newTestClient("p2")
	join(r, c1, "Jesse")
	join(r, c2, "Kit")
	r.handleStart(c1)

	answers := []struct {
		client *Client
		place  string
	}{
		{c1, "Amsterdam"},
		{c2, "Moscow"},
		{c1, "Warsaw"},
	}

	for _, a := range answers {
		r.handleSubmit(submitRequest{client: a.client, location: a.place})
	}

	assert.Len(t, r.guessed, len(answers))

	// Each accepted key appears exactly once; naming it again is rejected.
	drain(c2)
	r.handleSubmit(submitRequest{client: c2, location: "Warsaw"})

	em, ok := findError(drain(c2))
	require.True(t, ok)
	assert.Equal(t, reasonAlreadyGuessed, em.Reason)
	assert.Len(t, r.guessed, len(answers))
}
