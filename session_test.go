/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		bind:         "127.0.0.1",
		port:         8080,
		gracePeriod:  100 * time.Millisecond,
		opponentWait: 100 * time.Millisecond,
		pingInterval: 30 * time.Second,
	}
}

func newTestSession(cfg *Config) *Session {
	return newSession(cfg, "testroom", [2]PlayerInfo{
		{Identity: "alice", Symbol: SymbolX},
		{Identity: "bob", Symbol: SymbolO},
	})
}

// receiveMessage pops the next queued message for a client, failing the
// test if none arrives in time.
func receiveMessage(t *testing.T, c *Client) any {
	t.Helper()

	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func expectMatchFound(t *testing.T, c *Client) MatchFoundMessage {
	t.Helper()

	msg, ok := receiveMessage(t, c).(MatchFoundMessage)
	require.True(t, ok, "expected match_found")
	return msg
}

func expectStart(t *testing.T, c *Client) StartMessage {
	t.Helper()

	msg, ok := receiveMessage(t, c).(StartMessage)
	require.True(t, ok, "expected start")
	return msg
}

func expectGameState(t *testing.T, c *Client) GameStateMessage {
	t.Helper()

	msg, ok := receiveMessage(t, c).(GameStateMessage)
	require.True(t, ok, "expected game_state")
	return msg
}

func expectSimple(t *testing.T, c *Client, msgType string) {
	t.Helper()

	msg, ok := receiveMessage(t, c).(SimpleMessage)
	require.True(t, ok, "expected %q", msgType)
	assert.Equal(t, msgType, msg.Type)
}

// attachBoth seats both players and drains their start/game_state
// handshakes.
func attachBoth(t *testing.T, s *Session) (*Client, *Client) {
	t.Helper()

	a := newClient(nil, "alice")
	b := newClient(nil, "bob")
	require.NoError(t, s.attach(a))
	require.NoError(t, s.attach(b))

	aStart := expectStart(t, a)
	assert.Equal(t, SymbolX, aStart.Symbol)
	assert.Equal(t, "bob", aStart.Opponent)

	bStart := expectStart(t, b)
	assert.Equal(t, SymbolO, bStart.Symbol)
	assert.Equal(t, "alice", bStart.Opponent)

	expectGameState(t, a)
	expectGameState(t, b)

	return a, b
}

func TestSessionStartsWhenBothAttach(t *testing.T) {
	s := newTestSession(testConfig())
	assert.Equal(t, stateAwaitingPlayers, s.state)

	attachBoth(t, s)
	assert.Equal(t, stateInProgress, s.state)
}

func TestSessionWaitingForOpponent(t *testing.T) {
	s := newTestSession(testConfig())

	a := newClient(nil, "alice")
	require.NoError(t, s.attach(a))

	expectSimple(t, a, "waiting_for_opponent")
	assert.Equal(t, stateAwaitingPlayers, s.state)
}

func TestSessionRejectsUnknownIdentity(t *testing.T) {
	s := newTestSession(testConfig())

	err := s.attach(newClient(nil, "mallory"))
	assert.ErrorIs(t, err, errUnknownIdentity)
}

func TestSessionMoveBroadcasts(t *testing.T) {
	s := newTestSession(testConfig())
	a, b := attachBoth(t, s)

	s.move(a, 4)

	for _, c := range []*Client{a, b} {
		state := expectGameState(t, c)
		assert.Equal(t, SymbolX, state.Board[4])
		assert.Equal(t, SymbolO, state.CurrentTurn)
		assert.False(t, state.GameOver)
	}
}

func TestSessionIgnoresInvalidMoves(t *testing.T) {
	s := newTestSession(testConfig())
	a, b := attachBoth(t, s)

	// Out of turn, occupied, and out of range are all dropped without
	// a broadcast.
	s.move(b, 0)
	s.move(a, 9)
	assertNoMessage(t, a)
	assertNoMessage(t, b)

	s.move(a, 0)
	expectGameState(t, a)
	expectGameState(t, b)

	s.move(b, 0)
	assertNoMessage(t, a)
	assertNoMessage(t, b)
}

func TestSessionWinEndsGame(t *testing.T) {
	s := newTestSession(testConfig())
	a, b := attachBoth(t, s)

	playToWin(t, s, a, b)

	assert.Equal(t, stateOver, s.state)
}

func TestSessionDisconnectThenReconnect(t *testing.T) {
	s := newTestSession(testConfig())
	a, b := attachBoth(t, s)

	s.move(a, 4)
	expectGameState(t, a)
	expectGameState(t, b)

	s.detach(a)

	left, ok := receiveMessage(t, b).(PlayerLeftMessage)
	require.True(t, ok, "expected player_left")
	assert.Equal(t, "alice", left.Identity)

	// Rejoin within the grace period: board and turn survive exactly.
	rejoined := newClient(nil, "alice")
	require.NoError(t, s.attach(rejoined))

	start := expectStart(t, rejoined)
	assert.Equal(t, SymbolX, start.Symbol)

	state := expectGameState(t, rejoined)
	assert.Equal(t, SymbolX, state.Board[4])
	assert.Equal(t, SymbolO, state.CurrentTurn)

	expectSimple(t, b, "opponent_rejoined")
	assert.Equal(t, stateInProgress, s.state)

	// The forfeit timer must have been disarmed by the rejoin.
	time.Sleep(2 * s.cfg.gracePeriod)
	assertNoMessage(t, b)
	assert.Equal(t, stateInProgress, s.state)
}

func TestSessionRegracesOnRepeatDisconnect(t *testing.T) {
	cfg := testConfig()
	cfg.gracePeriod = 300 * time.Millisecond

	s := newTestSession(cfg)
	a, b := attachBoth(t, s)

	s.detach(a)
	_, ok := receiveMessage(t, b).(PlayerLeftMessage)
	require.True(t, ok, "expected player_left")

	// Rejoin mid-grace, then drop again. The second disconnect gets a
	// full grace period of its own; the first timer must not cut it
	// short when it expires.
	time.Sleep(100 * time.Millisecond)
	rejoined := newClient(nil, "alice")
	require.NoError(t, s.attach(rejoined))
	expectStart(t, rejoined)
	expectGameState(t, rejoined)
	expectSimple(t, b, "opponent_rejoined")

	time.Sleep(100 * time.Millisecond)
	s.detach(rejoined)
	_, ok = receiveMessage(t, b).(PlayerLeftMessage)
	require.True(t, ok, "expected player_left")

	// Past the first disconnect's deadline, inside the second's window.
	time.Sleep(150 * time.Millisecond)
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	assert.Equal(t, stateInProgress, state, "second grace period was cut short")

	expectSimple(t, b, "end")
	assert.Equal(t, stateOver, s.state)
}

func TestSessionBroadcastOverflowClosesClient(t *testing.T) {
	s := newTestSession(testConfig())
	a, b := attachBoth(t, s)

	// Jam alice's send buffer so the next broadcast cannot be queued.
	for i := 0; i < cap(a.send); i++ {
		require.True(t, a.trySend(SimpleMessage{Type: "pong"}))
	}

	s.move(a, 4)

	// Bob still gets the authoritative state; alice is closed rather
	// than left seated with a stale board.
	state := expectGameState(t, b)
	assert.Equal(t, SymbolX, state.Board[4])
	assert.False(t, a.trySend(SimpleMessage{Type: "pong"}), "overflowed client should be closed")

	// Connection teardown then runs the normal disconnect path.
	s.detach(a)
	left, ok := receiveMessage(t, b).(PlayerLeftMessage)
	require.True(t, ok, "expected player_left")
	assert.Equal(t, "alice", left.Identity)
}

func TestSessionDisconnectTimeout(t *testing.T) {
	s := newTestSession(testConfig())
	a, b := attachBoth(t, s)

	s.detach(a)

	_, ok := receiveMessage(t, b).(PlayerLeftMessage)
	require.True(t, ok, "expected player_left")

	expectSimple(t, b, "end")
	assert.Equal(t, stateOver, s.state)
	assert.Empty(t, s.game.winner, "a forfeited session has no winner")

	assert.False(t, s.expired(time.Now().Add(-time.Hour)), "room lives while a player remains")
	s.detach(b)
	assert.True(t, s.expired(time.Now().Add(-time.Hour)), "room is reclaimable once both have left")
}

func TestSessionReset(t *testing.T) {
	s := newTestSession(testConfig())
	a, b := attachBoth(t, s)

	// Reset during play is refused.
	s.reset(a)
	assertNoMessage(t, a)
	assertNoMessage(t, b)

	playToWin(t, s, a, b)

	s.reset(b)
	expectSimple(t, a, "reset")
	expectSimple(t, b, "reset")

	for _, c := range []*Client{a, b} {
		state := expectGameState(t, c)
		assert.Equal(t, [9]Symbol{}, state.Board)
		assert.Equal(t, SymbolX, state.CurrentTurn)
		assert.False(t, state.GameOver)
		assert.Empty(t, state.Winner)
	}
	assert.Equal(t, stateInProgress, s.state, "reset skips matchmaking entirely")
}

func TestSessionSeated(t *testing.T) {
	s := newTestSession(testConfig())

	assert.True(t, s.seated("alice"), "seats are reserved from creation")
	assert.False(t, s.seated("mallory"))

	a, b := attachBoth(t, s)
	playToWin(t, s, a, b)

	assert.True(t, s.seated("alice"), "still attached after the game")
	s.detach(a)
	assert.False(t, s.seated("alice"), "detached from a finished room")
	assert.True(t, s.seated("bob"))
}

func TestSessionManagerReapsIdleRooms(t *testing.T) {
	cfg := testConfig()
	cfg.sessionTimeout = 100 * time.Millisecond
	sm := newSessionManager(cfg)

	session := sm.create([2]PlayerInfo{
		{Identity: "alice", Symbol: SymbolX},
		{Identity: "bob", Symbol: SymbolO},
	})

	_, exists := sm.get(session.id)
	require.True(t, exists)

	assert.Eventually(t, func() bool {
		_, exists := sm.get(session.id)
		return !exists
	}, time.Second, 20*time.Millisecond, "idle room should be reclaimed")
}

// playToWin drives alice to a top-row win, draining broadcasts.
func playToWin(t *testing.T, s *Session, a, b *Client) {
	t.Helper()

	moves := []struct {
		client   *Client
		position int
	}{
		{a, 0}, {b, 3}, {a, 1}, {b, 4}, {a, 2},
	}
	for _, m := range moves {
		s.move(m.client, m.position)
		expectGameState(t, a)
		expectGameState(t, b)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	require.True(t, s.game.over)
	require.Equal(t, "X", s.game.winner)
}
