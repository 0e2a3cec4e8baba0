/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

type sessionState string

const (
	stateAwaitingPlayers sessionState = "awaiting_players"
	stateInProgress      sessionState = "in_progress"
	stateOver            sessionState = "over"
)

var (
	errUnknownIdentity = errors.New("identity is not seated in this room")
)

// seat is one of a room's two player slots. client is nil while that
// identity is detached. graceGen is bumped on every attach and detach,
// so a pending forfeit timer can tell whether the disconnect it was
// armed for is still the current one.
type seat struct {
	identity string
	symbol   Symbol
	client   *Client
	graceGen int
}

// Session owns one room's board, turn state, and both seats. Every
// mutation runs under mu, so moves from both players can never
// interleave into an inconsistent board. Different rooms share nothing.
type Session struct {
	id  string
	cfg *Config

	mu         sync.Mutex
	state      sessionState
	game       game
	seats      [2]*seat
	createdAt  time.Time
	lastActive time.Time
}

func newSession(cfg *Config, id string, players [2]PlayerInfo) *Session {
	now := time.Now()
	s := &Session{
		id:         id,
		cfg:        cfg,
		state:      stateAwaitingPlayers,
		game:       newGame(),
		createdAt:  now,
		lastActive: now,
	}
	for i, p := range players {
		s.seats[i] = &seat{
			identity: p.Identity,
			symbol:   p.Symbol,
		}
	}
	return s
}

// attach seats an identity's channel. Only the two identities assigned
// at pairing time are accepted, so a vacated slot cannot be hijacked.
// Reattachment during play never resets game progress.
func (s *Session) attach(c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.seatFor(c.identity)
	if st == nil {
		return errUnknownIdentity
	}

	// A fresh channel for a seated identity displaces the old one.
	if st.client != nil && st.client != c {
		st.client.close()
	}
	st.client = c
	st.graceGen++
	s.lastActive = time.Now()

	switch s.state {
	case stateAwaitingPlayers:
		if s.attachedLocked() == len(s.seats) {
			s.state = stateInProgress
			logf(s.cfg, "GAMES: Room %s started (%q vs %q)", s.id, s.seats[0].identity, s.seats[1].identity)
			s.sendStartLocked()
			s.broadcastLocked(s.game.state())
		} else {
			go s.waitForOpponent(c, s.cfg.opponentWait)
		}

	case stateInProgress, stateOver:
		// Rejoin: resync this channel explicitly, since nothing
		// carries over from the one that closed.
		c.trySend(StartMessage{
			Type:     "start",
			Symbol:   st.symbol,
			Opponent: s.opponentOf(st.identity),
		})
		c.trySend(s.game.state())
		logf(s.cfg, "GAMES: %q rejoined room %s", c.identity, s.id)
		s.broadcastExceptLocked(c, SimpleMessage{Type: "opponent_rejoined"})
	}

	return nil
}

// detach clears the seat owned by a closed channel. Mid-game this
// starts the rejoin grace timer instead of ending the match.
func (s *Session) detach(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st *seat
	for _, candidate := range s.seats {
		if candidate.client == c {
			st = candidate
			break
		}
	}
	if st == nil {
		return
	}

	st.client = nil
	st.graceGen++
	s.lastActive = time.Now()

	if s.state == stateInProgress {
		logf(s.cfg, "GAMES: %q disconnected from room %s, grace period %s", st.identity, s.id, s.cfg.gracePeriod)
		s.broadcastLocked(PlayerLeftMessage{
			Type:     "player_left",
			Identity: st.identity,
		})
		go s.scheduleForfeit(st.identity, st.graceGen, s.cfg.gracePeriod)
	}
}

// move validates and applies one move, then broadcasts the
// authoritative state. Violations are ignored without a broadcast.
func (s *Session) move(c *Client, position int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.seatFor(c.identity)
	if st == nil || st.client != c {
		return
	}
	if s.state != stateInProgress {
		return
	}

	if err := s.game.move(st.symbol, position); err != nil {
		logf(s.cfg, "GAMES: Ignoring move by %q in room %s: %v", c.identity, s.id, err)
		return
	}

	s.lastActive = time.Now()

	if s.game.over {
		s.state = stateOver
		logf(s.cfg, "GAMES: Room %s over, winner %q", s.id, s.game.winner)
	}

	s.broadcastLocked(s.game.state())
}

// reset starts a fresh game in the same room. Valid only once the
// previous game is over and both players are still attached; the
// session re-enters play directly, without re-running matchmaking.
func (s *Session) reset(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.seatFor(c.identity)
	if st == nil || st.client != c {
		return
	}
	if s.state != stateOver || s.attachedLocked() != len(s.seats) {
		return
	}

	s.game = newGame()
	s.state = stateInProgress
	s.lastActive = time.Now()
	logf(s.cfg, "GAMES: Room %s reset by %q", s.id, c.identity)

	s.broadcastLocked(SimpleMessage{Type: "reset"})
	s.broadcastLocked(s.game.state())
}

// waitForOpponent nudges a lone player if nobody else has shown up
// within the configured wait. The session stays in its waiting state.
func (s *Session) waitForOpponent(c *Client, d time.Duration) {
	time.Sleep(d)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateAwaitingPlayers {
		return
	}
	st := s.seatFor(c.identity)
	if st == nil || st.client != c {
		return
	}

	c.trySend(SimpleMessage{Type: "waiting_for_opponent"})
}

// scheduleForfeit waits out the grace period, and if the identity has
// not reattached by then, ends the session with no winner. A rejoin
// bumps the seat's generation, which disarms this timer even if the
// player later disconnects again and a newer timer is running.
func (s *Session) scheduleForfeit(identity string, gen int, d time.Duration) {
	time.Sleep(d)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateInProgress {
		return
	}
	st := s.seatFor(identity)
	if st == nil || st.client != nil || st.graceGen != gen {
		return
	}

	s.state = stateOver
	s.lastActive = time.Now()
	logf(s.cfg, "GAMES: Room %s ended, %q never rejoined", s.id, identity)

	s.broadcastLocked(SimpleMessage{Type: "end"})
}

// seated reports whether an identity still holds a live seat here.
// Seats in a finished room count only while that player remains
// attached, so finished players can queue again before the reaper runs.
func (s *Session) seated(identity string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.seatFor(identity)
	if st == nil {
		return false
	}
	return s.state != stateOver || st.client != nil
}

// expired reports whether the reaper may reclaim this room.
func (s *Session) expired(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateOver && s.attachedLocked() == 0 {
		return true
	}
	return s.lastActive.Before(cutoff)
}

// closeAll disconnects both seats (used by the reaper).
func (s *Session) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.seats {
		if st.client != nil {
			st.client.close()
			st.client = nil
		}
	}
}

func (s *Session) seatFor(identity string) *seat {
	for _, st := range s.seats {
		if st.identity == identity {
			return st
		}
	}
	return nil
}

func (s *Session) opponentOf(identity string) string {
	for _, st := range s.seats {
		if st.identity != identity {
			return st.identity
		}
	}
	return ""
}

func (s *Session) attachedLocked() int {
	count := 0
	for _, st := range s.seats {
		if st.client != nil {
			count++
		}
	}
	return count
}

func (s *Session) sendStartLocked() {
	for _, st := range s.seats {
		if st.client == nil {
			continue
		}
		st.client.trySend(StartMessage{
			Type:     "start",
			Symbol:   st.symbol,
			Opponent: s.opponentOf(st.identity),
		})
	}
}

// broadcastLocked delivers to both seats. A seated client that cannot
// take the message has fallen behind the authoritative state, so it is
// closed; its connection teardown detaches the seat and starts the
// usual rejoin grace period.
func (s *Session) broadcastLocked(msg any) {
	for _, st := range s.seats {
		if st.client != nil && !st.client.trySend(msg) {
			logf(s.cfg, "GAMES: Dropping unresponsive %q from room %s", st.identity, s.id)
			st.client.close()
		}
	}
}

func (s *Session) broadcastExceptLocked(skip *Client, msg any) {
	for _, st := range s.seats {
		if st.client != nil && st.client != skip && !st.client.trySend(msg) {
			logf(s.cfg, "GAMES: Dropping unresponsive %q from room %s", st.identity, s.id)
			st.client.close()
		}
	}
}

// SessionManager holds the set of live rooms, so each room identifier
// maps to its own isolated session.
type SessionManager struct {
	cfg *Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func newSessionManager(cfg *Config) *SessionManager {
	sm := &SessionManager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
	if cfg.sessionTimeout > 0 {
		go sm.reaperLoop()
	}
	return sm
}

// create allocates a fresh room for a pairing. Room IDs are short UUID
// prefixes, checked against live rooms for collisions.
func (sm *SessionManager) create(players [2]PlayerInfo) *Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var id string
	for {
		id = uuid.New().String()[:8]
		if _, exists := sm.sessions[id]; !exists {
			break
		}
	}

	session := newSession(sm.cfg, id, players)
	sm.sessions[id] = session
	return session
}

func (sm *SessionManager) get(roomID string) (*Session, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	session, exists := sm.sessions[roomID]
	return session, exists
}

func (sm *SessionManager) remove(roomID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.sessions, roomID)
}

// seated reports whether an identity holds a seat in any live room.
func (sm *SessionManager) seated(identity string) bool {
	sm.mu.Lock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, session := range sm.sessions {
		sessions = append(sessions, session)
	}
	sm.mu.Unlock()

	for _, session := range sessions {
		if session.seated(identity) {
			return true
		}
	}
	return false
}

// reaperLoop periodically reclaims rooms that are finished and empty,
// or that have been idle longer than the session timeout.
func (sm *SessionManager) reaperLoop() {
	ticker := time.NewTicker(sm.cfg.sessionTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-sm.cfg.sessionTimeout)

		sm.mu.Lock()
		expired := make([]*Session, 0)
		for id, session := range sm.sessions {
			if session.expired(cutoff) {
				delete(sm.sessions, id)
				expired = append(expired, session)
			}
		}
		sm.mu.Unlock()

		for _, session := range expired {
			logf(sm.cfg, "GAMES: Reclaimed room %s", session.id)
			go session.closeAll()
		}
	}
}

// serveGameWS upgrades one game channel per connection. The room comes
// from the path; the identity arrives in an explicit join message and
// is validated against the room's seats.
func serveGameWS(cfg *Config, sm *SessionManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		roomID := ps.ByName("roomid")
		if roomID == "" {
			http.Error(w, "missing room id", http.StatusBadRequest)
			return
		}

		session, exists := sm.get(roomID)
		if !exists {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: Game upgrade for room %s failed: %v", roomID, err)
			return
		}

		client := newClient(conn, "")
		go client.writePump(cfg)

		defer func() {
			session.detach(client)
			client.close()
		}()

		client.readLoop(cfg, func(msg ClientMessage) {
			switch msg.Type {
			case "join":
				if client.identity != "" {
					return
				}
				if msg.Identity == "" || (msg.RoomID != "" && msg.RoomID != roomID) {
					client.trySend(ErrorMessage{
						Type:    "error",
						Message: "join requires a matching room_id and an identity",
					})
					return
				}
				client.identity = msg.Identity
				if err := session.attach(client); err != nil {
					client.identity = ""
					client.trySend(ErrorMessage{
						Type:    "error",
						Message: err.Error(),
					})
				}
			case "make_move":
				if client.identity == "" || msg.Position == nil {
					return
				}
				session.move(client, *msg.Position)
			case "reset":
				if client.identity == "" {
					return
				}
				session.reset(client)
			default:
				// ignore unknown types
			}
		})
	}
}

// qrHandler generates a PNG QR code for the room URL, for sharing the
// match out-of-band.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomID := ps.ByName("roomid")
	if roomID == "" {
		http.Error(w, "missing room id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /game/:roomid/qr; strip trailing "/qr" to get the room URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}
