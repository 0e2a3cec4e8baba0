/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
)

// waiter is a queued identity together with the channel it arrived on.
type waiter struct {
	entry  QueueEntry
	client *Client
}

// Matchmaker holds the waiting set and pairs its two longest-waiting
// entries into a room. Join, cancel, and pairing all run under one
// mutex, so an identity can never be paired into two rooms at once.
type Matchmaker struct {
	cfg      *Config
	sessions *SessionManager

	mu      sync.Mutex
	waiting []*waiter
}

func newMatchmaker(cfg *Config, sessions *SessionManager) *Matchmaker {
	return &Matchmaker{
		cfg:      cfg,
		sessions: sessions,
	}
}

// join enqueues an identity and attempts pairing. Identities that are
// already waiting, or already seated in a live room, are rejected.
func (m *Matchmaker) join(identity string, client *Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queuedLocked(identity) || m.sessions.seated(identity) {
		return ErrDuplicateIdentity
	}

	m.waiting = append(m.waiting, &waiter{
		entry: QueueEntry{
			Identity: identity,
			JoinedAt: time.Now(),
		},
		client: client,
	})
	logf(m.cfg, "QUEUE: %q joined matchmaking (%d waiting)", identity, len(m.waiting))

	m.pairLocked()

	return nil
}

// cancel removes an identity from the waiting set. Cancelling an
// identity that is not queued is a no-op.
func (m *Matchmaker) cancel(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, w := range m.waiting {
		if w.entry.Identity == identity {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			logf(m.cfg, "QUEUE: %q left matchmaking (%d waiting)", identity, len(m.waiting))
			return
		}
	}
}

// disconnect drops the entry belonging to a closed channel. Identities
// that were already paired off keep their room.
func (m *Matchmaker) disconnect(client *Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, w := range m.waiting {
		if w.client == client {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			logf(m.cfg, "QUEUE: %q disconnected while queued (%d waiting)", w.entry.Identity, len(m.waiting))
			return
		}
	}
}

// pending reports how many identities are currently waiting.
func (m *Matchmaker) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}

func (m *Matchmaker) queuedLocked(identity string) bool {
	for _, w := range m.waiting {
		if w.entry.Identity == identity {
			return true
		}
	}
	return false
}

// pairLocked pops the two earliest entries, creates their room, and
// delivers match_found to both. First-enqueued plays X, so pairings are
// reproducible. If delivery to one side fails, the other side goes back
// to the queue head with its original enqueue time, and the dead entry
// is dropped along with the room.
func (m *Matchmaker) pairLocked() {
	for len(m.waiting) >= 2 {
		first, second := m.waiting[0], m.waiting[1]
		m.waiting = m.waiting[2:]

		session := m.sessions.create([2]PlayerInfo{
			{Identity: first.entry.Identity, Symbol: SymbolX},
			{Identity: second.entry.Identity, Symbol: SymbolO},
		})

		msg := MatchFoundMessage{
			Type:   "match_found",
			RoomID: session.id,
			Players: []PlayerInfo{
				{Identity: first.entry.Identity, Symbol: SymbolX},
				{Identity: second.entry.Identity, Symbol: SymbolO},
			},
		}

		firstOK := first.client.trySend(msg)
		secondOK := second.client.trySend(msg)

		if firstOK && secondOK {
			logf(m.cfg, "QUEUE: Paired %q (X) with %q (O) in room %s", first.entry.Identity, second.entry.Identity, session.id)
			continue
		}

		m.sessions.remove(session.id)

		switch {
		case firstOK:
			m.waiting = append([]*waiter{first}, m.waiting...)
		case secondOK:
			m.waiting = append([]*waiter{second}, m.waiting...)
		}
		logf(m.cfg, "QUEUE: Dropped unreachable entry while pairing room %s", session.id)
	}
}

// serveMatchmakingWS upgrades one matchmaking channel per identity.
// Identity is carried in the path and threaded through every call; the
// join_matchmaking message must agree with it.
func serveMatchmakingWS(cfg *Config, m *Matchmaker) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		identity := ps.ByName("identity")
		if identity == "" {
			http.Error(w, "missing identity", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: Matchmaking upgrade for %q failed: %v", identity, err)
			return
		}

		client := newClient(conn, identity)
		go client.writePump(cfg)

		defer func() {
			m.disconnect(client)
			client.close()
		}()

		client.readLoop(cfg, func(msg ClientMessage) {
			switch msg.Type {
			case "join_matchmaking":
				if msg.Identity != "" && msg.Identity != identity {
					client.trySend(ErrorMessage{
						Type:    "error",
						Message: "identity does not match this channel",
					})
					return
				}
				if err := m.join(identity, client); err != nil {
					client.trySend(ErrorMessage{
						Type:    "error",
						Message: err.Error(),
					})
				}
			case "cancel_matchmaking":
				m.cancel(identity)
			default:
				// ignore unknown types
			}
		})
	}
}
