/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"time"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`               // "join_matchmaking", "cancel_matchmaking", "join", "make_move", "reset", "ping"
	Identity string `json:"identity,omitempty"` // join_matchmaking / cancel_matchmaking / join
	RoomID   string `json:"room_id,omitempty"`  // join
	Position *int   `json:"position,omitempty"` // make_move, 0-8
}

// PlayerInfo pairs an identity with its assigned symbol.
type PlayerInfo struct {
	Identity string `json:"identity"`
	Symbol   Symbol `json:"symbol"`
}

// MatchFoundMessage hands both queued players off to their room.
type MatchFoundMessage struct {
	Type    string       `json:"type"` // "match_found"
	RoomID  string       `json:"room_id"`
	Players []PlayerInfo `json:"players"`
}

// StartMessage tells one player their own symbol and who they face.
// Sent when the session enters play, and again on rejoin for resync.
type StartMessage struct {
	Type     string `json:"type"` // "start"
	Symbol   Symbol `json:"symbol"`
	Opponent string `json:"opponent"`
}

// GameStateMessage is the authoritative board broadcast. Clients may
// locally echo the cell they just placed, but turn and winner fields
// always come from here.
type GameStateMessage struct {
	Type        string    `json:"type"` // "game_state"
	Board       [9]Symbol `json:"board"`
	CurrentTurn Symbol    `json:"current_turn"`
	GameOver    bool      `json:"game_over"`
	Winner      string    `json:"winner"` // "X", "O", "D" for a draw, "" while undecided
}

// PlayerLeftMessage informs the remaining player of a disconnect.
type PlayerLeftMessage struct {
	Type     string `json:"type"` // "player_left"
	Identity string `json:"identity"`
}

// SimpleMessage is for payload-free notifications ("waiting_for_opponent",
// "opponent_rejoined", "reset", "end", "pong").
type SimpleMessage struct {
	Type string `json:"type"`
}

// ErrorMessage is sent only to the offending client.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// QueueEntry is one identity waiting to be paired.
type QueueEntry struct {
	Identity string
	JoinedAt time.Time
}
