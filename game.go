/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

// Symbol marks a board cell and identifies a player's side.
type Symbol string

const (
	SymbolX Symbol = "X"
	SymbolO Symbol = "O"
	Empty   Symbol = ""

	// drawWinner is the wire marker for a drawn game.
	drawWinner = "D"
)

// winLines holds every three-in-a-row combination.
var winLines = [8][3]int{
	{0, 1, 2}, // top row
	{3, 4, 5}, // middle row
	{6, 7, 8}, // bottom row
	{0, 3, 6}, // left column
	{1, 4, 7}, // middle column
	{2, 5, 8}, // right column
	{0, 4, 8}, // diagonal
	{2, 4, 6}, // anti-diagonal
}

// game is one room's board and turn state. It is never shared; the
// owning session serializes all access.
type game struct {
	board  [9]Symbol
	turn   Symbol
	winner string // "X", "O", "D" for a draw, "" while undecided
	over   bool
}

func newGame() game {
	return game{turn: SymbolX}
}

// move validates and applies a single move. On acceptance exactly one
// cell changes; a filled cell is never overwritten.
func (g *game) move(symbol Symbol, position int) error {
	if symbol != g.turn {
		return ErrNotYourTurn
	}
	if g.over {
		return ErrGameOver
	}
	if position < 0 || position > 8 {
		return ErrOutOfRange
	}
	if g.board[position] != Empty {
		return ErrPositionTaken
	}

	g.board[position] = symbol

	switch {
	case g.winningMove(symbol):
		g.winner = string(symbol)
		g.over = true
	case g.full():
		g.winner = drawWinner
		g.over = true
	default:
		g.turn = g.turn.other()
	}

	return nil
}

func (g *game) winningMove(symbol Symbol) bool {
	for _, line := range winLines {
		if g.board[line[0]] == symbol && g.board[line[1]] == symbol && g.board[line[2]] == symbol {
			return true
		}
	}
	return false
}

func (g *game) full() bool {
	for _, cell := range g.board {
		if cell == Empty {
			return false
		}
	}
	return true
}

func (g *game) state() GameStateMessage {
	return GameStateMessage{
		Type:        "game_state",
		Board:       g.board,
		CurrentTurn: g.turn,
		GameOver:    g.over,
		Winner:      g.winner,
	}
}

func (s Symbol) other() Symbol {
	if s == SymbolX {
		return SymbolO
	}
	return SymbolX
}
