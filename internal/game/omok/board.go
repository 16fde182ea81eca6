// Package omok implements the five-in-a-row board and its win rule.
package omok

import (
	"encoding/json"
	"fmt"
)

// Size is the width and height of the board.
const Size = 19

// WinLength is the number of contiguous stones that wins the game.
const WinLength = 5

// Color is the occupant of a board cell and the identity of a seat.
type Color string

const (
	// None marks an empty cell or the absence of a winner.
	None Color = ""
	// Black moves first.
	Black Color = "black"
	// White moves second.
	White Color = "white"
)

// Opponent returns the other seat's color. None has no opponent.
func (c Color) Opponent() Color {
	switch c {
	case Black:
		return White
	case White:
		return Black
	}
	return None
}

// Valid reports whether c is Black or White.
func (c Color) Valid() bool {
	return c == Black || c == White
}

// MarshalJSON encodes None as null.
func (c Color) MarshalJSON() ([]byte, error) {
	if c == None {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

// UnmarshalJSON accepts null, "black", or "white".
func (c *Color) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil || *s == "" {
		*c = None
		return nil
	}
	color := Color(*s)
	if !color.Valid() {
		return fmt.Errorf("unknown color %q", *s)
	}
	*c = color
	return nil
}

// Phase is the lifecycle stage of a game.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseActive   Phase = "playing"
	PhaseFinished Phase = "finished"
)

// Board is a fixed Size x Size grid indexed [row][col].
type Board [Size][Size]Color

// InBounds reports whether (row, col) addresses a cell on the board.
func InBounds(row, col int) bool {
	return row >= 0 && row < Size && col >= 0 && col < Size
}

// At returns the color at (row, col), or None when out of bounds.
func (b *Board) At(row, col int) Color {
	if !InBounds(row, col) {
		return None
	}
	return b[row][col]
}

// Empty reports whether no stone has been placed.
func (b *Board) Empty() bool {
	for r := range b {
		for c := range b[r] {
			if b[r][c] != None {
				return false
			}
		}
	}
	return true
}

// MarshalJSON encodes the board as rows of cells with null for empty cells.
func (b Board) MarshalJSON() ([]byte, error) {
	rows := make([][]*string, Size)
	for r := range b {
		rows[r] = make([]*string, Size)
		for c := range b[r] {
			if b[r][c] != None {
				s := string(b[r][c])
				rows[r][c] = &s
			}
		}
	}
	return json.Marshal(rows)
}

// UnmarshalJSON decodes the representation produced by MarshalJSON.
func (b *Board) UnmarshalJSON(data []byte) error {
	var rows [][]*string
	if err := json.Unmarshal(data, &rows); err != nil {
		return err
	}
	if len(rows) != Size {
		return fmt.Errorf("board has %d rows, want %d", len(rows), Size)
	}
	var out Board
	for r, row := range rows {
		if len(row) != Size {
			return fmt.Errorf("board row %d has %d cells, want %d", r, len(row), Size)
		}
		for c, cell := range row {
			if cell == nil {
				continue
			}
			color := Color(*cell)
			if !color.Valid() {
				return fmt.Errorf("board cell (%d,%d) has unknown color %q", r, c, *cell)
			}
			out[r][c] = color
		}
	}
	*b = out
	return nil
}
