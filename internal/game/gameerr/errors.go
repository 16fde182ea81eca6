// Package gameerr defines the domain failures reported by game sessions and
// the directory.
package gameerr

import "errors"

var (
	// ErrDuplicateParticipant is returned when joining a session the participant is already in.
	ErrDuplicateParticipant = errors.New("participant already joined")
	// ErrUnknownParticipant is returned when the acting participant is not registered.
	ErrUnknownParticipant = errors.New("participant not found")
	// ErrNotPlaying is returned for a move while the game is not in progress.
	ErrNotPlaying = errors.New("game is not in progress")
	// ErrNotYourTurn is returned when the mover is not the player holding the current turn.
	ErrNotYourTurn = errors.New("not your turn")
	// ErrCellOccupied is returned when the target cell already holds a stone.
	ErrCellOccupied = errors.New("cell is occupied")
	// ErrOutOfBounds is returned when the target cell is off the board.
	ErrOutOfBounds = errors.New("cell is out of bounds")
	// ErrGameNotFinished is returned when resetting a game that has not ended.
	ErrGameNotFinished = errors.New("game is not finished")
	// ErrSessionNotFound is returned by the session table for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrDuplicateParticipant, "duplicate_participant"},
	{ErrUnknownParticipant, "unknown_participant"},
	{ErrNotPlaying, "not_playing"},
	{ErrNotYourTurn, "not_your_turn"},
	{ErrCellOccupied, "cell_occupied"},
	{ErrOutOfBounds, "out_of_bounds"},
	{ErrGameNotFinished, "game_not_finished"},
	{ErrSessionNotFound, "session_not_found"},
}

// Code returns the stable wire code for err, or "internal" when err is not a
// domain failure.
//
// Postcondition: Returns "" iff err is nil.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
