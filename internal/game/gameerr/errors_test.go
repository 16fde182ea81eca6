package gameerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "not_your_turn", Code(ErrNotYourTurn))
	assert.Equal(t, "cell_occupied", Code(fmt.Errorf("move (3,4): %w", ErrCellOccupied)))
	assert.Equal(t, "internal", Code(errors.New("boom")))
}

func TestCodesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, c := range codes {
		assert.False(t, seen[c.code], "duplicate code %q", c.code)
		seen[c.code] = true
	}
}
