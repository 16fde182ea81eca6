package omok

// axes are the four line directions through a cell: horizontal, vertical,
// and both diagonals. The opposite direction is walked by negation.
var axes = [4][2]int{{0, 1}, {1, 0}, {1, 1}, {1, -1}}

// CheckWin reports whether the stone of color just placed at (row, col)
// completes WinLength or more contiguous stones along any axis through it.
//
// Precondition: b[row][col] == color.
// Postcondition: b is not modified.
func CheckWin(b *Board, row, col int, color Color) bool {
	if !InBounds(row, col) || !color.Valid() {
		return false
	}
	for _, axis := range axes {
		count := 1 + run(b, row, col, axis[0], axis[1], color) + run(b, row, col, -axis[0], -axis[1], color)
		if count >= WinLength {
			return true
		}
	}
	return false
}

// run counts same-color cells stepping from (row, col) by (dr, dc), excluding
// the origin and looking at most WinLength-1 cells away.
func run(b *Board, row, col, dr, dc int, color Color) int {
	n := 0
	for i := 1; i < WinLength; i++ {
		r, c := row+dr*i, col+dc*i
		if !InBounds(r, c) || b[r][c] != color {
			break
		}
		n++
	}
	return n
}
