package board

import "fmt"

// Cell is one square on the board.
type Cell byte

const (
	Empty Cell = '.'
	X     Cell = 'X'
	O     Cell = 'O'
)

// Opponent returns the other player's symbol.
func (c Cell) Opponent() Cell {
	if c == X {
		return O
	}
	return X
}

// Board is the fixed 3x3 grid, indexed 0..8 row-major.
type Board [9]Cell

// New returns an empty board.
func New() Board {
	var b Board
	for i := range b {
		b[i] = Empty
	}
	return b
}

// Parse converts the 9-character wire form ('.', 'X', 'O') into a Board.
func Parse(s string) (Board, error) {
	var b Board
	if len(s) != 9 {
		return b, fmt.Errorf("board must be 9 cells, got %d", len(s))
	}
	for i := 0; i < 9; i++ {
		c := Cell(s[i])
		if c != Empty && c != X && c != O {
			return b, fmt.Errorf("invalid cell %q at index %d", s[i], i)
		}
		b[i] = c
	}
	return b, nil
}

// String returns the wire form stored in room records.
func (b Board) String() string {
	return string(b[:])
}

// Empties returns the indexes of all empty cells in order.
func (b Board) Empties() []int {
	var out []int
	for i, c := range b {
		if c == Empty {
			out = append(out, i)
		}
	}
	return out
}

// Result is the outcome of evaluating a board.
type Result int

const (
	Undecided Result = iota
	XWins
	OWins
	Draw
)

var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // cols
	{0, 4, 8}, {2, 4, 6}, // diags
}

// Evaluate reports the outcome of b: the owner of the first fully owned
// line, Draw when no empty cell remains, Undecided otherwise.
func Evaluate(b Board) Result {
	for _, line := range winLines {
		v := b[line[0]]
		if v != Empty && v == b[line[1]] && v == b[line[2]] {
			if v == X {
				return XWins
			}
			return OWins
		}
	}
	for _, c := range b {
		if c == Empty {
			return Undecided
		}
	}
	return Draw
}
