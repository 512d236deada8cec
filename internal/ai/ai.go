// Package ai implements the built-in opponent used when matchmaking finds
// nobody to play. It picks the strongest obvious move and then deliberately
// blunders at a rate tied to the user's rating, so weaker players face a
// weaker opponent.
package ai

import (
	"fmt"
	"math/rand"

	"oxgame/internal/board"
)

var corners = [4]int{0, 2, 6, 8}

// Chooser selects moves for one opponent. Not safe for concurrent use.
type Chooser struct {
	rating int

	// Randomness hooks, overridable in tests.
	randFloat func() float64
	randIntn  func(n int) int
}

// NewChooser returns a Chooser calibrated to the given rating.
func NewChooser(rating int) *Chooser {
	return &Chooser{
		rating:    rating,
		randFloat: rand.Float64,
		randIntn:  rand.Intn,
	}
}

// SetRating recalibrates the mistake rate.
func (c *Chooser) SetRating(rating int) {
	c.rating = rating
}

// mistakeRate maps a rating tier to the chance of discarding the computed
// move for a random one.
func mistakeRate(rating int) float64 {
	switch {
	case rating < 1400:
		return 0.6
	case rating < 1700:
		return 0.3
	default:
		return 0.1
	}
}

// ChooseMove returns the cell to play for own on b, or -1 when the board
// has no empty cell. It errors on invalid symbols or board contents.
func (c *Chooser) ChooseMove(b board.Board, own, opp board.Cell) (int, error) {
	if own != board.X && own != board.O {
		return -1, fmt.Errorf("invalid symbol %q", own)
	}
	if opp != own.Opponent() {
		return -1, fmt.Errorf("opponent symbol %q does not oppose %q", opp, own)
	}
	if _, err := board.Parse(b.String()); err != nil {
		return -1, err
	}

	empties := b.Empties()
	if len(empties) == 0 {
		return -1, nil
	}

	best := c.bestMove(b, own, opp, empties)

	if c.randFloat() < mistakeRate(c.rating) {
		return empties[c.randIntn(len(empties))], nil
	}
	return best, nil
}

// bestMove applies the fixed priority order: win, block, center, random
// corner, random empty cell.
func (c *Chooser) bestMove(b board.Board, own, opp board.Cell, empties []int) int {
	if i := winningMove(b, own, empties); i >= 0 {
		return i
	}
	if i := winningMove(b, opp, empties); i >= 0 {
		return i
	}
	if b[4] == board.Empty {
		return 4
	}
	var open []int
	for _, i := range corners {
		if b[i] == board.Empty {
			open = append(open, i)
		}
	}
	if len(open) > 0 {
		return open[c.randIntn(len(open))]
	}
	return empties[c.randIntn(len(empties))]
}

// winningMove returns the first empty cell that completes a line for sym,
// or -1 when none does.
func winningMove(b board.Board, sym board.Cell, empties []int) int {
	for _, i := range empties {
		trial := b
		trial[i] = sym
		res := board.Evaluate(trial)
		if (sym == board.X && res == board.XWins) || (sym == board.O && res == board.OWins) {
			return i
		}
	}
	return -1
}
