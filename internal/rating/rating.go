package rating

import "math"

// Default is the rating assigned to a user on first sign-in.
const Default = 1500

const kFactor = 32

// Score values for Update.
const (
	Loss = 0.0
	Draw = 0.5
	Win  = 1.0
)

// Update returns the new Elo rating for a player rated self after a game
// against a player rated opp. Results round half away from zero.
func Update(self, opp int, score float64) int {
	expected := 1 / (1 + math.Pow(10, float64(opp-self)/400))
	return int(math.Round(float64(self) + kFactor*(score-expected)))
}
