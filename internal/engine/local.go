package engine

import (
	"fmt"

	"oxgame/internal/board"
	"oxgame/internal/logger"
	"oxgame/internal/rating"
)

// localSession mirrors the room rules against the built-in opponent,
// entirely inside this client; there is no shared state to race over.
type localSession struct {
	board     board.Board
	human     string
	aiSymbol  string
	turn      string
	active    bool
	thinking  bool
	oppRating int
}

// startLocalGameLocked begins a single-player game. The human's side
// alternates across successive local games; X always opens.
func (e *Engine) startLocalGameLocked() {
	if e.unsubRoom != nil {
		e.unsubRoom()
		e.unsubRoom = nil
	}
	e.roomID, e.room, e.symbol = "", nil, ""
	e.turnTimer.stop()
	e.humanTimer.stop()
	e.thinkTimer.stop()

	human := e.nextHumanSymbol
	e.nextHumanSymbol = otherSymbol(human)

	e.local = &localSession{
		board:     board.New(),
		human:     human,
		aiSymbol:  otherSymbol(human),
		turn:      SymbolX,
		active:    true,
		oppRating: e.user.Rating,
	}

	if e.local.turn == human {
		e.status = localTurnStatus(human, true)
		e.humanTimer.schedule(e.TurnBudget, e.onHumanTimeout)
	} else {
		e.local.thinking = true
		e.status = localTurnStatus(human, false)
		e.thinkTimer.schedule(e.ThinkDelay, e.onAITurn)
	}
	e.emitLocked()
}

func localTurnStatus(human string, yours bool) string {
	if yours {
		return fmt.Sprintf("You are %s. Your turn.", human)
	}
	return fmt.Sprintf("You are %s. Waiting for your opponent.", human)
}

func (e *Engine) localClickLocked(cell int) error {
	if cell < 0 || cell > 8 {
		return fmt.Errorf("cell %d out of range", cell)
	}
	l := e.local
	if l == nil || !l.active || l.thinking || l.turn != l.human || l.board[cell] != board.Empty {
		return nil
	}
	e.humanTimer.stop()
	l.board[cell] = cellOf(l.human)
	if res := board.Evaluate(l.board); res != board.Undecided {
		e.finishLocalLocked(res)
		return nil
	}
	l.turn = l.aiSymbol
	l.thinking = true
	e.status = localTurnStatus(l.human, false)
	e.thinkTimer.schedule(e.ThinkDelay, e.onAITurn)
	e.emitLocked()
	return nil
}

// onHumanTimeout fires when the human sat on their turn too long. Unlike
// the PvP forfeit, the idle turn here hands the move to the opponent
// policy instead of merely skipping.
func (e *Engine) onHumanTimeout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.local
	if l == nil || !l.active || l.turn != l.human {
		return
	}
	l.turn = l.aiSymbol
	l.thinking = true
	e.status = localTurnStatus(l.human, false) + " (time ran out)"
	e.thinkTimer.schedule(e.ThinkDelay, e.onAITurn)
	e.emitLocked()
}

func (e *Engine) onAITurn() {
	e.mu.Lock()
	defer e.mu.Unlock()
	l := e.local
	if l == nil || !l.active || l.turn != l.aiSymbol {
		return
	}
	move, err := e.chooser.ChooseMove(l.board, cellOf(l.aiSymbol), cellOf(l.human))
	if err == nil && move >= 0 && l.board[move] == board.Empty {
		l.board[move] = cellOf(l.aiSymbol)
	}
	if res := board.Evaluate(l.board); res != board.Undecided {
		e.finishLocalLocked(res)
		return
	}
	l.turn = l.human
	l.thinking = false
	e.status = localTurnStatus(l.human, true)
	e.humanTimer.schedule(e.TurnBudget, e.onHumanTimeout)
	e.emitLocked()
}

// finishLocalLocked settles a finished local game. There is only one
// participant, so no claim flag: the Elo update runs unconditionally,
// against an opponent rated the same as the player was at game start.
func (e *Engine) finishLocalLocked(res board.Result) {
	l := e.local
	l.active = false
	l.thinking = false
	e.humanTimer.stop()
	e.thinkTimer.stop()

	var score float64
	msg := "Game over: "
	switch {
	case res == board.Draw:
		score = rating.Draw
		msg += "it's a draw."
	case res == board.XWins && l.human == SymbolX, res == board.OWins && l.human == SymbolO:
		score = rating.Win
		msg += "you won!"
	default:
		score = rating.Loss
		msg += "you lost."
	}

	newRating := rating.Update(e.user.Rating, l.oppRating, score)
	e.user.Rating = newRating
	e.chooser.SetRating(newRating)
	if err := mutateUser(e.ctx, e.st, e.uid, func(u *User) { u.Rating = newRating }); err != nil {
		logger.Error("save rating", "error", err)
	}

	e.status = msg + " Press rematch to play again."
	e.emitLocked()
}
