package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"oxgame/internal/board"
	"oxgame/internal/rating"
	"oxgame/internal/store"
)

// The room state machine. Every operation here may be attempted by both
// clients of a match at once; each is a conditional transaction whose
// preconditions turn the losing attempt into a silent no-op.

// applyMove places sym at cell in the room, reporting whether the move
// committed. Stale clicks (not playing, not sym's turn, cell taken, room
// gone) abort without error.
func applyMove(ctx context.Context, st store.Store, id, sym string, cell int, now func() time.Time, budget time.Duration) (bool, error) {
	if cell < 0 || cell > 8 {
		return false, fmt.Errorf("cell %d out of range", cell)
	}
	return st.Transact(ctx, roomKey(id), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, store.ErrAbort
		}
		r, err := decodeRoom(current)
		if err != nil {
			return nil, err
		}
		if r.Status != StatusPlaying || r.Turn != sym {
			return nil, store.ErrAbort
		}
		b, err := board.Parse(r.Board)
		if err != nil {
			return nil, err
		}
		if b[cell] != board.Empty {
			return nil, store.ErrAbort
		}
		b[cell] = cellOf(sym)
		r.Board = b.String()

		switch board.Evaluate(b) {
		case board.XWins:
			r.finish(SymbolX)
		case board.OWins:
			r.finish(SymbolO)
		case board.Draw:
			r.finish(WinnerDraw)
		default:
			r.Turn = otherSymbol(sym)
			r.TurnDeadline = now().UnixMilli() + budget.Milliseconds()
		}
		return encodeRoom(r)
	})
}

// forfeitExpiredTurn skips the turn of a player who let the deadline pass,
// leaving the board unchanged. Both clients fire this redundantly; the
// deadline check makes the second attempt a no-op because the first one
// already moved it.
func forfeitExpiredTurn(ctx context.Context, st store.Store, id string, now func() time.Time, budget time.Duration) (bool, error) {
	return st.Transact(ctx, roomKey(id), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, store.ErrAbort
		}
		r, err := decodeRoom(current)
		if err != nil {
			return nil, err
		}
		if r.Status != StatusPlaying || r.TurnDeadline == 0 {
			return nil, store.ErrAbort
		}
		if now().UnixMilli() < r.TurnDeadline {
			return nil, store.ErrAbort
		}
		r.Turn = otherSymbol(r.Turn)
		r.TurnDeadline = now().UnixMilli() + budget.Milliseconds()
		return encodeRoom(r)
	})
}

// requestRematch records uid's wish for a rematch on a finished room.
func requestRematch(ctx context.Context, st store.Store, id, uid string) (bool, error) {
	return st.Transact(ctx, roomKey(id), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, store.ErrAbort
		}
		r, err := decodeRoom(current)
		if err != nil {
			return nil, err
		}
		if r.Status != StatusFinished || r.RematchRequests[uid] {
			return nil, store.ErrAbort
		}
		if r.RematchRequests == nil {
			r.RematchRequests = make(map[string]bool)
		}
		r.RematchRequests[uid] = true
		return encodeRoom(r)
	})
}

// claimRematch takes the rematch claim flag. Exactly one of the clients
// that observe both rematch requests wins the claim and runs the rematch
// body; the rest abort here.
func claimRematch(ctx context.Context, st store.Store, id string) (bool, error) {
	return st.Transact(ctx, roomKey(id), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, store.ErrAbort
		}
		r, err := decodeRoom(current)
		if err != nil {
			return nil, err
		}
		if r.Status != StatusFinished || r.RematchClaimed {
			return nil, store.ErrAbort
		}
		r.RematchClaimed = true
		return encodeRoom(r)
	})
}

// performRematch resets a finished room for another game with the sides
// swapped. Only the claim winner calls this, so the write is plain.
func performRematch(ctx context.Context, st store.Store, id string, now func() time.Time, budget time.Duration) error {
	current, err := st.Read(ctx, roomKey(id))
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	r, err := decodeRoom(current)
	if err != nil {
		return err
	}
	if r.Status != StatusFinished {
		return nil
	}
	prevX, prevO := r.Players.X, r.Players.O
	if prevX == "" || prevO == "" {
		return nil
	}

	next := &Room{
		Players:      Players{X: prevO, O: prevX},
		Board:        board.New().String(),
		Turn:         SymbolX,
		Status:       StatusPlaying,
		TurnDeadline: now().UnixMilli() + budget.Milliseconds(),
	}
	data, err := encodeRoom(next)
	if err != nil {
		return err
	}
	if err := st.Write(ctx, roomKey(id), data); err != nil {
		return err
	}

	if err := mutateUser(ctx, st, prevX, func(u *User) { u.CurrentSymbol = SymbolO }); err != nil {
		return err
	}
	return mutateUser(ctx, st, prevO, func(u *User) { u.CurrentSymbol = SymbolX })
}

// claimRatingSettlement takes the rating claim flag on a finished room.
func claimRatingSettlement(ctx context.Context, st store.Store, id string) (bool, error) {
	return st.Transact(ctx, roomKey(id), func(current []byte) ([]byte, error) {
		if current == nil {
			return nil, store.ErrAbort
		}
		r, err := decodeRoom(current)
		if err != nil {
			return nil, err
		}
		if r.Status != StatusFinished || r.RatingSettled {
			return nil, store.ErrAbort
		}
		r.RatingSettled = true
		return encodeRoom(r)
	})
}

// settleRatings applies the Elo update to both players of a finished
// room. Only the claim winner calls this, so ratings move exactly once
// per game.
func settleRatings(ctx context.Context, st store.Store, id string) error {
	current, err := st.Read(ctx, roomKey(id))
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	r, err := decodeRoom(current)
	if err != nil {
		return err
	}
	if r.Status != StatusFinished {
		return nil
	}
	uidX, uidO := r.Players.X, r.Players.O
	if uidX == "" || uidO == "" {
		return nil
	}

	var scoreX, scoreO float64
	switch r.Winner {
	case SymbolX:
		scoreX, scoreO = rating.Win, rating.Loss
	case SymbolO:
		scoreX, scoreO = rating.Loss, rating.Win
	case WinnerDraw:
		scoreX, scoreO = rating.Draw, rating.Draw
	default:
		return nil
	}

	dataX, err := st.Read(ctx, userKey(uidX))
	if err != nil {
		return err
	}
	dataO, err := st.Read(ctx, userKey(uidO))
	if err != nil {
		return err
	}
	ratingX := decodeUser(dataX).Rating
	ratingO := decodeUser(dataO).Rating

	newX := rating.Update(ratingX, ratingO, scoreX)
	newO := rating.Update(ratingO, ratingX, scoreO)

	if err := mutateUser(ctx, st, uidX, func(u *User) { u.Rating = newX }); err != nil {
		return err
	}
	return mutateUser(ctx, st, uidO, func(u *User) { u.Rating = newO })
}

// mutateUser rewrites one user record through a transaction so concurrent
// field updates (rating settlement vs. room assignment) never clobber
// each other.
func mutateUser(ctx context.Context, st store.Store, uid string, mutate func(*User)) error {
	_, err := st.Transact(ctx, userKey(uid), func(current []byte) ([]byte, error) {
		u := decodeUser(current)
		mutate(&u)
		return json.Marshal(u)
	})
	return err
}
