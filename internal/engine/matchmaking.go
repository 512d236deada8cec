package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"oxgame/internal/board"
	"oxgame/internal/logger"
)

// StartSearch looks for a queued opponent. On a hit the pair is matched
// immediately; otherwise the user is queued and falls back to a local
// single-player game if nobody shows up in time.
//
// The pairing write is a plain multi-key write, not a transaction: two
// searchers can in rare cases grab the same queued opponent at once,
// a race inherited from the source system and accepted here.
func (e *Engine) StartSearch(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.searching || e.roomID != "" || e.local != nil {
		return nil
	}
	e.fallbackTimer.stop()
	e.searching = true
	e.setStatusLocked("Searching for an opponent...")

	entries, err := e.st.ReadAll(ctx, "queue/")
	if err != nil {
		e.searching = false
		e.setStatusLocked("Matchmaking failed: " + err.Error())
		return err
	}
	opponent := ""
	for key := range entries {
		if uid := strings.TrimPrefix(key, "queue/"); uid != e.uid {
			opponent = uid
			break
		}
	}

	if opponent != "" {
		if err := e.pairWithLocked(ctx, opponent); err != nil {
			e.searching = false
			e.setStatusLocked("Matchmaking failed: " + err.Error())
			return err
		}
		e.searching = false
		e.setStatusLocked("Match found.")
		return nil
	}

	entry, _ := json.Marshal(QueueEntry{EnqueuedAt: e.now().UnixMilli()})
	if err := e.st.Write(ctx, queueKey(e.uid), entry); err != nil {
		e.searching = false
		e.setStatusLocked("Matchmaking failed: " + err.Error())
		return err
	}
	e.setStatusLocked("Waiting for an opponent...")
	e.fallbackTimer.schedule(e.SearchTimeout, e.onSearchTimeout)
	return nil
}

// pairWithLocked creates the room and points both users at it. The queued
// player takes X and moves first; the searcher takes O.
func (e *Engine) pairWithLocked(ctx context.Context, opponent string) error {
	id := uuid.NewString()
	room := &Room{
		Players:      Players{X: opponent, O: e.uid},
		Board:        board.New().String(),
		Turn:         SymbolX,
		Status:       StatusPlaying,
		TurnDeadline: e.now().UnixMilli() + e.TurnBudget.Milliseconds(),
	}
	data, err := encodeRoom(room)
	if err != nil {
		return err
	}
	if err := e.st.WriteMulti(ctx, map[string][]byte{
		roomKey(id):        data,
		queueKey(e.uid):    nil,
		queueKey(opponent): nil,
	}); err != nil {
		return err
	}
	if err := mutateUser(ctx, e.st, opponent, func(u *User) {
		u.CurrentRoom = id
		u.CurrentSymbol = SymbolX
	}); err != nil {
		return err
	}
	return mutateUser(ctx, e.st, e.uid, func(u *User) {
		u.CurrentRoom = id
		u.CurrentSymbol = SymbolO
	})
}

// CancelSearch withdraws from the queue.
func (e *Engine) CancelSearch(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.searching || e.roomID != "" || e.local != nil {
		return nil
	}
	e.searching = false
	e.fallbackTimer.stop()
	if err := e.st.Write(ctx, queueKey(e.uid), nil); err != nil {
		e.setStatusLocked("Cancel failed: " + err.Error())
		return err
	}
	e.setStatusLocked("Search cancelled.")
	return nil
}

// onSearchTimeout gives up on finding a human and starts a local game.
func (e *Engine) onSearchTimeout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.searching || e.roomID != "" || e.local != nil {
		return
	}
	if err := e.st.Write(e.ctx, queueKey(e.uid), nil); err != nil {
		logger.Warn("leave queue", "error", err)
	}
	e.searching = false
	e.startLocalGameLocked()
}
