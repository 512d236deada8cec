package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"oxgame/internal/store"
)

func newTestStore(t *testing.T) *store.Memory {
	t.Helper()
	m := store.NewMemory()
	t.Cleanup(func() { m.Close() })
	return m
}

// newTestEngine returns an unstarted engine with periods shortened for
// tests. Callers adjust them further before startEngine.
func newTestEngine(t *testing.T, m *store.Memory, uid string) *Engine {
	t.Helper()
	e := New(m, uid, nil)
	e.TurnBudget = 5 * time.Second
	e.SearchTimeout = 5 * time.Second
	e.ThinkDelay = time.Millisecond
	return e
}

func startEngine(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { e.Close() })
}

func waitForView(t *testing.T, e *Engine, what string, cond func(View) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond(e.View()) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s; last view %+v", what, e.View())
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitForStore(t *testing.T, m *store.Memory, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func storedUser(t *testing.T, m *store.Memory, uid string) User {
	t.Helper()
	data, err := m.Read(context.Background(), userKey(uid))
	if err != nil {
		t.Fatalf("read user %s: %v", uid, err)
	}
	return decodeUser(data)
}

// pairEngines starts two engines on the same store and matches them.
// The first to search is queued and plays X; the second plays O.
func pairEngines(t *testing.T, m *store.Memory) (*Engine, *Engine) {
	t.Helper()
	e1 := newTestEngine(t, m, "u1")
	e2 := newTestEngine(t, m, "u2")
	startEngine(t, e1)
	startEngine(t, e2)
	matchEngines(t, m, e1, e2)
	return e1, e2
}

func matchEngines(t *testing.T, m *store.Memory, e1, e2 *Engine) {
	t.Helper()
	ctx := context.Background()
	if err := e1.StartSearch(ctx); err != nil {
		t.Fatalf("search u1: %v", err)
	}
	waitForStore(t, m, "u1 queued", func() bool {
		data, _ := m.Read(ctx, queueKey("u1"))
		return data != nil
	})
	if err := e2.StartSearch(ctx); err != nil {
		t.Fatalf("search u2: %v", err)
	}
	waitForView(t, e1, "u1 in game as X", func(v View) bool {
		return v.InGame && v.Symbol == SymbolX
	})
	waitForView(t, e2, "u2 in game as O", func(v View) bool {
		return v.InGame && v.Symbol == SymbolO
	})
}

func clickWhenReady(t *testing.T, e *Engine, cell int) {
	t.Helper()
	waitForView(t, e, "own turn", func(v View) bool { return v.CanMove })
	if err := e.ClickCell(context.Background(), cell); err != nil {
		t.Fatalf("click %d: %v", cell, err)
	}
}

func TestStartCreatesUser(t *testing.T) {
	m := newTestStore(t)
	e := newTestEngine(t, m, "u1")
	startEngine(t, e)

	u := storedUser(t, m, "u1")
	if u.Rating != 1500 {
		t.Fatalf("expected default rating 1500, got %d", u.Rating)
	}
	v := e.View()
	if v.UID != "u1" || v.Rating != 1500 {
		t.Fatalf("unexpected view %+v", v)
	}

	if err := e.Start(context.Background()); err == nil {
		t.Fatal("expected error on second start")
	}
}

func TestStartKeepsExistingUser(t *testing.T) {
	m := newTestStore(t)
	data, _ := json.Marshal(User{Rating: 1740, Nickname: "Vera"})
	m.Write(context.Background(), userKey("u1"), data)

	e := newTestEngine(t, m, "u1")
	startEngine(t, e)

	waitForView(t, e, "existing profile", func(v View) bool {
		return v.Rating == 1740 && v.Nickname == "Vera"
	})
}

func TestMatchmakingPairsTwoPlayers(t *testing.T) {
	m := newTestStore(t)
	e1, e2 := pairEngines(t, m)

	waitForView(t, e1, "X to move", func(v View) bool { return v.CanMove })
	if v := e2.View(); v.CanMove {
		t.Fatal("O must not move first")
	}
	if v := e1.View(); v.Board != blankBoard {
		t.Fatalf("expected empty board, got %q", v.Board)
	}

	ctx := context.Background()
	if data, _ := m.Read(ctx, queueKey("u1")); data != nil {
		t.Fatal("expected u1 removed from queue")
	}
	if data, _ := m.Read(ctx, queueKey("u2")); data != nil {
		t.Fatal("expected u2 removed from queue")
	}
	u1 := storedUser(t, m, "u1")
	u2 := storedUser(t, m, "u2")
	if u1.CurrentRoom == "" || u1.CurrentRoom != u2.CurrentRoom {
		t.Fatalf("expected both users in one room, got %q and %q", u1.CurrentRoom, u2.CurrentRoom)
	}
	if u1.CurrentSymbol != SymbolX || u2.CurrentSymbol != SymbolO {
		t.Fatalf("expected queued player X, searcher O, got %q and %q", u1.CurrentSymbol, u2.CurrentSymbol)
	}
}

func TestPvPMovePropagates(t *testing.T) {
	m := newTestStore(t)
	e1, e2 := pairEngines(t, m)

	clickWhenReady(t, e1, 4)
	waitForView(t, e1, "own move on board", func(v View) bool { return v.Board == "....X...." })
	waitForView(t, e2, "opponent move visible", func(v View) bool {
		return v.Board == "....X...." && v.CanMove
	})
}

func TestPvPWinSettlesRatingsExactlyOnce(t *testing.T) {
	m := newTestStore(t)
	e1, e2 := pairEngines(t, m)

	// X takes the middle column: 4, 1, 7.
	clickWhenReady(t, e1, 4)
	clickWhenReady(t, e2, 0)
	clickWhenReady(t, e1, 1)
	clickWhenReady(t, e2, 2)
	clickWhenReady(t, e1, 7)

	waitForView(t, e1, "winner notice", func(v View) bool {
		return strings.Contains(v.Status, "you won") && v.CanRematch && !v.CanMove
	})
	waitForView(t, e2, "loser notice", func(v View) bool {
		return strings.Contains(v.Status, "you lost") && v.CanRematch
	})

	// Both clients race to settle; the claim flag makes it a single update.
	waitForStore(t, m, "settled ratings", func() bool {
		return storedUser(t, m, "u1").Rating == 1516 && storedUser(t, m, "u2").Rating == 1484
	})
	waitForView(t, e1, "winner rating", func(v View) bool { return v.Rating == 1516 })
	waitForView(t, e2, "loser rating", func(v View) bool { return v.Rating == 1484 })
}

func TestPvPRematchSwapsSides(t *testing.T) {
	m := newTestStore(t)
	e1, e2 := pairEngines(t, m)

	clickWhenReady(t, e1, 4)
	clickWhenReady(t, e2, 0)
	clickWhenReady(t, e1, 1)
	clickWhenReady(t, e2, 2)
	clickWhenReady(t, e1, 7)

	waitForStore(t, m, "settled ratings", func() bool {
		return storedUser(t, m, "u1").Rating == 1516
	})

	ctx := context.Background()
	if err := e1.RequestRematch(ctx); err != nil {
		t.Fatalf("rematch u1: %v", err)
	}
	waitForView(t, e2, "opponent rematch visible", func(v View) bool {
		return strings.Contains(v.Status, "rematch")
	})
	if err := e2.RequestRematch(ctx); err != nil {
		t.Fatalf("rematch u2: %v", err)
	}

	// Sides swap: the old X plays O and waits for the new X to open.
	waitForView(t, e1, "u1 now O", func(v View) bool {
		return v.InGame && v.Symbol == SymbolO && v.Board == blankBoard
	})
	waitForView(t, e2, "u2 now X to move", func(v View) bool {
		return v.InGame && v.Symbol == SymbolX && v.CanMove
	})
}

func TestPvPTurnDeadlineForfeits(t *testing.T) {
	m := newTestStore(t)
	e1 := newTestEngine(t, m, "u1")
	e2 := newTestEngine(t, m, "u2")
	e1.TurnBudget = 40 * time.Millisecond
	e2.TurnBudget = 40 * time.Millisecond
	startEngine(t, e1)
	startEngine(t, e2)
	matchEngines(t, m, e1, e2)

	// X never moves; the deadline passes the turn to O without touching
	// the board.
	waitForView(t, e2, "turn passed to O", func(v View) bool {
		return v.CanMove && v.Board == blankBoard
	})
}

func TestLeaveClearsOnlyOwnUser(t *testing.T) {
	m := newTestStore(t)
	e1, e2 := pairEngines(t, m)
	ctx := context.Background()

	if err := e2.Leave(ctx); err != nil {
		t.Fatalf("leave: %v", err)
	}
	waitForView(t, e2, "back in lobby", func(v View) bool {
		return !v.InGame && v.Status == "Returned to the lobby."
	})

	u2 := storedUser(t, m, "u2")
	if u2.CurrentRoom != "" || u2.CurrentSymbol != "" {
		t.Fatalf("expected u2's room fields cleared, got %+v", u2)
	}
	u1 := storedUser(t, m, "u1")
	if u1.CurrentRoom == "" {
		t.Fatal("leaving must not touch the opponent's record")
	}
	if data, _ := m.Read(ctx, roomKey(u1.CurrentRoom)); data == nil {
		t.Fatal("leaving must not delete the room")
	}
	if v := e1.View(); !v.InGame {
		t.Fatal("opponent must stay in the game")
	}
}

func TestRoomRemovedResetsToLobby(t *testing.T) {
	m := newTestStore(t)
	e1, _ := pairEngines(t, m)
	ctx := context.Background()

	roomID := storedUser(t, m, "u1").CurrentRoom
	if err := m.Write(ctx, roomKey(roomID), nil); err != nil {
		t.Fatalf("delete room: %v", err)
	}
	waitForView(t, e1, "lobby reset", func(v View) bool {
		return !v.InGame && strings.Contains(v.Status, "room removed")
	})
}

func TestSearchFallbackStartsLocalGame(t *testing.T) {
	m := newTestStore(t)
	e := newTestEngine(t, m, "u1")
	e.SearchTimeout = 20 * time.Millisecond
	startEngine(t, e)
	ctx := context.Background()

	if err := e.StartSearch(ctx); err != nil {
		t.Fatalf("search: %v", err)
	}
	// Nobody shows up; the first local game gives the human X and the
	// opening move.
	waitForView(t, e, "local game", func(v View) bool {
		return v.InGame && v.Symbol == SymbolX && v.CanMove && !v.Searching
	})
	if data, _ := m.Read(ctx, queueKey("u1")); data != nil {
		t.Fatal("expected queue entry removed on fallback")
	}

	if err := e.ClickCell(ctx, 4); err != nil {
		t.Fatalf("click: %v", err)
	}
	waitForView(t, e, "reply move", func(v View) bool {
		return v.Board[4] == 'X' && strings.Count(v.Board, "O") == 1
	})
}

func TestLocalGameCompletesAndWritesRating(t *testing.T) {
	m := newTestStore(t)
	e := newTestEngine(t, m, "u1")
	e.SearchTimeout = 10 * time.Millisecond
	startEngine(t, e)
	ctx := context.Background()

	e.StartSearch(ctx)
	waitForView(t, e, "local game", func(v View) bool { return v.InGame })

	// Play first-empty-cell until the game ends; nine moves bound it.
	deadline := time.Now().Add(5 * time.Second)
	for {
		v := e.View()
		if !v.InGame {
			break
		}
		if v.CanMove {
			cell := strings.IndexByte(v.Board, '.')
			if cell < 0 {
				t.Fatalf("no empty cell on live board %q", v.Board)
			}
			e.ClickCell(ctx, cell)
		}
		if time.Now().After(deadline) {
			t.Fatalf("game did not finish; view %+v", e.View())
		}
		time.Sleep(time.Millisecond)
	}

	v := e.View()
	if !strings.Contains(v.Status, "Game over") || !v.CanRematch {
		t.Fatalf("unexpected end state %+v", v)
	}
	switch v.Rating {
	case 1484, 1500, 1516:
	default:
		t.Fatalf("unexpected rating %d", v.Rating)
	}
	if got := storedUser(t, m, "u1").Rating; got != v.Rating {
		t.Fatalf("stored rating %d does not match view %d", got, v.Rating)
	}
}

func TestLocalRematchAlternatesSymbols(t *testing.T) {
	m := newTestStore(t)
	e := newTestEngine(t, m, "u1")
	e.SearchTimeout = 10 * time.Millisecond
	startEngine(t, e)
	ctx := context.Background()

	e.StartSearch(ctx)
	waitForView(t, e, "first local game as X", func(v View) bool {
		return v.InGame && v.Symbol == SymbolX
	})

	if err := e.RequestRematch(ctx); err != nil {
		t.Fatalf("rematch: %v", err)
	}
	// Second game: the human takes O and the opponent opens as X.
	waitForView(t, e, "second local game as O", func(v View) bool {
		return v.InGame && v.Symbol == SymbolO
	})
	waitForView(t, e, "opponent opening move", func(v View) bool {
		return strings.Count(v.Board, "X") == 1 && v.CanMove
	})
}

func TestLocalHumanTimeoutHandsTurnToOpponent(t *testing.T) {
	m := newTestStore(t)
	e := newTestEngine(t, m, "u1")
	e.SearchTimeout = 10 * time.Millisecond
	e.TurnBudget = 30 * time.Millisecond
	startEngine(t, e)
	ctx := context.Background()

	e.StartSearch(ctx)
	waitForView(t, e, "local game", func(v View) bool { return v.InGame })

	// The human idles past the budget; the opponent moves in their place
	// rather than the turn being skipped back.
	waitForView(t, e, "opponent move after idle turn", func(v View) bool {
		return strings.Count(v.Board, "O") >= 1 && strings.Count(v.Board, "X") == 0
	})
}

func TestCancelSearch(t *testing.T) {
	m := newTestStore(t)
	e := newTestEngine(t, m, "u1")
	startEngine(t, e)
	ctx := context.Background()

	e.StartSearch(ctx)
	waitForStore(t, m, "queued", func() bool {
		data, _ := m.Read(ctx, queueKey("u1"))
		return data != nil
	})
	if err := e.CancelSearch(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if data, _ := m.Read(ctx, queueKey("u1")); data != nil {
		t.Fatal("expected queue entry removed")
	}
	if v := e.View(); v.Searching {
		t.Fatal("expected search state cleared")
	}
}

func TestLobbyWaitingVisibleToOthers(t *testing.T) {
	m := newTestStore(t)
	e1 := newTestEngine(t, m, "u1")
	e2 := newTestEngine(t, m, "u2")
	startEngine(t, e1)
	startEngine(t, e2)
	ctx := context.Background()

	e1.StartSearch(ctx)
	waitForView(t, e2, "lobby waiting flag", func(v View) bool { return v.LobbyWaiting })
	// One's own queue entry does not count.
	if v := e1.View(); v.LobbyWaiting {
		t.Fatal("own queue entry must not raise the flag")
	}

	e1.CancelSearch(ctx)
	waitForView(t, e2, "flag cleared", func(v View) bool { return !v.LobbyWaiting })
}

func TestCloseRemovesQueueEntry(t *testing.T) {
	m := newTestStore(t)
	e := newTestEngine(t, m, "u1")
	startEngine(t, e)
	ctx := context.Background()

	e.StartSearch(ctx)
	waitForStore(t, m, "queued", func() bool {
		data, _ := m.Read(ctx, queueKey("u1"))
		return data != nil
	})
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if data, _ := m.Read(ctx, queueKey("u1")); data != nil {
		t.Fatal("expected queue entry removed on close")
	}
}

func TestSaveNickname(t *testing.T) {
	m := newTestStore(t)
	e := newTestEngine(t, m, "u1")
	startEngine(t, e)
	ctx := context.Background()

	if err := e.SaveNickname(ctx, "  Grace  "); err != nil {
		t.Fatalf("save nickname: %v", err)
	}
	if got := storedUser(t, m, "u1").Nickname; got != "Grace" {
		t.Fatalf("expected trimmed nickname, got %q", got)
	}

	if err := e.SaveNickname(ctx, strings.Repeat("a", 17)); err == nil {
		t.Fatal("expected error for overlong nickname")
	}
	if got := storedUser(t, m, "u1").Nickname; got != "Grace" {
		t.Fatalf("rejected nickname must not be stored, got %q", got)
	}

	// Rune count, not byte count.
	name := strings.Repeat("й", 16)
	if err := e.SaveNickname(ctx, name); err != nil {
		t.Fatalf("16-rune nickname rejected: %v", err)
	}
}

func TestLeaderboard(t *testing.T) {
	m := newTestStore(t)
	e := newTestEngine(t, m, "u1")
	startEngine(t, e)
	ctx := context.Background()

	seed := map[string]User{
		"a": {Rating: 1520, Nickname: "Ann"},
		"b": {Rating: 1600},
		"c": {Rating: 1520, Nickname: "Cleo"},
	}
	for uid, u := range seed {
		data, _ := json.Marshal(u)
		m.Write(ctx, userKey(uid), data)
	}

	got, err := e.Leaderboard(ctx, 3)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].UID != "b" {
		t.Fatalf("expected b first, got %s", got[0].UID)
	}
	// Ties order by identity.
	if got[1].UID != "a" || got[2].UID != "c" {
		t.Fatalf("unexpected tie order: %s, %s", got[1].UID, got[2].UID)
	}

	top, err := e.Leaderboard(ctx, 2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(top))
	}
}
