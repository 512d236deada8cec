// Package engine implements the client-side game coordination: user
// bootstrap, matchmaking, the PvP room state machine, turn-deadline
// forfeits, exactly-once rematch and rating settlement, and the local
// single-player fallback. Every client runs the same logic redundantly;
// correctness under races comes from the store's conditional
// transactions, never from a central referee.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"oxgame/internal/ai"
	"oxgame/internal/board"
	"oxgame/internal/logger"
	"oxgame/internal/notify"
	"oxgame/internal/rating"
	"oxgame/internal/store"
)

// Defaults for the tunable periods.
const (
	DefaultTurnBudget    = 2 * time.Second
	DefaultSearchTimeout = 10 * time.Second
	DefaultThinkDelay    = 500 * time.Millisecond

	// timerSlack is added to the turn timer so the deadline has passed
	// by the time the forfeit transaction reads the clock.
	timerSlack = 10 * time.Millisecond

	maxNicknameLen = 16
)

var blankBoard = board.New().String()

// Engine coordinates one signed-in client session against the shared
// store. All callbacks (store notifications, timers) and operations are
// serialized on one mutex, mirroring a single-threaded event loop.
type Engine struct {
	// Tunable periods; adjust before Start.
	TurnBudget    time.Duration
	SearchTimeout time.Duration
	ThinkDelay    time.Duration

	st  store.Store
	uid string
	now func() time.Time

	views *notify.Notifier[View]

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	user         User
	symbol       string
	roomID       string
	room         *Room
	searching    bool
	lobbyWaiting bool
	status       string

	chooser         *ai.Chooser
	local           *localSession
	nextHumanSymbol string

	turnTimer     timer
	fallbackTimer timer
	humanTimer    timer
	thinkTimer    timer

	unsubUser  func()
	unsubQueue func()
	unsubRoom  func()
}

// New creates an engine for uid. onView, when non-nil, receives view
// snapshots after every state change; delivery coalesces to the latest
// view and runs on its own goroutine, so the callback may call back into
// the engine.
func New(st store.Store, uid string, onView func(View)) *Engine {
	e := &Engine{
		TurnBudget:      DefaultTurnBudget,
		SearchTimeout:   DefaultSearchTimeout,
		ThinkDelay:      DefaultThinkDelay,
		st:              st,
		uid:             uid,
		now:             time.Now,
		user:            defaultUser(),
		status:          "Signing in...",
		chooser:         ai.NewChooser(rating.Default),
		nextHumanSymbol: SymbolX,
	}
	if onView != nil {
		e.views = notify.New(onView)
	}
	return e
}

// Start creates the user record on first sign-in and begins watching it
// and the matchmaking queue.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("engine already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)

	data, err := e.st.Read(e.ctx, userKey(e.uid))
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}
	if data == nil {
		initial, _ := json.Marshal(defaultUser())
		if err := e.st.Write(e.ctx, userKey(e.uid), initial); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
	}

	unsubUser, err := e.st.Subscribe(e.ctx, userKey(e.uid), e.onUserChange)
	if err != nil {
		return fmt.Errorf("watch user: %w", err)
	}
	e.unsubUser = unsubUser

	unsubQueue, err := e.st.SubscribePrefix(e.ctx, "queue/", e.onQueueChange)
	if err != nil {
		unsubUser()
		return fmt.Errorf("watch queue: %w", err)
	}
	e.unsubQueue = unsubQueue

	e.started = true
	e.setStatusLocked("Press search to find an opponent.")
	return nil
}

// Close tears the session down: timers, subscriptions and the queue
// entry, so a vanished client does not linger as a phantom opponent.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.turnTimer.stop()
	e.fallbackTimer.stop()
	e.humanTimer.stop()
	e.thinkTimer.stop()
	for _, unsub := range []func(){e.unsubUser, e.unsubQueue, e.unsubRoom} {
		if unsub != nil {
			unsub()
		}
	}
	e.unsubUser, e.unsubQueue, e.unsubRoom = nil, nil, nil
	e.started = false
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := e.st.Write(ctx, queueKey(e.uid), nil)

	if e.cancel != nil {
		e.cancel()
	}
	if e.views != nil {
		e.views.Close()
	}
	return err
}

// View returns the current snapshot.
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.viewLocked()
}

func (e *Engine) setStatusLocked(msg string) {
	e.status = msg
	e.emitLocked()
}

func (e *Engine) onUserChange(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if data == nil {
		return
	}
	u := decodeUser(data)
	e.user = u
	e.chooser.SetRating(u.Rating)
	if u.CurrentSymbol == SymbolX || u.CurrentSymbol == SymbolO {
		e.symbol = u.CurrentSymbol
	}
	if e.roomID == "" && u.CurrentRoom != "" && e.local == nil {
		e.joinRoomLocked(u.CurrentRoom)
		return
	}
	e.emitLocked()
}

func (e *Engine) onQueueChange(values map[string][]byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	found := false
	for key := range values {
		if key != queueKey(e.uid) {
			found = true
			break
		}
	}
	e.lobbyWaiting = found
	e.emitLocked()
}

// joinRoomLocked attaches the session to a PvP room and starts following
// its state.
func (e *Engine) joinRoomLocked(id string) {
	if e.unsubRoom != nil {
		e.unsubRoom()
		e.unsubRoom = nil
	}
	e.local = nil
	e.humanTimer.stop()
	e.thinkTimer.stop()
	e.fallbackTimer.stop()
	e.searching = false
	e.roomID = id
	e.room = nil
	e.status = "Fetching match details..."

	unsub, err := e.st.Subscribe(e.ctx, roomKey(id), e.onRoomChange)
	if err != nil {
		logger.Error("watch room", "room", id, "error", err)
		e.roomID = ""
		e.setStatusLocked("Failed to open the match: " + err.Error())
		return
	}
	e.unsubRoom = unsub
	e.emitLocked()
}

func (e *Engine) onRoomChange(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.roomID == "" {
		return
	}
	if data == nil {
		// Room removed out from under us; back to the lobby.
		e.turnTimer.stop()
		e.roomID, e.room, e.symbol = "", nil, ""
		e.setStatusLocked("The match ended (room removed).")
		return
	}
	r, err := decodeRoom(data)
	if err != nil {
		logger.Error("room record", "room", e.roomID, "error", err)
		return
	}
	e.room = r
	e.scheduleTurnTimerLocked(r)

	if e.symbol == "" {
		if ud, err := e.st.Read(e.ctx, userKey(e.uid)); err == nil {
			u := decodeUser(ud)
			if u.CurrentSymbol == SymbolX || u.CurrentSymbol == SymbolO {
				e.symbol = u.CurrentSymbol
			}
		}
	}
	if e.symbol == "" {
		e.setStatusLocked("Fetching match details...")
		return
	}

	switch r.Status {
	case StatusPlaying:
		if r.Turn == e.symbol {
			e.status = fmt.Sprintf("You are %s. Your turn.", e.symbol)
		} else {
			e.status = fmt.Sprintf("You are %s. Waiting for your opponent.", e.symbol)
		}
	case StatusFinished:
		e.status = e.finishedStatus(r)
		e.maybeSettleLocked(r)
		e.maybeRematchLocked(r)
	}
	e.emitLocked()
}

func (e *Engine) finishedStatus(r *Room) string {
	msg := "Game over: "
	switch r.Winner {
	case WinnerDraw:
		msg += "it's a draw."
	case e.symbol:
		msg += "you won!"
	default:
		msg += "you lost."
	}
	opponent := r.opponentOf(e.uid)
	mine := r.RematchRequests[e.uid]
	theirs := opponent != "" && r.RematchRequests[opponent]
	switch {
	case !mine:
		msg += " Press rematch to challenge again."
	case !theirs:
		msg += " Rematch requested. Waiting for your opponent..."
	default:
		msg += " Both players want a rematch. Starting soon..."
	}
	return msg
}

// maybeSettleLocked runs the exactly-once rating settlement. Every client
// that sees the finished room tries; the claim transaction lets one
// through.
func (e *Engine) maybeSettleLocked(r *Room) {
	if r.RatingSettled {
		return
	}
	committed, err := claimRatingSettlement(e.ctx, e.st, e.roomID)
	if err != nil {
		logger.Error("claim rating settlement", "room", e.roomID, "error", err)
		return
	}
	if !committed {
		return
	}
	if err := settleRatings(e.ctx, e.st, e.roomID); err != nil {
		logger.Error("settle ratings", "room", e.roomID, "error", err)
	}
}

// maybeRematchLocked starts the rematch once both players have asked for
// one, guarded by the rematch claim flag.
func (e *Engine) maybeRematchLocked(r *Room) {
	opponent := r.opponentOf(e.uid)
	if opponent == "" || !r.RematchRequests[e.uid] || !r.RematchRequests[opponent] {
		return
	}
	if r.RematchClaimed {
		return
	}
	committed, err := claimRematch(e.ctx, e.st, e.roomID)
	if err != nil {
		logger.Error("claim rematch", "room", e.roomID, "error", err)
		return
	}
	if !committed {
		return
	}
	if err := performRematch(e.ctx, e.st, e.roomID, e.now, e.TurnBudget); err != nil {
		logger.Error("perform rematch", "room", e.roomID, "error", err)
	}
}

func (e *Engine) scheduleTurnTimerLocked(r *Room) {
	e.turnTimer.stop()
	if r.Status != StatusPlaying || r.TurnDeadline == 0 {
		return
	}
	delay := time.Duration(r.TurnDeadline-e.now().UnixMilli()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	e.turnTimer.schedule(delay+timerSlack, e.onTurnDeadline)
}

func (e *Engine) onTurnDeadline() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.roomID == "" {
		return
	}
	if _, err := forfeitExpiredTurn(e.ctx, e.st, e.roomID, e.now, e.TurnBudget); err != nil {
		logger.Warn("turn forfeit", "room", e.roomID, "error", err)
	}
}

// ClickCell plays the given cell: in a PvP room through a conditional
// transaction, in a local session directly. Stale clicks are silent
// no-ops.
func (e *Engine) ClickCell(ctx context.Context, cell int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local != nil {
		return e.localClickLocked(cell)
	}
	if e.roomID == "" || e.room == nil || e.symbol == "" {
		return nil
	}
	if _, err := applyMove(ctx, e.st, e.roomID, e.symbol, cell, e.now, e.TurnBudget); err != nil {
		e.setStatusLocked("Move failed: " + err.Error())
		return err
	}
	return nil
}

// RequestRematch records the wish to play again. In a local session it
// simply starts the next game.
func (e *Engine) RequestRematch(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local != nil {
		e.startLocalGameLocked()
		return nil
	}
	if e.roomID == "" {
		return nil
	}
	committed, err := requestRematch(ctx, e.st, e.roomID, e.uid)
	if err != nil {
		e.setStatusLocked("Rematch request failed: " + err.Error())
		return err
	}
	if committed {
		e.setStatusLocked("Rematch requested. Waiting for your opponent...")
	}
	return nil
}

// Leave returns to the lobby. The room itself is left in place for the
// other player; only this user's references to it are cleared.
func (e *Engine) Leave(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.local != nil {
		e.local = nil
		e.humanTimer.stop()
		e.thinkTimer.stop()
		e.setStatusLocked("Returned to the lobby.")
		return nil
	}
	if e.unsubRoom != nil {
		e.unsubRoom()
		e.unsubRoom = nil
	}
	e.turnTimer.stop()
	e.roomID, e.room, e.symbol = "", nil, ""
	e.searching = false
	if err := mutateUser(ctx, e.st, e.uid, func(u *User) {
		u.CurrentRoom = ""
		u.CurrentSymbol = ""
	}); err != nil {
		e.setStatusLocked("Leaving failed: " + err.Error())
		return err
	}
	e.setStatusLocked("Returned to the lobby.")
	return nil
}

// SaveNickname stores the display name shown on the leaderboard.
func (e *Engine) SaveNickname(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxNicknameLen {
		e.setStatusLocked(fmt.Sprintf("Nickname must be %d characters or fewer.", maxNicknameLen))
		return fmt.Errorf("nickname longer than %d characters", maxNicknameLen)
	}
	if err := mutateUser(ctx, e.st, e.uid, func(u *User) { u.Nickname = name }); err != nil {
		e.setStatusLocked("Saving nickname failed: " + err.Error())
		return err
	}
	e.setStatusLocked("Nickname updated.")
	return nil
}

// LeaderboardEntry is one row of the rating table.
type LeaderboardEntry struct {
	UID      string
	Nickname string
	Rating   int
}

// Leaderboard returns the top n users by rating.
func (e *Engine) Leaderboard(ctx context.Context, n int) ([]LeaderboardEntry, error) {
	values, err := e.st.ReadAll(ctx, "users/")
	if err != nil {
		return nil, err
	}
	entries := make([]LeaderboardEntry, 0, len(values))
	for key, data := range values {
		var u User
		if err := json.Unmarshal(data, &u); err != nil {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			UID:      strings.TrimPrefix(key, "users/"),
			Nickname: u.Nickname,
			Rating:   u.Rating,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Rating != entries[j].Rating {
			return entries[i].Rating > entries[j].Rating
		}
		return entries[i].UID < entries[j].UID
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}
