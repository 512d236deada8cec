package engine

// View is the renderable snapshot pushed to the UI layer after every
// state change: board, status line and which controls make sense.
type View struct {
	UID          string
	Rating       int
	Nickname     string
	Board        string // 9-character wire form
	Status       string
	Symbol       string // own symbol, "" outside a match
	Searching    bool
	InGame       bool
	CanMove      bool
	CanRematch   bool
	LobbyWaiting bool // someone else is queued for a match
}

func (e *Engine) emitLocked() {
	if e.views == nil {
		return
	}
	e.views.Send(e.viewLocked())
}

func (e *Engine) viewLocked() View {
	v := View{
		UID:          e.uid,
		Rating:       e.user.Rating,
		Nickname:     e.user.Nickname,
		Board:        blankBoard,
		Status:       e.status,
		Searching:    e.searching,
		LobbyWaiting: e.lobbyWaiting,
	}
	switch {
	case e.local != nil:
		l := e.local
		v.Board = l.board.String()
		v.Symbol = l.human
		v.InGame = l.active
		v.CanMove = l.active && !l.thinking && l.turn == l.human
		v.CanRematch = !l.active
	case e.room != nil:
		v.Board = e.room.Board
		v.Symbol = e.symbol
		v.InGame = e.room.Status == StatusPlaying
		v.CanMove = e.room.Status == StatusPlaying && e.symbol != "" && e.room.Turn == e.symbol
		v.CanRematch = e.room.Status == StatusFinished && !e.room.RematchRequests[e.uid]
	}
	if v.InGame && e.lobbyWaiting {
		v.Status += " (someone is waiting in the lobby)"
	}
	return v
}
