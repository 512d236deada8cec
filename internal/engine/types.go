package engine

import (
	"encoding/json"
	"fmt"

	"oxgame/internal/board"
	"oxgame/internal/rating"
)

// Symbols and room states as stored in the shared store.
const (
	SymbolX = "X"
	SymbolO = "O"

	StatusPlaying  = "playing"
	StatusFinished = "finished"

	WinnerDraw = "draw"
)

func otherSymbol(sym string) string {
	if sym == SymbolX {
		return SymbolO
	}
	return SymbolX
}

func cellOf(sym string) board.Cell {
	if sym == SymbolO {
		return board.O
	}
	return board.X
}

// User is the identity-keyed record stored at users/{uid}. Created on
// first sign-in, never deleted.
type User struct {
	Rating        int    `json:"rating"`
	CurrentRoom   string `json:"currentRoom,omitempty"`
	CurrentSymbol string `json:"currentSymbol,omitempty"`
	Nickname      string `json:"nickname,omitempty"`
}

func defaultUser() User {
	return User{Rating: rating.Default}
}

// QueueEntry marks a user as waiting for an opponent.
type QueueEntry struct {
	EnqueuedAt int64 `json:"enqueuedAt"`
}

// Players maps symbols to identities.
type Players struct {
	X string `json:"X"`
	O string `json:"O"`
}

// Room is one PvP match, stored at rooms/{id}. After the pairing write
// that creates it, every mutation goes through a conditional transaction.
type Room struct {
	Players         Players         `json:"players"`
	Board           string          `json:"board"`
	Turn            string          `json:"turn"`
	Status          string          `json:"status"`
	Winner          string          `json:"winner,omitempty"`
	TurnDeadline    int64           `json:"turnDeadline,omitempty"` // unix millis, 0 when finished
	RatingSettled   bool            `json:"ratingSettled,omitempty"`
	RematchRequests map[string]bool `json:"rematchRequests,omitempty"`
	RematchClaimed  bool            `json:"rematchClaimed,omitempty"`
}

// symbolOf returns uid's symbol in the room, or "".
func (r *Room) symbolOf(uid string) string {
	switch uid {
	case r.Players.X:
		return SymbolX
	case r.Players.O:
		return SymbolO
	}
	return ""
}

// opponentOf returns the other player's identity, or "".
func (r *Room) opponentOf(uid string) string {
	switch uid {
	case r.Players.X:
		return r.Players.O
	case r.Players.O:
		return r.Players.X
	}
	return ""
}

// finish closes the room with the given winner and drops the deadline.
func (r *Room) finish(winner string) {
	r.Status = StatusFinished
	r.Winner = winner
	r.TurnDeadline = 0
}

func decodeRoom(data []byte) (*Room, error) {
	var r Room
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode room: %w", err)
	}
	return &r, nil
}

func encodeRoom(r *Room) ([]byte, error) {
	return json.Marshal(r)
}

func decodeUser(data []byte) User {
	u := defaultUser()
	if data != nil {
		json.Unmarshal(data, &u)
	}
	return u
}

func userKey(uid string) string  { return "users/" + uid }
func queueKey(uid string) string { return "queue/" + uid }
func roomKey(id string) string   { return "rooms/" + id }
