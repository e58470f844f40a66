package game

import "context"

type EventType string

const (
	EvtGameStart EventType = "game_start"
	EvtGameEnd   EventType = "game_end"
	EvtRejoin    EventType = "rejoin"
)

// Event is what a game pushes to its clients.
type Event struct {
	Type     EventType
	GameID   string
	Config   Config
	LastTurn int
}

// Conn is the transport side of a client. The ws package provides the real one.
type Conn interface {
	Send(ctx context.Context, ev Event) error
}

// Client is an already authenticated connection handed to a game.
type Client struct {
	ID   string
	Conn Conn
}

type member struct {
	client   Client
	lastTurn int
}
