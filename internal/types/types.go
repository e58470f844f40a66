package types

import "github.com/DoyleJ11/lobby-scheduler/internal/game"

// ClientMessage is the first frame a client sends on the websocket.
type ClientMessage struct {
	Type     string `json:"type"` // "join"
	GameID   string `json:"game_id"`
	ClientID string `json:"client_id,omitempty"`
	LastTurn int    `json:"last_turn,omitempty"`
}

type ServerMessage struct {
	Type     string       `json:"type"` // "game_start" | "rejoin" | "game_end" | "error"
	GameID   string       `json:"game_id,omitempty"`
	Config   *game.Config `json:"config,omitempty"`
	LastTurn int          `json:"last_turn,omitempty"`
	Error    string       `json:"error,omitempty"`
}

func FromEvent(ev game.Event) ServerMessage {
	msg := ServerMessage{Type: string(ev.Type), GameID: ev.GameID, LastTurn: ev.LastTurn}
	if ev.Type != game.EvtGameEnd {
		cfg := ev.Config
		msg.Config = &cfg
	}
	return msg
}

type LobbyInfo struct {
	GameID       string      `json:"game_id"`
	Config       game.Config `json:"config"`
	NumClients   int         `json:"num_clients"`
	MsUntilStart int64       `json:"ms_until_start"`
}

func FromInfo(info game.Info) LobbyInfo {
	return LobbyInfo{
		GameID:       info.ID,
		Config:       info.Config,
		NumClients:   info.NumClients,
		MsUntilStart: info.MsUntilStart,
	}
}
