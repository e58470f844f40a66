package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-scheduler/internal/game"
	"github.com/DoyleJ11/lobby-scheduler/internal/types"
)

const (
	joinTimeout  = 10 * time.Second
	writeTimeout = 3 * time.Second
	readTimeout  = 60 * time.Second
)

// Router is the part of the hub the websocket endpoint needs.
type Router interface {
	AddClient(ctx context.Context, c game.Client, gameID string, lastTurn int) bool
	Game(id string) *game.Game
}

// conn adapts a websocket connection to game.Conn.
type conn struct {
	ws      *websocket.Conn
	endOnce sync.Once
	ended   chan struct{}
}

func (c *conn) Send(ctx context.Context, ev game.Event) error {
	payload, err := json.Marshal(types.FromEvent(ev))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	err = c.ws.Write(ctx, websocket.MessageText, payload)
	if ev.Type == game.EvtGameEnd {
		c.endOnce.Do(func() { close(c.ended) })
	}
	return err
}

func Handler(h Router, log *zap.Logger) http.HandlerFunc {
	log = log.Named("ws")
	return func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := websocket.Accept(w, r, nil)
		if err != nil {
			log.Debug("accept websocket", zap.Error(err))
			return
		}
		defer wsConn.Close(websocket.StatusNormalClosure, "bye")

		join, err := readJoin(r.Context(), wsConn)
		if err != nil {
			writeError(r.Context(), wsConn, err.Error())
			return
		}

		// Callers are authenticated upstream, so the client id is taken as given.
		// Reusing an id takes over that roster slot, which is how reconnects work.
		clientID := join.ClientID
		if clientID == "" {
			clientID = uuid.NewString()
		}
		c := &conn{ws: wsConn, ended: make(chan struct{})}

		if !h.AddClient(r.Context(), game.Client{ID: clientID, Conn: c}, join.GameID, join.LastTurn) {
			writeError(r.Context(), wsConn, "game not found")
			return
		}
		defer func() {
			if g := h.Game(join.GameID); g != nil {
				g.RemoveClient(clientID, c)
			}
		}()

		readCtx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			select {
			case <-c.ended:
				cancel()
			case <-readCtx.Done():
			}
		}()

		// Game traffic belongs to the simulation; here we only keep the
		// connection alive until the client leaves or the game ends.
		for {
			ctx, cancelRead := context.WithTimeout(readCtx, readTimeout)
			_, _, err := wsConn.Read(ctx)
			cancelRead()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("client read ended", zap.String("client_id", clientID), zap.Error(err))
				}
				return
			}
		}
	}
}

var (
	errNoJoin   = errors.New("no join message")
	errBadJSON  = errors.New("bad json")
	errNotAJoin = errors.New("expected join with game_id")
)

func readJoin(ctx context.Context, c *websocket.Conn) (types.ClientMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	_, data, err := c.Read(ctx)
	if err != nil {
		return types.ClientMessage{}, errNoJoin
	}
	var cm types.ClientMessage
	if err := json.Unmarshal(data, &cm); err != nil {
		return types.ClientMessage{}, errBadJSON
	}
	if cm.Type != "join" || cm.GameID == "" {
		return types.ClientMessage{}, errNotAJoin
	}
	return cm, nil
}

func writeError(ctx context.Context, c *websocket.Conn, msg string) {
	payload, _ := json.Marshal(types.ServerMessage{Type: "error", Error: msg})
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = c.Write(ctx, websocket.MessageText, payload)
}
