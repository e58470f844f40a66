// Package hub owns every live game and moves them through their phases.
//
// A host process calls Tick once per heartbeat (or lets Run do it). Each tick
// opens a new public lobby when the creation interval has passed, starts
// public games whose lobby time is up, and finalizes and drops finished games.
// Request handlers route joins and config edits through the same Hub.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-scheduler/internal/clock"
	"github.com/DoyleJ11/lobby-scheduler/internal/game"
	"github.com/DoyleJ11/lobby-scheduler/internal/metrics"
	"github.com/DoyleJ11/lobby-scheduler/internal/playlist"
	"github.com/DoyleJ11/lobby-scheduler/internal/shuffle"
)

var (
	ErrGameNotFound = errors.New("game not found")
	ErrPublicGame   = errors.New("public games are scheduler controlled")
)

type Config struct {
	LobbyCreationInterval time.Duration
	LobbyDuration         time.Duration
	MaxGameDuration       time.Duration

	// PrivateLobbyIdleTimeout finishes private games that are still in their
	// lobby this long after creation. Zero keeps them until they finish.
	PrivateLobbyIdleTimeout time.Duration

	PublicBots   int
	MapWeights   playlist.Weights
	PlaylistSeed uint64
}

// SimulationFactory builds the simulation for a newly created game.
type SimulationFactory func(gameID string) game.Simulation

type Option func(*Hub)

func WithClock(c clock.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) { h.log = l }
}

func WithSimulationFactory(f SimulationFactory) Option {
	return func(h *Hub) { h.newSim = f }
}

type Hub struct {
	cfg    Config
	clock  clock.Clock
	log    *zap.Logger
	newSim SimulationFactory

	// tickMu keeps ticks from overlapping; mu guards the fields below it.
	tickMu sync.Mutex

	mu              sync.Mutex
	games           map[string]*game.Game
	playlist        *playlist.Playlist
	lastPublicLobby time.Time
}

func New(cfg Config, opts ...Option) (*Hub, error) {
	pl, err := playlist.New(cfg.MapWeights, shuffle.NewSource(cfg.PlaylistSeed))
	if err != nil {
		return nil, fmt.Errorf("build playlist: %w", err)
	}
	h := &Hub{
		cfg:      cfg,
		clock:    clock.Real{},
		log:      zap.NewNop(),
		newSim:   func(string) game.Simulation { return game.NopSimulation{} },
		games:    make(map[string]*game.Game),
		playlist: pl,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = h.log.Named("hub")
	return h, nil
}

// Game returns the live game with the given id, or nil.
func (h *Hub) Game(id string) *game.Game {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.games[id]
}

// GamesByPhase returns live games currently in phase p, in no particular order.
func (h *Hub) GamesByPhase(p game.Phase) []*game.Game {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*game.Game
	for _, g := range h.games {
		if g.Phase() == p {
			out = append(out, g)
		}
	}
	return out
}

// NumGames returns the size of the live collection.
func (h *Hub) NumGames() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.games)
}

// PublicLobbies lists public games still accepting players before their start.
func (h *Hub) PublicLobbies() []game.Info {
	var out []game.Info
	for _, g := range h.GamesByPhase(game.PhaseLobby) {
		if g.IsPublic() {
			out = append(out, g.Info())
		}
	}
	return out
}

// AddClient routes a join or reconnect to gameID. It reports false when no
// such game is live or the game no longer takes clients.
func (h *Hub) AddClient(ctx context.Context, c game.Client, gameID string, lastTurn int) bool {
	g := h.Game(gameID)
	if g == nil {
		h.log.Warn("join for unknown game", zap.String("game_id", gameID), zap.String("client_id", c.ID))
		return false
	}
	if err := g.AddClient(ctx, c, lastTurn); err != nil {
		h.log.Warn("join refused", zap.String("game_id", gameID), zap.String("client_id", c.ID), zap.Error(err))
		return false
	}
	return true
}

// UpdateGameConfig applies cfg to a private game still in its lobby. Unknown
// games, public games and started games are rejected with a warning.
func (h *Hub) UpdateGameConfig(gameID string, cfg game.Config) bool {
	err := h.updateGameConfig(gameID, cfg)
	if err != nil {
		h.log.Warn("config update rejected", zap.String("game_id", gameID), zap.Error(err))
		return false
	}
	return true
}

func (h *Hub) updateGameConfig(gameID string, cfg game.Config) error {
	g := h.Game(gameID)
	if g == nil {
		return ErrGameNotFound
	}
	if g.IsPublic() {
		return ErrPublicGame
	}
	return g.UpdateGameConfig(cfg)
}

// CreatePrivateGame adds a private game with default settings right away and
// returns its id for the creator to share.
//
// Private games only leave the hub once they finish. One that is never started
// stays forever unless PrivateLobbyIdleTimeout is set.
func (h *Hub) CreatePrivateGame() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	g, err := h.createGameLocked(false, game.PrivateConfig())
	if err != nil {
		return "", err
	}
	h.log.Info("private game created", zap.String("game_id", g.ID()))
	return g.ID(), nil
}

// HasActiveGame reports whether gameID is live and not finished.
func (h *Hub) HasActiveGame(gameID string) bool {
	g := h.Game(gameID)
	if g == nil {
		return false
	}
	p := g.Phase()
	return p == game.PhaseLobby || p == game.PhaseActive
}

// StartPrivateGame starts a private game on request of its host.
func (h *Hub) StartPrivateGame(ctx context.Context, gameID string) error {
	g := h.Game(gameID)
	if g == nil {
		return fmt.Errorf("start %s: %w", gameID, ErrGameNotFound)
	}
	if g.IsPublic() {
		return fmt.Errorf("start %s: %w", gameID, ErrPublicGame)
	}
	err := safeCall(func() error { return g.Start(ctx) })
	metrics.GamesStartedTotal.WithLabelValues(metrics.Visibility(false), metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("start %s: %w", gameID, err)
	}
	h.log.Info("private game started", zap.String("game_id", gameID))
	return nil
}

func (h *Hub) createGameLocked(public bool, cfg game.Config) (*game.Game, error) {
	id, err := h.uniqueIDLocked()
	if err != nil {
		return nil, err
	}
	g := game.New(id, cfg, game.Options{
		Public:        public,
		LobbyDuration: h.cfg.LobbyDuration,
		MaxDuration:   h.cfg.MaxGameDuration,
		Clock:         h.clock,
		Simulation:    h.newSim(id),
		Logger:        h.log.Named("game"),
	})
	h.games[id] = g
	metrics.GamesCreatedTotal.WithLabelValues(metrics.Visibility(public)).Inc()
	return g, nil
}

func (h *Hub) uniqueIDLocked() (string, error) {
	for {
		id, err := GenerateID()
		if err != nil {
			return "", fmt.Errorf("generate game id: %w", err)
		}
		if _, taken := h.games[id]; !taken {
			return id, nil
		}
		h.log.Debug("game id collision, regenerating", zap.String("game_id", id))
	}
}

// Shutdown ends every live game and empties the hub.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()

	h.mu.Lock()
	games := make([]*game.Game, 0, len(h.games))
	for _, g := range h.games {
		games = append(games, g)
	}
	clear(h.games)
	h.mu.Unlock()

	var err error
	for _, g := range games {
		if endErr := safeCall(func() error { return g.EndGame(ctx) }); endErr != nil {
			err = multierr.Append(err, fmt.Errorf("end %s: %w", g.ID(), endErr))
		}
	}
	return err
}

// safeCall turns a panic in a game hook into an error so one game cannot take
// the scheduler down.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.HookPanicsTotal.Inc()
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
