package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-scheduler/internal/clock"
)

var (
	ErrGameFinished = errors.New("game finished")
	ErrConfigFrozen = errors.New("game config frozen")
)

type Phase string

const (
	PhaseLobby    Phase = "lobby"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

type Options struct {
	Public bool

	// LobbyDuration is how long a public game accepts joins before it turns
	// Active on its own. Private games wait for an explicit Start.
	LobbyDuration time.Duration

	// MaxDuration finishes a started game after this long. Zero disables it.
	MaxDuration time.Duration

	Clock      clock.Clock
	Simulation Simulation
	Logger     *zap.Logger
}

// Game is one hosted match. It is safe for concurrent use: the hub reads its
// phase on every tick while request handlers join clients or edit the config.
type Game struct {
	id            string
	createdAt     time.Time
	public        bool
	lobbyDuration time.Duration
	maxDuration   time.Duration
	clock         clock.Clock
	sim           Simulation
	log           *zap.Logger

	mu        sync.Mutex
	config    Config
	clients   map[string]*member
	started   bool
	startedAt time.Time
	finished  bool
	ended     bool
}

func New(id string, cfg Config, opts Options) *Game {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Simulation == nil {
		opts.Simulation = NopSimulation{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Game{
		id:            id,
		createdAt:     opts.Clock.Now(),
		public:        opts.Public,
		lobbyDuration: opts.LobbyDuration,
		maxDuration:   opts.MaxDuration,
		clock:         opts.Clock,
		sim:           opts.Simulation,
		log:           opts.Logger.With(zap.String("game_id", id)),
		config:        cfg,
		clients:       make(map[string]*member),
	}
}

func (g *Game) ID() string           { return g.id }
func (g *Game) CreatedAt() time.Time { return g.createdAt }
func (g *Game) IsPublic() bool       { return g.public }

func (g *Game) Phase() Phase {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.phaseLocked(g.clock.Now())
}

func (g *Game) phaseLocked(now time.Time) Phase {
	switch {
	case g.finished:
		return PhaseFinished
	case g.started && g.maxDuration > 0 && now.Sub(g.startedAt) >= g.maxDuration:
		g.finished = true
		return PhaseFinished
	case g.started:
		return PhaseActive
	case g.public && now.Sub(g.createdAt) >= g.lobbyDuration:
		return PhaseActive
	default:
		return PhaseLobby
	}
}

func (g *Game) HasStarted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// Start moves the game to Active and starts the simulation. Only the first
// call does anything. If the simulation fails or panics while starting, the
// game is finished so the hub reclaims it.
func (g *Game) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return nil
	}
	if g.phaseLocked(g.clock.Now()) == PhaseFinished {
		g.mu.Unlock()
		return ErrGameFinished
	}
	g.started = true
	g.startedAt = g.clock.Now()
	cfg := g.config
	clients := g.clientsLocked()
	g.mu.Unlock()

	// A panicking simulation unwinds through here too; it must still be finished.
	failed := true
	defer func() {
		if failed {
			g.Finish()
		}
	}()
	if err := g.sim.Start(ctx, g.id, cfg); err != nil {
		return fmt.Errorf("start simulation: %w", err)
	}
	failed = false

	for _, c := range clients {
		if err := c.Conn.Send(ctx, Event{Type: EvtGameStart, GameID: g.id, Config: cfg}); err != nil {
			g.log.Warn("notify game start", zap.String("client_id", c.ID), zap.Error(err))
		}
	}
	return nil
}

// AddClient attaches c to the game, replacing an earlier connection with the
// same id. lastTurn lets a reconnecting client resume from where it left off.
func (g *Game) AddClient(ctx context.Context, c Client, lastTurn int) error {
	g.mu.Lock()
	if g.phaseLocked(g.clock.Now()) == PhaseFinished {
		g.mu.Unlock()
		return ErrGameFinished
	}
	_, rejoin := g.clients[c.ID]
	g.clients[c.ID] = &member{client: c, lastTurn: lastTurn}
	started := g.started
	cfg := g.config
	g.mu.Unlock()

	g.log.Debug("client joined", zap.String("client_id", c.ID), zap.Bool("rejoin", rejoin), zap.Int("last_turn", lastTurn))

	if !started {
		return nil
	}
	ev := Event{Type: EvtGameStart, GameID: g.id, Config: cfg}
	if rejoin {
		ev = Event{Type: EvtRejoin, GameID: g.id, Config: cfg, LastTurn: lastTurn}
	}
	if err := c.Conn.Send(ctx, ev); err != nil {
		g.log.Warn("resync client", zap.String("client_id", c.ID), zap.Error(err))
	}
	return nil
}

// RemoveClient drops clientID from the roster, but only while conn is still
// the connection registered for it. A rejoin replaces the connection, so the
// stale one leaving does not evict the new one.
func (g *Game) RemoveClient(clientID string, conn Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.clients[clientID]
	if !ok || m.client.Conn != conn {
		return false
	}
	delete(g.clients, clientID)
	return true
}

func (g *Game) Clients() []Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.clientsLocked()
}

func (g *Game) NumClients() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

func (g *Game) clientsLocked() []Client {
	out := make([]Client, 0, len(g.clients))
	for _, m := range g.clients {
		out = append(out, m.client)
	}
	return out
}

func (g *Game) Config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.config
}

// UpdateGameConfig replaces the config while the game is still in its lobby.
// The game type is kept: visibility is fixed at creation.
func (g *Game) UpdateGameConfig(cfg Config) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.phaseLocked(g.clock.Now()) != PhaseLobby {
		return ErrConfigFrozen
	}
	cfg.GameType = g.config.GameType
	g.config = cfg
	return nil
}

// Finish marks the game as complete. The simulation calls this when the match
// is over; the hub finalizes it on its next tick.
func (g *Game) Finish() {
	g.mu.Lock()
	g.finished = true
	g.mu.Unlock()
}

// EndGame stops the simulation and tells every client the game is over. It
// runs at most once; later calls return nil. All failures are reported
// together and none of them stop the remaining notifications.
func (g *Game) EndGame(ctx context.Context) error {
	g.mu.Lock()
	if g.ended {
		g.mu.Unlock()
		return nil
	}
	g.ended = true
	g.finished = true
	clients := g.clientsLocked()
	clear(g.clients)
	g.mu.Unlock()

	var err error
	if simErr := g.sim.End(ctx); simErr != nil {
		err = multierr.Append(err, fmt.Errorf("end simulation: %w", simErr))
	}
	for _, c := range clients {
		if sendErr := c.Conn.Send(ctx, Event{Type: EvtGameEnd, GameID: g.id}); sendErr != nil {
			err = multierr.Append(err, fmt.Errorf("notify client %s: %w", c.ID, sendErr))
		}
	}
	return err
}

// Info is a point-in-time view used for lobby listings.
type Info struct {
	ID           string
	Config       Config
	Public       bool
	Phase        Phase
	NumClients   int
	CreatedAt    time.Time
	MsUntilStart int64
}

func (g *Game) Info() Info {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	info := Info{
		ID:         g.id,
		Config:     g.config,
		Public:     g.public,
		Phase:      g.phaseLocked(now),
		NumClients: len(g.clients),
		CreatedAt:  g.createdAt,
	}
	if g.public && info.Phase == PhaseLobby {
		info.MsUntilStart = g.createdAt.Add(g.lobbyDuration).Sub(now).Milliseconds()
	}
	return info
}
