package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/DoyleJ11/lobby-scheduler/internal/clock"
	"github.com/DoyleJ11/lobby-scheduler/internal/game"
	"github.com/DoyleJ11/lobby-scheduler/internal/metrics"
	"github.com/DoyleJ11/lobby-scheduler/internal/playlist"
)

type fakeSim struct {
	mu         sync.Mutex
	starts     int
	ends       int
	endErr     error
	endPanic   bool
	startPanic bool
}

func (s *fakeSim) Start(context.Context, string, game.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startPanic {
		panic("simulation failed to boot")
	}
	return nil
}

func (s *fakeSim) End(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends++
	if s.endPanic {
		panic("simulation exploded")
	}
	return s.endErr
}

func (s *fakeSim) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts, s.ends
}

type nopConn struct{}

func (nopConn) Send(context.Context, game.Event) error { return nil }

type harness struct {
	hub  *Hub
	clk  *clock.Manual
	logs *observer.ObservedLogs

	mu   sync.Mutex
	sims map[string]*fakeSim
}

func (h *harness) sim(id string) *fakeSim {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sims[id]
}

func testConfig() Config {
	return Config{
		LobbyCreationInterval: time.Minute,
		LobbyDuration:         time.Minute,
		PublicBots:            400,
		MapWeights:            playlist.Weights{game.MapEurope: 1, game.MapAsia: 1},
		PlaylistSeed:          123,
	}
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	th := &harness{
		clk:  clock.NewManual(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)),
		logs: logs,
		sims: make(map[string]*fakeSim),
	}
	h, err := New(cfg,
		WithClock(th.clk),
		WithLogger(zap.New(core)),
		WithSimulationFactory(func(id string) game.Simulation {
			s := &fakeSim{}
			th.mu.Lock()
			th.sims[id] = s
			th.mu.Unlock()
			return s
		}),
	)
	require.NoError(t, err)
	th.hub = h
	return th
}

func publicGames(h *Hub) []*game.Game {
	var out []*game.Game
	for _, p := range []game.Phase{game.PhaseLobby, game.PhaseActive} {
		for _, g := range h.GamesByPhase(p) {
			if g.IsPublic() {
				out = append(out, g)
			}
		}
	}
	return out
}

func TestNew_RejectsEmptyWeights(t *testing.T) {
	cfg := testConfig()
	cfg.MapWeights = playlist.Weights{}
	_, err := New(cfg)
	assert.ErrorIs(t, err, playlist.ErrEmptyWeights)
}

func TestTick_CreatesOnePublicLobby(t *testing.T) {
	th := newHarness(t, testConfig())

	th.hub.Tick(context.Background())

	lobbies := th.hub.GamesByPhase(game.PhaseLobby)
	require.Len(t, lobbies, 1)
	g := lobbies[0]
	assert.True(t, g.IsPublic())
	assert.Equal(t, game.GameTypePublic, g.Config().GameType)
	assert.Equal(t, 400, g.Config().Bots)
	assert.Contains(t, []game.GameMap{game.MapEurope, game.MapAsia}, g.Config().GameMap)
	assert.Equal(t, 1, th.logs.FilterMessage("public lobby created").Len())
}

func TestTick_AtMostOneLobbyPerInterval(t *testing.T) {
	th := newHarness(t, testConfig())
	ctx := context.Background()

	th.hub.Tick(ctx)
	th.clk.Advance(30 * time.Second)
	th.hub.Tick(ctx)
	assert.Len(t, publicGames(th.hub), 1)

	th.clk.Advance(31 * time.Second)
	th.hub.Tick(ctx)
	assert.Len(t, publicGames(th.hub), 2)
}

func TestTick_PublicLobbiesRotateMaps(t *testing.T) {
	cfg := testConfig()
	cfg.LobbyDuration = time.Hour
	th := newHarness(t, cfg)
	ctx := context.Background()

	var maps []game.GameMap
	for i := 0; i < 6; i++ {
		before := map[string]bool{}
		for _, g := range publicGames(th.hub) {
			before[g.ID()] = true
		}
		th.hub.Tick(ctx)
		for _, g := range publicGames(th.hub) {
			if !before[g.ID()] {
				maps = append(maps, g.Config().GameMap)
			}
		}
		th.clk.Advance(61 * time.Second)
	}

	require.Len(t, maps, 6)
	for i := 1; i < len(maps); i++ {
		assert.NotEqual(t, maps[i-1], maps[i], "maps %v", maps)
	}
}

func TestTick_StartsPublicGameOnce(t *testing.T) {
	cfg := testConfig()
	cfg.LobbyCreationInterval = time.Hour
	th := newHarness(t, cfg)
	ctx := context.Background()

	th.hub.Tick(ctx)
	g := th.hub.GamesByPhase(game.PhaseLobby)[0]
	sim := th.sim(g.ID())

	th.clk.Advance(time.Minute)
	require.Equal(t, game.PhaseActive, g.Phase())
	require.False(t, g.HasStarted())

	th.hub.Tick(ctx)
	starts, _ := sim.counts()
	assert.Equal(t, 1, starts)
	assert.True(t, g.HasStarted())

	th.hub.Tick(ctx)
	starts, _ = sim.counts()
	assert.Equal(t, 1, starts)
}

func TestTick_DoesNotAutoStartPrivateGames(t *testing.T) {
	cfg := testConfig()
	cfg.LobbyCreationInterval = time.Hour
	th := newHarness(t, cfg)

	id, err := th.hub.CreatePrivateGame()
	require.NoError(t, err)

	th.clk.Advance(10 * time.Minute)
	th.hub.Tick(context.Background())

	g := th.hub.Game(id)
	require.NotNil(t, g)
	assert.Equal(t, game.PhaseLobby, g.Phase())
	assert.False(t, g.HasStarted())
}

func TestPrivateGame_Lifecycle(t *testing.T) {
	th := newHarness(t, testConfig())
	ctx := context.Background()

	id, err := th.hub.CreatePrivateGame()
	require.NoError(t, err)
	assert.True(t, th.hub.HasActiveGame(id))

	g := th.hub.Game(id)
	require.NotNil(t, g)
	assert.False(t, g.IsPublic())
	assert.Equal(t, game.PrivateConfig(), g.Config())

	require.NoError(t, th.hub.StartPrivateGame(ctx, id))
	assert.True(t, th.hub.HasActiveGame(id))

	g.Finish()
	assert.False(t, th.hub.HasActiveGame(id), "finished games are not joinable")

	th.hub.Tick(ctx)
	assert.False(t, th.hub.HasActiveGame(id))
	assert.Nil(t, th.hub.Game(id))

	_, ends := th.sim(id).counts()
	assert.Equal(t, 1, ends)
}

func TestTick_FinalizationFailureIsolated(t *testing.T) {
	cfg := testConfig()
	cfg.LobbyCreationInterval = time.Hour
	th := newHarness(t, cfg)
	ctx := context.Background()

	ids := make([]string, 3)
	for i := range ids {
		id, err := th.hub.CreatePrivateGame()
		require.NoError(t, err)
		ids[i] = id
		th.hub.Game(id).Finish()
	}
	th.sim(ids[1]).endErr = errors.New("notify failed")

	failedBefore := testutil.ToFloat64(metrics.GamesFinalizedTotal.WithLabelValues("error"))
	okBefore := testutil.ToFloat64(metrics.GamesFinalizedTotal.WithLabelValues("ok"))

	th.hub.Tick(ctx)

	for _, id := range ids {
		assert.Nil(t, th.hub.Game(id))
		_, ends := th.sim(id).counts()
		assert.Equal(t, 1, ends, "game %s", id)
	}

	failures := th.logs.FilterMessage("end game").All()
	require.Len(t, failures, 1)
	assert.Equal(t, zapcore.ErrorLevel, failures[0].Level)
	assert.Equal(t, ids[1], failures[0].ContextMap()["game_id"])

	assert.Equal(t, failedBefore+1, testutil.ToFloat64(metrics.GamesFinalizedTotal.WithLabelValues("error")))
	assert.Equal(t, okBefore+2, testutil.ToFloat64(metrics.GamesFinalizedTotal.WithLabelValues("ok")))

	// no retry on later ticks
	th.hub.Tick(ctx)
	_, ends := th.sim(ids[1]).counts()
	assert.Equal(t, 1, ends)
}

func TestTick_RecoversFromPanickingGame(t *testing.T) {
	cfg := testConfig()
	cfg.LobbyCreationInterval = time.Hour
	th := newHarness(t, cfg)

	bad, err := th.hub.CreatePrivateGame()
	require.NoError(t, err)
	good, err := th.hub.CreatePrivateGame()
	require.NoError(t, err)
	th.sim(bad).endPanic = true
	th.hub.Game(bad).Finish()
	th.hub.Game(good).Finish()

	require.NotPanics(t, func() { th.hub.Tick(context.Background()) })

	assert.Nil(t, th.hub.Game(bad))
	assert.Nil(t, th.hub.Game(good))
	_, ends := th.sim(good).counts()
	assert.Equal(t, 1, ends)
}

func TestStartPrivateGame_PanickingSimulationIsReclaimed(t *testing.T) {
	cfg := testConfig()
	cfg.LobbyCreationInterval = time.Hour
	th := newHarness(t, cfg)
	ctx := context.Background()

	id, err := th.hub.CreatePrivateGame()
	require.NoError(t, err)
	th.sim(id).startPanic = true
	panicsBefore := testutil.ToFloat64(metrics.HookPanicsTotal)

	err = th.hub.StartPrivateGame(ctx, id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	assert.Equal(t, panicsBefore+1, testutil.ToFloat64(metrics.HookPanicsTotal))
	assert.False(t, th.hub.HasActiveGame(id))

	th.hub.Tick(ctx)
	assert.Nil(t, th.hub.Game(id))
	_, ends := th.sim(id).counts()
	assert.Equal(t, 1, ends)
}

func TestTick_PanickingPublicStartIsReclaimed(t *testing.T) {
	cfg := testConfig()
	cfg.LobbyCreationInterval = time.Hour
	th := newHarness(t, cfg)
	ctx := context.Background()

	th.hub.Tick(ctx)
	g := th.hub.GamesByPhase(game.PhaseLobby)[0]
	th.sim(g.ID()).startPanic = true

	th.clk.Advance(time.Minute)
	require.NotPanics(t, func() { th.hub.Tick(ctx) })
	assert.Equal(t, game.PhaseFinished, g.Phase())

	th.hub.Tick(ctx)
	assert.Nil(t, th.hub.Game(g.ID()))
	starts, ends := th.sim(g.ID()).counts()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 1, ends)
}

func TestUpdateGameConfig(t *testing.T) {
	th := newHarness(t, testConfig())
	ctx := context.Background()

	t.Run("public game rejected", func(t *testing.T) {
		th.hub.Tick(ctx)
		pub := th.hub.GamesByPhase(game.PhaseLobby)[0]
		before := pub.Config()

		changed := before
		changed.Bots = 1
		changed.InstantBuild = true
		assert.False(t, th.hub.UpdateGameConfig(pub.ID(), changed))
		assert.Equal(t, before, pub.Config())

		rejections := th.logs.FilterMessage("config update rejected").FilterField(zap.String("game_id", pub.ID()))
		assert.Equal(t, 1, rejections.Len())
		assert.Equal(t, zapcore.WarnLevel, rejections.All()[0].Level)
	})

	t.Run("unknown game rejected", func(t *testing.T) {
		assert.False(t, th.hub.UpdateGameConfig("nope", game.PrivateConfig()))
	})

	t.Run("private lobby accepts edits", func(t *testing.T) {
		id, err := th.hub.CreatePrivateGame()
		require.NoError(t, err)
		cfg := game.PrivateConfig()
		cfg.GameMap = game.MapMars
		cfg.Difficulty = game.DifficultyHard
		assert.True(t, th.hub.UpdateGameConfig(id, cfg))
		assert.Equal(t, game.MapMars, th.hub.Game(id).Config().GameMap)
	})

	t.Run("started private game rejected", func(t *testing.T) {
		id, err := th.hub.CreatePrivateGame()
		require.NoError(t, err)
		require.NoError(t, th.hub.StartPrivateGame(ctx, id))
		assert.False(t, th.hub.UpdateGameConfig(id, game.PrivateConfig()))
		assert.ErrorIs(t, th.hub.updateGameConfig(id, game.PrivateConfig()), game.ErrConfigFrozen)
	})
}

func TestAddClient(t *testing.T) {
	th := newHarness(t, testConfig())
	ctx := context.Background()

	assert.False(t, th.hub.AddClient(ctx, game.Client{ID: "c1", Conn: nopConn{}}, "missing", 0))
	assert.Equal(t, 1, th.logs.FilterMessage("join for unknown game").Len())

	id, err := th.hub.CreatePrivateGame()
	require.NoError(t, err)
	assert.True(t, th.hub.AddClient(ctx, game.Client{ID: "c1", Conn: nopConn{}}, id, 0))
	assert.Equal(t, 1, th.hub.Game(id).NumClients())

	th.hub.Game(id).Finish()
	assert.False(t, th.hub.AddClient(ctx, game.Client{ID: "c2", Conn: nopConn{}}, id, 0))
}

func TestStartPrivateGame_Errors(t *testing.T) {
	th := newHarness(t, testConfig())
	ctx := context.Background()

	err := th.hub.StartPrivateGame(ctx, "missing")
	assert.ErrorIs(t, err, ErrGameNotFound)

	th.hub.Tick(ctx)
	pub := th.hub.GamesByPhase(game.PhaseLobby)[0]
	err = th.hub.StartPrivateGame(ctx, pub.ID())
	assert.ErrorIs(t, err, ErrPublicGame)
	assert.False(t, pub.HasStarted())
}

func TestTick_EvictsIdlePrivateLobbies(t *testing.T) {
	cfg := testConfig()
	cfg.LobbyCreationInterval = time.Hour
	cfg.PrivateLobbyIdleTimeout = 5 * time.Minute
	th := newHarness(t, cfg)
	ctx := context.Background()

	idle, err := th.hub.CreatePrivateGame()
	require.NoError(t, err)
	running, err := th.hub.CreatePrivateGame()
	require.NoError(t, err)
	require.NoError(t, th.hub.StartPrivateGame(ctx, running))

	evictedBefore := testutil.ToFloat64(metrics.PrivateLobbiesEvictedTotal)

	th.clk.Advance(4 * time.Minute)
	th.hub.Tick(ctx)
	assert.True(t, th.hub.HasActiveGame(idle))

	th.clk.Advance(2 * time.Minute)
	th.hub.Tick(ctx)
	assert.Nil(t, th.hub.Game(idle))
	assert.True(t, th.hub.HasActiveGame(running), "started games are not idle")
	assert.Equal(t, evictedBefore+1, testutil.ToFloat64(metrics.PrivateLobbiesEvictedTotal))
}

func TestTick_KeepsAbandonedPrivateLobbyByDefault(t *testing.T) {
	cfg := testConfig()
	cfg.LobbyCreationInterval = time.Hour
	th := newHarness(t, cfg)

	id, err := th.hub.CreatePrivateGame()
	require.NoError(t, err)

	th.clk.Advance(24 * time.Hour)
	th.hub.Tick(context.Background())
	assert.True(t, th.hub.HasActiveGame(id))
}

func TestPublicLobbies(t *testing.T) {
	th := newHarness(t, testConfig())
	th.hub.Tick(context.Background())
	_, err := th.hub.CreatePrivateGame()
	require.NoError(t, err)

	th.clk.Advance(20 * time.Second)
	lobbies := th.hub.PublicLobbies()
	require.Len(t, lobbies, 1)
	assert.True(t, lobbies[0].Public)
	assert.Equal(t, int64(40_000), lobbies[0].MsUntilStart)
}

func TestShutdown_EndsEverything(t *testing.T) {
	th := newHarness(t, testConfig())
	ctx := context.Background()

	th.hub.Tick(ctx)
	id, err := th.hub.CreatePrivateGame()
	require.NoError(t, err)
	th.sim(id).endErr = errors.New("sim down")

	err = th.hub.Shutdown(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), id)
	assert.Zero(t, th.hub.NumGames())
}

func TestConcurrentAccess(t *testing.T) {
	th := newHarness(t, testConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id, err := th.hub.CreatePrivateGame()
				if err != nil {
					t.Error(err)
					return
				}
				th.hub.AddClient(ctx, game.Client{ID: "c", Conn: nopConn{}}, id, 0)
				th.hub.HasActiveGame(id)
				th.hub.UpdateGameConfig(id, game.PrivateConfig())
				if j%5 == 0 {
					th.hub.Game(id).Finish()
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		th.hub.Tick(ctx)
		th.clk.Advance(time.Second)
	}
	wg.Wait()
	th.hub.Tick(ctx)

	assert.Empty(t, th.hub.GamesByPhase(game.PhaseFinished))
}

func TestRun_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h, err := New(testConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return h.NumGames() > 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGenerateID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id, err := GenerateID()
		require.NoError(t, err)
		assert.Len(t, id, idLength)
		seen[id] = true
	}
	assert.Len(t, seen, 100)
}
