package hub

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-scheduler/internal/game"
	"github.com/DoyleJ11/lobby-scheduler/internal/metrics"
)

// buckets is the live collection split by phase at the start of a tick.
type buckets struct {
	lobby    []*game.Game
	active   []*game.Game
	finished []*game.Game
}

// Tick runs one scheduling pass. It never fails: errors from individual games
// are logged and counted, and the next tick runs as usual.
func (h *Hub) Tick(ctx context.Context) {
	h.tickMu.Lock()
	defer h.tickMu.Unlock()

	metrics.TicksTotal.Inc()
	b := h.prune()

	for _, g := range b.active {
		if !g.IsPublic() || g.HasStarted() {
			continue
		}
		err := safeCall(func() error { return g.Start(ctx) })
		metrics.GamesStartedTotal.WithLabelValues(metrics.Visibility(true), metrics.Result(err)).Inc()
		if err != nil {
			h.log.Error("start public game", zap.String("game_id", g.ID()), zap.Error(err))
			continue
		}
		h.log.Info("public game started", zap.String("game_id", g.ID()), zap.Int("clients", g.NumClients()))
	}

	for _, g := range b.finished {
		err := safeCall(func() error { return g.EndGame(ctx) })
		metrics.GamesFinalizedTotal.WithLabelValues(metrics.Result(err)).Inc()
		if err != nil {
			h.log.Error("end game", zap.String("game_id", g.ID()), zap.Error(err))
			continue
		}
		h.log.Debug("game finalized", zap.String("game_id", g.ID()))
	}

	metrics.LiveGames.WithLabelValues(string(game.PhaseLobby)).Set(float64(len(b.lobby)))
	metrics.LiveGames.WithLabelValues(string(game.PhaseActive)).Set(float64(len(b.active)))
}

// prune partitions the live games, opens a public lobby when one is due and
// drops every finished game from the collection. Finished games are handed
// back for a single EndGame attempt outside the lock, so a slow teardown does
// not block joins.
func (h *Hub) prune() buckets {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	var b buckets
	for _, g := range h.games {
		switch g.Phase() {
		case game.PhaseLobby:
			if h.idlePrivateLobby(g, now) {
				g.Finish()
				metrics.PrivateLobbiesEvictedTotal.Inc()
				h.log.Info("evicting idle private lobby", zap.String("game_id", g.ID()), zap.Duration("age", now.Sub(g.CreatedAt())))
				b.finished = append(b.finished, g)
				continue
			}
			b.lobby = append(b.lobby, g)
		case game.PhaseActive:
			b.active = append(b.active, g)
		case game.PhaseFinished:
			b.finished = append(b.finished, g)
		}
	}

	if now.Sub(h.lastPublicLobby) > h.cfg.LobbyCreationInterval {
		m := h.playlist.Next()
		g, err := h.createGameLocked(true, game.PublicConfig(m, h.cfg.PublicBots))
		if err != nil {
			h.log.Error("create public lobby", zap.Error(err))
		} else {
			h.lastPublicLobby = now
			b.lobby = append(b.lobby, g)
			h.log.Info("public lobby created", zap.String("game_id", g.ID()), zap.String("map", string(m)))
		}
	}

	for _, g := range b.finished {
		delete(h.games, g.ID())
	}
	return b
}

func (h *Hub) idlePrivateLobby(g *game.Game, now time.Time) bool {
	return h.cfg.PrivateLobbyIdleTimeout > 0 &&
		!g.IsPublic() &&
		now.Sub(g.CreatedAt()) > h.cfg.PrivateLobbyIdleTimeout
}

// Run ticks every interval until ctx is cancelled. Ticks never overlap: a slow
// tick delays the next one instead of running beside it.
func (h *Hub) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	h.log.Info("scheduler started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			h.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}
