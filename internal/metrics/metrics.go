package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lobby_scheduler_ticks_total",
		Help: "Total scheduler ticks executed.",
	})

	HookPanicsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lobby_scheduler_hook_panics_total",
		Help: "Panics recovered from game start and end hooks.",
	})

	GamesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_scheduler_games_created_total",
			Help: "Games created by visibility.",
		},
		[]string{"visibility"},
	)

	GamesStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_scheduler_games_started_total",
			Help: "Game start attempts by visibility and result.",
		},
		[]string{"visibility", "result"},
	)

	GamesFinalizedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_scheduler_games_finalized_total",
			Help: "Games finalized and pruned by result.",
		},
		[]string{"result"},
	)

	PrivateLobbiesEvictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lobby_scheduler_private_lobbies_evicted_total",
		Help: "Private lobbies finished for sitting idle too long.",
	})

	LiveGames = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lobby_scheduler_live_games",
			Help: "Live games by phase after the last tick.",
		},
		[]string{"phase"},
	)
)

func Visibility(public bool) string {
	if public {
		return "public"
	}
	return "private"
}

func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
