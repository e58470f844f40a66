package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-scheduler/internal/hub"
	"github.com/DoyleJ11/lobby-scheduler/internal/ws"
)

func SetupRoutes(h *hub.Hub, log *zap.Logger) http.Handler {
	log = log.Named("http")
	r := chi.NewRouter()

	r.Post("/games", CreatePrivateGame(h, log))
	r.Get("/games/{id}/active", GameActive(h))
	r.Put("/games/{id}/config", UpdateGameConfig(h))
	r.Post("/games/{id}/start", StartPrivateGame(h, log))
	r.Get("/lobbies", PublicLobbies(h))

	r.Get("/healthz", Healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", ws.Handler(h, log))
	return r
}
