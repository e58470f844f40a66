package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/lobby-scheduler/internal/game"
	"github.com/DoyleJ11/lobby-scheduler/internal/hub"
	"github.com/DoyleJ11/lobby-scheduler/internal/types"
)

// Scheduler is the hub surface exposed over HTTP.
type Scheduler interface {
	CreatePrivateGame() (string, error)
	HasActiveGame(gameID string) bool
	UpdateGameConfig(gameID string, cfg game.Config) bool
	StartPrivateGame(ctx context.Context, gameID string) error
	PublicLobbies() []game.Info
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func CreatePrivateGame(s Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.CreatePrivateGame()
		if err != nil {
			log.Error("create private game", zap.Error(err))
			http.Error(w, "failed to create game", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			GameID string `json:"game_id"`
		}{GameID: id})
	}
}

func GameActive(s Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Active bool `json:"active"`
		}{Active: s.HasActiveGame(chi.URLParam(r, "id"))})
	}
}

func UpdateGameConfig(s Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cfg game.Config
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if !s.UpdateGameConfig(chi.URLParam(r, "id"), cfg) {
			http.Error(w, "config update rejected", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func StartPrivateGame(s Scheduler, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := s.StartPrivateGame(r.Context(), id)
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case errors.Is(err, hub.ErrGameNotFound):
			http.Error(w, "game not found", http.StatusNotFound)
		case errors.Is(err, hub.ErrPublicGame), errors.Is(err, game.ErrGameFinished):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			log.Error("start private game", zap.String("game_id", id), zap.Error(err))
			http.Error(w, "failed to start game", http.StatusInternalServerError)
		}
	}
}

func PublicLobbies(s Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lobbies := make([]types.LobbyInfo, 0)
		for _, info := range s.PublicLobbies() {
			lobbies = append(lobbies, types.FromInfo(info))
		}
		writeJSON(w, http.StatusOK, lobbies)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
