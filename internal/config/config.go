package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/DoyleJ11/lobby-scheduler/internal/game"
	"github.com/DoyleJ11/lobby-scheduler/internal/playlist"
)

// Config holds everything the host process needs to run the hub.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	TickInterval          time.Duration `env:"TICK_INTERVAL" envDefault:"1s"`
	LobbyCreationInterval time.Duration `env:"LOBBY_CREATION_INTERVAL" envDefault:"60s"`
	// LobbyDuration defaults to LobbyCreationInterval when unset.
	LobbyDuration           time.Duration `env:"LOBBY_DURATION"`
	PrivateLobbyIdleTimeout time.Duration `env:"PRIVATE_LOBBY_IDLE_TIMEOUT" envDefault:"0s"`
	MaxGameDuration         time.Duration `env:"MAX_GAME_DURATION" envDefault:"0s"`

	PublicBots     int    `env:"PUBLIC_BOTS" envDefault:"400"`
	PlaylistSeed   uint64 `env:"PLAYLIST_SEED" envDefault:"123"`
	MapWeightsFile string `env:"MAP_WEIGHTS_FILE"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

	MapWeights playlist.Weights `env:"-"`
}

// DefaultMapWeights is the rotation used when no weights file is configured.
func DefaultMapWeights() playlist.Weights {
	return playlist.Weights{
		game.MapWorld:        3,
		game.MapEurope:       2,
		game.MapMena:         2,
		game.MapNorthAmerica: 2,
		game.MapOceania:      1,
		game.MapBlackSea:     1,
		game.MapAfrica:       2,
		game.MapAsia:         1,
		game.MapMars:         1,
		game.MapBritannia:    1,
	}
}

// Load reads an optional .env file, then the environment, then the optional
// map weights file.
func Load(dotenvPaths ...string) (Config, error) {
	if len(dotenvPaths) == 0 {
		dotenvPaths = []string{".env"}
	}
	for _, p := range dotenvPaths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", p, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.MapWeights = DefaultMapWeights()
	if cfg.MapWeightsFile != "" {
		w, err := LoadMapWeights(cfg.MapWeightsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.MapWeights = w
	}

	if cfg.LobbyDuration == 0 {
		cfg.LobbyDuration = cfg.LobbyCreationInterval
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadMapWeights reads a YAML document of the form `World: 3`.
func LoadMapWeights(path string) (playlist.Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read map weights: %w", err)
	}
	var raw map[string]int
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode map weights %s: %w", path, err)
	}
	w := make(playlist.Weights, len(raw))
	for name, n := range raw {
		w[game.GameMap(name)] = n
	}
	return w, nil
}

func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL must be positive, got %s", c.TickInterval)
	}
	if c.LobbyCreationInterval <= 0 {
		return fmt.Errorf("LOBBY_CREATION_INTERVAL must be positive, got %s", c.LobbyCreationInterval)
	}
	if c.LobbyDuration < 0 || c.PrivateLobbyIdleTimeout < 0 || c.MaxGameDuration < 0 {
		return errors.New("durations must not be negative")
	}
	if c.PublicBots < 0 {
		return fmt.Errorf("PUBLIC_BOTS must not be negative, got %d", c.PublicBots)
	}
	if err := c.MapWeights.Validate(); err != nil {
		return err
	}
	return nil
}
