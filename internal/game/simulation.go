package game

import "context"

// Simulation runs the actual match. The game only tells it when to start and
// stop; completion is reported back through Game.Finish.
type Simulation interface {
	Start(ctx context.Context, gameID string, cfg Config) error
	End(ctx context.Context) error
}

type NopSimulation struct{}

func (NopSimulation) Start(context.Context, string, Config) error { return nil }
func (NopSimulation) End(context.Context) error                   { return nil }
