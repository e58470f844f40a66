// Package playlist rotates the maps used by public lobbies.
//
// The queue is refilled in bulk from a weight table: every map appears exactly
// weight times per cycle, shuffled so that no map is played twice in a row,
// including across the boundary between two cycles.
package playlist

import (
	"errors"
	"fmt"
	"slices"

	"github.com/DoyleJ11/lobby-scheduler/internal/game"
	"github.com/DoyleJ11/lobby-scheduler/internal/shuffle"
)

// maxShuffleAttempts bounds the reshuffle loop before falling back to repair.
const maxShuffleAttempts = 32

var (
	ErrEmptyWeights   = errors.New("map weights: no map has a positive weight")
	ErrNegativeWeight = errors.New("map weights: negative weight")
)

// Weights maps a map to the number of times it appears per playlist cycle.
type Weights map[game.GameMap]int

// Validate reports whether w can produce a playlist.
func (w Weights) Validate() error {
	total := 0
	for m, n := range w {
		if n < 0 {
			return fmt.Errorf("%w: %s=%d", ErrNegativeWeight, m, n)
		}
		total += n
	}
	if total == 0 {
		return ErrEmptyWeights
	}
	return nil
}

// Playlist is not safe for concurrent use; the hub serializes access.
type Playlist struct {
	weights Weights
	keys    []game.GameMap
	src     *shuffle.Source
	queue   []game.GameMap
	last    game.GameMap
}

func New(weights Weights, src *shuffle.Source) (*Playlist, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	keys := make([]game.GameMap, 0, len(weights))
	for m := range weights {
		keys = append(keys, m)
	}
	// map iteration order is random; sort so a seed always yields the same playlist
	slices.Sort(keys)

	return &Playlist{
		weights: weights,
		keys:    keys,
		src:     src,
	}, nil
}

// Next pops the head of the queue, refilling it first when empty.
func (p *Playlist) Next() game.GameMap {
	if len(p.queue) == 0 {
		p.queue = p.generate()
	}
	next := p.queue[0]
	p.queue = p.queue[1:]
	p.last = next
	return next
}

// Remaining returns how many maps are left before the next refill.
func (p *Playlist) Remaining() int { return len(p.queue) }

func (p *Playlist) generate() []game.GameMap {
	maps := make([]game.GameMap, 0, len(p.keys))
	for _, m := range p.keys {
		for i := 0; i < p.weights[m]; i++ {
			maps = append(maps, m)
		}
	}

	for attempt := 0; attempt < maxShuffleAttempts; attempt++ {
		shuffle.Shuffle(p.src, maps)
		if noRepeats(maps, p.last) {
			return maps
		}
	}

	repaired := repair(maps, p.last)
	if !noRepeats(repaired, "") {
		// the cycle boundary is the weaker constraint; drop it before
		// accepting repeats inside the cycle
		repaired = repair(maps, "")
	}
	return repaired
}

func noRepeats(maps []game.GameMap, last game.GameMap) bool {
	if last != "" && len(maps) > 0 && maps[0] == last {
		return false
	}
	for i := 1; i < len(maps); i++ {
		if maps[i] == maps[i-1] {
			return false
		}
	}
	return true
}

// repair rebuilds the cycle greedily: at each position take the map with the
// most copies left that differs from the previous one. This finds a valid
// arrangement whenever one exists and otherwise leaves the unavoidable repeats
// at the tail. Ties keep the shuffled order.
func repair(shuffled []game.GameMap, last game.GameMap) []game.GameMap {
	remaining := make(map[game.GameMap]int)
	var order []game.GameMap
	for _, m := range shuffled {
		if remaining[m] == 0 {
			order = append(order, m)
		}
		remaining[m]++
	}

	out := make([]game.GameMap, 0, len(shuffled))
	prev := last
	for len(out) < len(shuffled) {
		pick := game.GameMap("")
		for _, m := range order {
			if remaining[m] == 0 || m == prev {
				continue
			}
			if pick == "" || remaining[m] > remaining[pick] {
				pick = m
			}
		}
		if pick == "" {
			pick = prev
		}
		out = append(out, pick)
		remaining[pick]--
		prev = pick
	}
	return out
}
