// Package quote implements the mock quote generator.
//
// The generator maintains one random-walk state per symbol, created lazily
// on first request. Each symbol's walk is seeded from the symbol itself so
// repeated runs against the same symbol produce self-consistent sequences.
package quote

import (
	"errors"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/rgodfrey/mockfeed/internal/model"
)

// ErrEmptySymbol is returned when a caller asks for a quote without a symbol.
var ErrEmptySymbol = errors.New("symbol must not be empty")

// Config holds generator tuning parameters.
type Config struct {
	BasePrice     float64 // Baseline price for a new symbol (default: 100.0)
	MaxStepPct    float64 // Max per-step move as a fraction of last (default: 0.005)
	SpreadPct     float64 // Half-spread as a fraction of last (default: 0.0005)
	MaxVolumeStep int64   // Max volume added per tick (default: 5000)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePrice:     100.0,
		MaxStepPct:    0.005,
		SpreadPct:     0.0005,
		MaxVolumeStep: 5000,
	}
}

// walkState is the per-symbol random-walk state. Owned exclusively by the
// generator; never exposed to callers.
type walkState struct {
	rng      *rand.Rand
	baseline float64 // First price, reference for net change
	last     float64
	high     float64
	low      float64
	volume   int64
	lastTS   int64 // Last issued timestamp (ms since epoch)
}

// Generator produces successive plausible quotes per symbol.
type Generator struct {
	cfg Config

	mu    sync.Mutex
	walks map[string]*walkState

	// now is swappable for tests.
	now func() time.Time
}

// NewGenerator creates a Generator. Zero config fields fall back to defaults.
func NewGenerator(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.BasePrice <= 0 {
		cfg.BasePrice = def.BasePrice
	}
	if cfg.MaxStepPct <= 0 {
		cfg.MaxStepPct = def.MaxStepPct
	}
	if cfg.SpreadPct <= 0 {
		cfg.SpreadPct = def.SpreadPct
	}
	if cfg.MaxVolumeStep <= 0 {
		cfg.MaxVolumeStep = def.MaxVolumeStep
	}
	return &Generator{
		cfg:   cfg,
		walks: make(map[string]*walkState),
		now:   time.Now,
	}
}

// Generate returns the next quote for symbol, advancing its random walk.
// Prices stay positive, high/low track the running extrema, and timestamps
// are strictly increasing per symbol (same-millisecond ticks are bumped by
// one millisecond so (symbol, timestamp) stays unique).
func (g *Generator) Generate(symbol string) (model.Quote, error) {
	if symbol == "" {
		return model.Quote{}, ErrEmptySymbol
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	w, ok := g.walks[symbol]
	if !ok {
		w = g.newWalk(symbol)
		g.walks[symbol] = w
	}

	// Bounded perturbation around the previous last price.
	step := (w.rng.Float64()*2 - 1) * g.cfg.MaxStepPct * w.last
	last := w.last + step
	if last <= 0 {
		last = w.last * g.cfg.MaxStepPct // keep positive, near zero
	}
	w.last = last

	if last > w.high {
		w.high = last
	}
	if last < w.low {
		w.low = last
	}

	w.volume += w.rng.Int63n(g.cfg.MaxVolumeStep + 1)

	ts := g.now().UnixMilli()
	if ts <= w.lastTS {
		ts = w.lastTS + 1
	}
	w.lastTS = ts

	spread := last * g.cfg.SpreadPct
	change := last - w.baseline

	return model.Quote{
		Symbol:       symbol,
		Last:         last,
		Bid:          last - spread,
		Ask:          last + spread,
		High:         w.high,
		Low:          w.low,
		NetChange:    change,
		NetChangePct: change / w.baseline * 100,
		Volume:       w.volume,
		Timestamp:    ts,
	}, nil
}

// newWalk initializes the walk for a symbol. The RNG is seeded from the
// symbol so a given symbol always starts the same sequence.
func (g *Generator) newWalk(symbol string) *walkState {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	seed := int64(h.Sum64())

	rng := rand.New(rand.NewSource(seed))

	// Spread baselines across symbols so they don't all tick in lockstep.
	base := g.cfg.BasePrice * (0.5 + rng.Float64())

	return &walkState{
		rng:      rng,
		baseline: base,
		last:     base,
		high:     base,
		low:      base,
	}
}
