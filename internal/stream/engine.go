package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rgodfrey/mockfeed/internal/model"
	"github.com/rgodfrey/mockfeed/internal/quote"
)

var (
	// ErrAlreadyRunning is returned by Start when the engine is running.
	ErrAlreadyRunning = errors.New("streaming engine already running")

	// ErrNilHandler is returned by Start without a handler.
	ErrNilHandler = errors.New("handler must not be nil")

	// ErrEmptySymbol is returned by subscription calls with an empty symbol.
	ErrEmptySymbol = errors.New("symbol must not be empty")

	// ErrInvalidInterval is returned for update intervals <= 0.
	ErrInvalidInterval = errors.New("update interval must be positive")
)

// Handler receives serialized wire envelopes from the production loop.
// Returning an error does not stop the loop; it is logged and counted.
type Handler interface {
	HandleMessage(data []byte) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(data []byte) error

func (f HandlerFunc) HandleMessage(data []byte) error {
	return f(data)
}

// Config holds engine configuration.
type Config struct {
	UpdateInterval time.Duration // Tick cadence (default: 1s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{UpdateInterval: time.Second}
}

// Stats contains engine runtime counters.
type Stats struct {
	TicksCompleted int64
	MessagesSent   int64
	HandlerErrors  int64
}

// Engine is the mock streaming engine. It owns a subscription set and an
// update cadence; while running, one background goroutine wakes every
// interval, pulls a quote per subscribed symbol from the generator, wraps
// it in a wire envelope and hands the serialized message to the handler.
type Engine struct {
	gen    *quote.Generator
	logger *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	symbols  []string // subscription order preserved for per-tick delivery
	present  map[string]bool
	handler  Handler
	running  bool
	stats    Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an Engine over gen.
func NewEngine(cfg Config, gen *quote.Generator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultConfig().UpdateInterval
	}
	return &Engine{
		gen:      gen,
		logger:   logger,
		interval: cfg.UpdateInterval,
		present:  make(map[string]bool),
	}
}

// Start launches the production loop delivering to handler. Starting a
// running engine returns ErrAlreadyRunning and leaves the first loop alone.
func (e *Engine) Start(ctx context.Context, handler Handler) error {
	if handler == nil {
		return ErrNilHandler
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	e.handler = handler
	e.running = true
	e.ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(1)
	go e.run()

	e.logger.Info("streaming engine started",
		"interval", e.interval,
		"symbols", len(e.symbols),
	)
	return nil
}

// Stop terminates the production loop and blocks until it has fully exited,
// so callers can tear down resources immediately afterwards. Stopping an
// idle engine is a no-op.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("streaming engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("streaming engine stop timed out")
		return ctx.Err()
	}
}

// AddSymbol subscribes a symbol, effective on the next tick. Adding an
// already-subscribed symbol is a no-op. Safe before Start and while running.
func (e *Engine) AddSymbol(symbol string) error {
	if symbol == "" {
		return ErrEmptySymbol
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.present[symbol] {
		return nil
	}
	e.present[symbol] = true
	e.symbols = append(e.symbols, symbol)
	return nil
}

// RemoveSymbol unsubscribes a symbol, effective on the next tick. Removing
// an unknown symbol is a no-op.
func (e *Engine) RemoveSymbol(symbol string) error {
	if symbol == "" {
		return ErrEmptySymbol
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.present[symbol] {
		return nil
	}
	delete(e.present, symbol)
	for i, s := range e.symbols {
		if s == symbol {
			e.symbols = append(e.symbols[:i], e.symbols[i+1:]...)
			break
		}
	}
	return nil
}

// SetUpdateInterval changes the cadence, effective on the next tick.
func (e *Engine) SetUpdateInterval(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidInterval
	}
	e.mu.Lock()
	e.interval = d
	e.mu.Unlock()
	return nil
}

// Symbols returns the current subscription set in subscription order.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.symbols))
	copy(out, e.symbols)
	return out
}

// IsRunning reports whether the production loop is active.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// run is the production loop. The timer is re-armed every iteration from
// the current interval so SetUpdateInterval takes effect on the next tick,
// and Stop interrupts the sleep within one tick's latency.
func (e *Engine) run() {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		interval := e.interval
		e.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-e.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		e.tick()
	}
}

// tick produces one envelope per subscribed symbol in subscription order.
func (e *Engine) tick() {
	e.mu.Lock()
	symbols := make([]string, len(e.symbols))
	copy(symbols, e.symbols)
	handler := e.handler
	e.mu.Unlock()

	for _, symbol := range symbols {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		q, err := e.gen.Generate(symbol)
		if err != nil {
			e.logger.Warn("failed to generate quote", "symbol", symbol, "error", err)
			continue
		}

		data, err := model.NewEnvelope(q).Marshal()
		if err != nil {
			e.logger.Warn("failed to marshal envelope", "symbol", symbol, "error", err)
			continue
		}

		e.deliver(handler, symbol, data)
	}

	e.mu.Lock()
	e.stats.TicksCompleted++
	e.mu.Unlock()
}

// deliver invokes the handler, isolating errors and panics so one bad
// handler call never stops the loop.
func (e *Engine) deliver(handler Handler, symbol string, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("handler panicked", "symbol", symbol, "panic", r)
			e.mu.Lock()
			e.stats.HandlerErrors++
			e.mu.Unlock()
		}
	}()

	if err := handler.HandleMessage(data); err != nil {
		e.logger.Warn("handler returned error", "symbol", symbol, "error", err)
		e.mu.Lock()
		e.stats.HandlerErrors++
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.stats.MessagesSent++
	e.mu.Unlock()
}
