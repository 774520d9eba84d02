// Package manager implements the market-data manager.
//
// The manager is the façade over the whole subsystem: it owns the persistent
// store and the watchlist, composes the streaming source (mock engine or
// live feed) with the ingestion pipeline, and exposes query access. The
// mock/live mode is fixed at construction and never flips while running.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rgodfrey/mockfeed/internal/config"
	"github.com/rgodfrey/mockfeed/internal/feed"
	"github.com/rgodfrey/mockfeed/internal/ingest"
	"github.com/rgodfrey/mockfeed/internal/quote"
	"github.com/rgodfrey/mockfeed/internal/store"
	"github.com/rgodfrey/mockfeed/internal/stream"
)

var (
	// ErrEmptySymbol is returned by watchlist calls with an empty symbol.
	ErrEmptySymbol = errors.New("symbol must not be empty")

	// ErrAlreadyStreaming is returned by StartStreaming while streaming.
	ErrAlreadyStreaming = errors.New("streaming already started")
)

// Config holds manager configuration. Mode is injected here, at
// construction, and cannot be changed afterwards.
type Config struct {
	Mode           string        // config.ModeMock or config.ModeLive
	DataDir        string        // Store directory
	UpdateInterval time.Duration // Mock engine cadence
	BufferSize     int           // Ingest pipeline buffer
	Symbols        []string      // Initial watchlist
	Feed           feed.ClientConfig
}

// Listener receives every serialized envelope that flows through the
// manager, after it has been queued for ingestion.
type Listener func(data []byte)

// feedFactory builds live feed clients; swappable for tests.
type feedFactory func(cfg feed.ClientConfig, logger *slog.Logger) feed.Client

// Manager composes store, streaming source and ingestion.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	gen      *quote.Generator
	engine   *stream.Engine
	newFeed  feedFactory
	liveFeed feed.Client

	mu        sync.Mutex
	st        *store.Store
	pipeline  *ingest.Pipeline
	streaming bool
	sessionID string
	listeners []Listener

	pumpCancel context.CancelFunc
	pumpWG     sync.WaitGroup
}

// New creates a Manager. The store is opened lazily on first use.
func New(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = config.ModeMock
	}
	if cfg.Mode != config.ModeMock && cfg.Mode != config.ModeLive {
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = config.DefaultUpdateInterval
	}

	gen := quote.NewGenerator(quote.DefaultConfig())
	return &Manager{
		cfg:     cfg,
		logger:  logger,
		gen:     gen,
		engine:  stream.NewEngine(stream.Config{UpdateInterval: cfg.UpdateInterval}, gen, logger),
		newFeed: feed.NewClient,
	}, nil
}

// IsMockMode reports whether the manager uses the mock streaming engine.
func (m *Manager) IsMockMode() bool {
	return m.cfg.Mode == config.ModeMock
}

// DB returns the store handle, opening it (and creating the schema) on
// first use. Safe to call repeatedly.
func (m *Manager) DB() (*store.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dbLocked()
}

func (m *Manager) dbLocked() (*store.Store, error) {
	if m.st != nil {
		return m.st, nil
	}
	st, err := store.Open(m.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	m.st = st

	for _, sym := range m.cfg.Symbols {
		if err := st.AddWatchlistSymbol(context.Background(), sym); err != nil {
			return nil, err
		}
	}
	return m.st, nil
}

// AddSymbol inserts symbol into the watchlist (idempotent) and, when
// streaming, also subscribes the streaming source to it.
func (m *Manager) AddSymbol(symbol string) error {
	if symbol == "" {
		return ErrEmptySymbol
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.dbLocked()
	if err != nil {
		return err
	}
	if err := st.AddWatchlistSymbol(context.Background(), symbol); err != nil {
		return err
	}

	if m.streaming {
		if m.IsMockMode() {
			if err := m.engine.AddSymbol(symbol); err != nil {
				return err
			}
		} else if m.liveFeed != nil {
			if err := m.liveFeed.Subscribe([]string{symbol}); err != nil {
				return err
			}
		}
	}
	return nil
}

// RemoveSymbol drops symbol from the watchlist and unsubscribes it from a
// running stream.
func (m *Manager) RemoveSymbol(symbol string) error {
	if symbol == "" {
		return ErrEmptySymbol
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.dbLocked()
	if err != nil {
		return err
	}
	if err := st.RemoveWatchlistSymbol(context.Background(), symbol); err != nil {
		return err
	}

	if m.streaming {
		if m.IsMockMode() {
			if err := m.engine.RemoveSymbol(symbol); err != nil {
				return err
			}
		} else if m.liveFeed != nil {
			if err := m.liveFeed.Unsubscribe([]string{symbol}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Watchlist returns the current symbol set.
func (m *Manager) Watchlist() ([]string, error) {
	st, err := m.DB()
	if err != nil {
		return nil, err
	}
	return st.Watchlist(context.Background())
}

// Subscribe registers a listener for every envelope flowing through the
// manager. Intended for push gateways; must be called before streaming
// starts.
func (m *Manager) Subscribe(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// StartStreaming wires the streaming source to the ingestion pipeline and
// starts both. In mock mode no network connection is attempted.
func (m *Manager) StartStreaming(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.streaming {
		return ErrAlreadyStreaming
	}

	st, err := m.dbLocked()
	if err != nil {
		return err
	}

	pipeline := ingest.NewPipeline(
		ingest.PipelineConfig{BufferSize: m.cfg.BufferSize},
		ingest.NewProcessor(st, m.logger),
		m.logger,
	)
	if err := pipeline.Start(ctx); err != nil {
		return err
	}
	m.pipeline = pipeline

	watchlist, err := st.Watchlist(context.Background())
	if err != nil {
		pipeline.Stop(context.Background())
		m.pipeline = nil
		return err
	}

	if m.IsMockMode() {
		for _, sym := range watchlist {
			if err := m.engine.AddSymbol(sym); err != nil {
				pipeline.Stop(context.Background())
				m.pipeline = nil
				return err
			}
		}
		handler := stream.HandlerFunc(func(data []byte) error {
			pipeline.Submit(data)
			m.notify(data)
			return nil
		})
		if err := m.engine.Start(ctx, handler); err != nil {
			pipeline.Stop(context.Background())
			m.pipeline = nil
			return err
		}
	} else {
		client := m.newFeed(m.cfg.Feed, m.logger)
		if err := client.Connect(ctx); err != nil {
			pipeline.Stop(context.Background())
			m.pipeline = nil
			return fmt.Errorf("connect live feed: %w", err)
		}
		if len(watchlist) > 0 {
			if err := client.Subscribe(watchlist); err != nil {
				client.Close()
				pipeline.Stop(context.Background())
				m.pipeline = nil
				return fmt.Errorf("subscribe live feed: %w", err)
			}
		}
		m.liveFeed = client

		pumpCtx, cancel := context.WithCancel(ctx)
		m.pumpCancel = cancel
		m.pumpWG.Add(1)
		go m.pumpLiveFeed(pumpCtx, client)
	}

	m.streaming = true
	m.sessionID = uuid.NewString()

	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := st.SetMetadata(context.Background(), store.MetaSessionID, m.sessionID); err != nil {
		m.logger.Warn("failed to record session id", "error", err)
	}
	if err := st.SetMetadata(context.Background(), store.MetaLastStartTS, now); err != nil {
		m.logger.Warn("failed to record start time", "error", err)
	}

	m.logger.Info("streaming started",
		"mode", m.cfg.Mode,
		"session_id", m.sessionID,
		"symbols", len(watchlist),
	)
	return nil
}

// StopStreaming tears the stream down and blocks until every background
// goroutine has exited, so the store can be closed immediately afterwards.
// Safe to call when not streaming.
func (m *Manager) StopStreaming(ctx context.Context) error {
	m.mu.Lock()
	if !m.streaming {
		m.mu.Unlock()
		return nil
	}
	m.streaming = false
	pipeline := m.pipeline
	liveFeed := m.liveFeed
	pumpCancel := m.pumpCancel
	m.liveFeed = nil
	m.pumpCancel = nil
	st := m.st
	m.mu.Unlock()

	var firstErr error

	if m.IsMockMode() {
		if err := m.engine.Stop(ctx); err != nil {
			firstErr = err
		}
	} else {
		if liveFeed != nil {
			if err := liveFeed.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if pumpCancel != nil {
			pumpCancel()
		}
		m.pumpWG.Wait()
	}

	if pipeline != nil {
		if err := pipeline.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if st != nil {
		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		if err := st.SetMetadata(context.Background(), store.MetaLastStopTS, now); err != nil {
			m.logger.Warn("failed to record stop time", "error", err)
		}
		if err := st.SetMetadata(context.Background(), store.MetaLastIngestTS, now); err != nil {
			m.logger.Warn("failed to record ingest time", "error", err)
		}
	}

	m.logger.Info("streaming stopped", "mode", m.cfg.Mode)
	return firstErr
}

// IsStreaming reports whether a stream is active.
func (m *Manager) IsStreaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streaming
}

// QueryQuotes returns stored observations for symbol, newest first.
func (m *Manager) QueryQuotes(ctx context.Context, symbol string, limit int) ([]store.QuoteRow, error) {
	st, err := m.DB()
	if err != nil {
		return nil, err
	}
	return st.QueryQuotes(ctx, symbol, limit)
}

// EngineStats returns mock engine counters (zero value in live mode).
func (m *Manager) EngineStats() stream.Stats {
	return m.engine.Stats()
}

// PipelineStats returns ingestion counters for the current session.
func (m *Manager) PipelineStats() ingest.PipelineStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pipeline == nil {
		return ingest.PipelineStats{}
	}
	return m.pipeline.Stats()
}

// Close stops any active stream and releases the store.
func (m *Manager) Close(ctx context.Context) error {
	if err := m.StopStreaming(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st != nil {
		err := m.st.Close()
		m.st = nil
		return err
	}
	return nil
}

// pumpLiveFeed forwards live feed messages into the pipeline.
func (m *Manager) pumpLiveFeed(ctx context.Context, client feed.Client) {
	defer m.pumpWG.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-client.Errors():
			m.logger.Error("live feed error", "error", err)
			return
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			m.mu.Lock()
			pipeline := m.pipeline
			m.mu.Unlock()
			if pipeline != nil {
				pipeline.Submit(msg.Data)
			}
			m.notify(msg.Data)
		}
	}
}

// notify fans the serialized envelope out to listeners. Listener panics are
// contained; a broken push consumer must not take the stream down.
func (m *Manager) notify(data []byte) {
	m.mu.Lock()
	listeners := m.listeners
	m.mu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("listener panicked", "panic", r)
				}
			}()
			l(data)
		}()
	}
}
