package ingest

import (
	"context"
	"log/slog"
	"sync"
)

// PipelineConfig holds pipeline tuning.
type PipelineConfig struct {
	BufferSize int // Raw message channel capacity (default: 1024)
}

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{BufferSize: 1024}
}

// PipelineStats contains runtime counters.
type PipelineStats struct {
	Received      int64
	Stored        int64
	Malformed     int64
	Empty         int64
	Dropped       int64
	StorageErrors int64
}

// Pipeline decouples message delivery from persistence: producers hand raw
// messages to Submit and a single consumer goroutine runs them through the
// Processor. The quote store stays a shared resource written transactionally
// per message, so two in-flight messages never interleave partial rows.
type Pipeline struct {
	cfg       PipelineConfig
	processor *Processor
	logger    *slog.Logger

	input chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	stats   PipelineStats
}

// NewPipeline creates a Pipeline feeding processor.
func NewPipeline(cfg PipelineConfig, processor *Processor, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultPipelineConfig().BufferSize
	}
	return &Pipeline{
		cfg:       cfg,
		processor: processor,
		logger:    logger,
		input:     make(chan []byte, cfg.BufferSize),
	}
}

// Start launches the consumer goroutine. Starting a running pipeline is a
// no-op.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running = true

	p.wg.Add(1)
	go p.consumeLoop()

	p.logger.Info("ingest pipeline started", "buffer_size", p.cfg.BufferSize)
	return nil
}

// Stop drains the consumer and blocks until it has exited. Safe to call
// when idle.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("ingest pipeline stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("ingest pipeline stop timed out")
		return ctx.Err()
	}
}

// Submit queues a raw message for ingestion. Returns false and drops the
// message when the buffer is full or the pipeline is not running.
func (p *Pipeline) Submit(raw []byte) bool {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if !running {
		return false
	}

	select {
	case p.input <- raw:
		p.mu.Lock()
		p.stats.Received++
		p.mu.Unlock()
		return true
	default:
		p.mu.Lock()
		p.stats.Dropped++
		p.mu.Unlock()
		p.logger.Warn("ingest buffer full, dropping message")
		return false
	}
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pipeline) consumeLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case raw := <-p.input:
			res, err := p.processor.ProcessRawMessage(p.ctx, raw)
			p.mu.Lock()
			switch {
			case err != nil:
				p.stats.StorageErrors++
			case res == ResultStored:
				p.stats.Stored++
			case res == ResultMalformed:
				p.stats.Malformed++
			default:
				p.stats.Empty++
			}
			p.mu.Unlock()
			if err != nil {
				p.logger.Error("failed to persist stream message", "error", err)
			}
		}
	}
}
