package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rgodfrey/mockfeed/internal/model"
	"github.com/rgodfrey/mockfeed/internal/quote"
)

func newTestEngine() *Engine {
	return NewEngine(Config{UpdateInterval: 50 * time.Millisecond}, quote.NewGenerator(quote.DefaultConfig()), nil)
}

// collector accumulates delivered messages.
type collector struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (c *collector) HandleMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, data)
	return nil
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *collector) first() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.msgs) == 0 {
		return nil
	}
	return c.msgs[0]
}

func TestEngine_Liveness(t *testing.T) {
	e := newTestEngine()
	if err := e.AddSymbol("AAPL"); err != nil {
		t.Fatalf("AddSymbol failed: %v", err)
	}

	c := &collector{}
	ctx := context.Background()
	if err := e.Start(ctx, c); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for c.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no handler invocation within 3s")
		}
		time.Sleep(10 * time.Millisecond)
	}

	var env model.Envelope
	if err := json.Unmarshal(c.first(), &env); err != nil {
		t.Fatalf("delivered message is not a valid envelope: %v", err)
	}
	if len(env.Data) != 1 {
		t.Fatalf("len(Data) = %d, want 1", len(env.Data))
	}
	if env.Data[0].Service != model.ServiceLevelOneEquities {
		t.Errorf("service = %q, want %q", env.Data[0].Service, model.ServiceLevelOneEquities)
	}
	if len(env.Data[0].Content) == 0 {
		t.Error("envelope content is empty")
	}
}

func TestEngine_StartWhileRunning(t *testing.T) {
	e := newTestEngine()
	c := &collector{}
	ctx := context.Background()

	if err := e.Start(ctx, c); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop(ctx)

	if err := e.Start(ctx, c); err != ErrAlreadyRunning {
		t.Errorf("second Start error = %v, want ErrAlreadyRunning", err)
	}
}

func TestEngine_StartNilHandler(t *testing.T) {
	e := newTestEngine()
	if err := e.Start(context.Background(), nil); err != ErrNilHandler {
		t.Errorf("Start(nil) error = %v, want ErrNilHandler", err)
	}
}

func TestEngine_StopWhenIdle(t *testing.T) {
	e := newTestEngine()
	if err := e.Stop(context.Background()); err != nil {
		t.Errorf("Stop on idle engine failed: %v", err)
	}
}

func TestEngine_StopBlocksUntilExit(t *testing.T) {
	e := newTestEngine()
	e.AddSymbol("AAPL")

	ctx := context.Background()
	if err := e.Start(ctx, &collector{}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := e.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if e.IsRunning() {
		t.Error("engine reports running after Stop")
	}

	// A stopped engine can start again.
	if err := e.Start(ctx, &collector{}); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	e.Stop(ctx)
}

func TestEngine_AddRemoveSymbol(t *testing.T) {
	e := newTestEngine()

	if err := e.AddSymbol(""); err != ErrEmptySymbol {
		t.Errorf("AddSymbol(\"\") error = %v, want ErrEmptySymbol", err)
	}
	if err := e.RemoveSymbol(""); err != ErrEmptySymbol {
		t.Errorf("RemoveSymbol(\"\") error = %v, want ErrEmptySymbol", err)
	}

	e.AddSymbol("AAPL")
	e.AddSymbol("MSFT")
	e.AddSymbol("AAPL") // duplicate collapses

	syms := e.Symbols()
	if len(syms) != 2 || syms[0] != "AAPL" || syms[1] != "MSFT" {
		t.Errorf("Symbols = %v, want [AAPL MSFT] in subscription order", syms)
	}

	e.RemoveSymbol("AAPL")
	syms = e.Symbols()
	if len(syms) != 1 || syms[0] != "MSFT" {
		t.Errorf("Symbols = %v after remove, want [MSFT]", syms)
	}

	// Removing an unknown symbol is a no-op.
	if err := e.RemoveSymbol("NOPE"); err != nil {
		t.Errorf("RemoveSymbol(unknown) failed: %v", err)
	}
}

func TestEngine_SetUpdateInterval(t *testing.T) {
	e := newTestEngine()

	if err := e.SetUpdateInterval(0); err != ErrInvalidInterval {
		t.Errorf("SetUpdateInterval(0) error = %v, want ErrInvalidInterval", err)
	}
	if err := e.SetUpdateInterval(-time.Second); err != ErrInvalidInterval {
		t.Errorf("SetUpdateInterval(-1s) error = %v, want ErrInvalidInterval", err)
	}
	if err := e.SetUpdateInterval(100 * time.Millisecond); err != nil {
		t.Errorf("SetUpdateInterval(100ms) failed: %v", err)
	}
}

func TestEngine_HandlerErrorDoesNotStopLoop(t *testing.T) {
	e := newTestEngine()
	e.AddSymbol("AAPL")

	var calls int
	var mu sync.Mutex
	handler := HandlerFunc(func(data []byte) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("downstream broken")
	})

	ctx := context.Background()
	if err := e.Start(ctx, handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("loop stalled after handler errors; calls = %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if e.Stats().HandlerErrors < 3 {
		t.Errorf("HandlerErrors = %d, want >= 3", e.Stats().HandlerErrors)
	}
}

func TestEngine_HandlerPanicDoesNotStopLoop(t *testing.T) {
	e := newTestEngine()
	e.AddSymbol("AAPL")

	var calls int
	var mu sync.Mutex
	handler := HandlerFunc(func(data []byte) error {
		mu.Lock()
		calls++
		mu.Unlock()
		panic("handler exploded")
	})

	ctx := context.Background()
	if err := e.Start(ctx, handler); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer e.Stop(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for {
		mu.Lock()
		n := calls
		mu.Unlock()
		if n >= 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("loop stalled after handler panic; calls = %d", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEngine_SubscriptionOrderWithinTick(t *testing.T) {
	e := NewEngine(Config{UpdateInterval: 50 * time.Millisecond}, quote.NewGenerator(quote.DefaultConfig()), nil)
	e.AddSymbol("AAPL")
	e.AddSymbol("MSFT")
	e.AddSymbol("SPY")

	c := &collector{}
	ctx := context.Background()
	if err := e.Start(ctx, c); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for c.count() < 3 {
		if time.Now().After(deadline) {
			t.Fatal("first tick did not complete in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
	e.Stop(ctx)

	want := []string{"AAPL", "MSFT", "SPY"}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, wantSym := range want {
		var env model.Envelope
		if err := json.Unmarshal(c.msgs[i], &env); err != nil {
			t.Fatalf("message %d unparseable: %v", i, err)
		}
		got := env.Data[0].Content[0]["key"]
		if got != wantSym {
			t.Errorf("message %d key = %v, want %s", i, got, wantSym)
		}
	}
}
