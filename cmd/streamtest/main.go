// streamtest runs the mock streaming engine for a fixed duration and prints
// every envelope to the console.
// Usage: go run ./cmd/streamtest --symbols AAPL,MSFT --interval 500ms --duration 5s
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rgodfrey/mockfeed/internal/model"
	"github.com/rgodfrey/mockfeed/internal/quote"
	"github.com/rgodfrey/mockfeed/internal/stream"
)

func main() {
	symbols := flag.String("symbols", "AAPL,MSFT,SPY", "comma-separated symbols to stream")
	interval := flag.Duration("interval", 500*time.Millisecond, "update interval")
	duration := flag.Duration("duration", 10*time.Second, "how long to stream")
	verbose := flag.Bool("verbose", false, "print full envelope JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	engine := stream.NewEngine(
		stream.Config{UpdateInterval: *interval},
		quote.NewGenerator(quote.DefaultConfig()),
		logger,
	)
	for _, s := range strings.Split(*symbols, ",") {
		if err := engine.AddSymbol(strings.TrimSpace(s)); err != nil {
			fmt.Fprintf(os.Stderr, "bad symbol %q: %v\n", s, err)
			os.Exit(1)
		}
	}

	handler := stream.HandlerFunc(func(data []byte) error {
		if *verbose {
			fmt.Println(string(data))
			return nil
		}
		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return err
		}
		for _, svc := range env.Data {
			for _, rec := range svc.Content {
				fmt.Printf("%-6v last=%-10v bid=%-10v ask=%-10v vol=%v\n",
					rec["key"], rec[model.FieldLastPrice], rec[model.FieldBidPrice],
					rec[model.FieldAskPrice], rec[model.FieldVolume])
			}
		}
		return nil
	})

	if err := engine.Start(ctx, handler); err != nil {
		fmt.Fprintf(os.Stderr, "start failed: %v\n", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	if err := engine.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "stop failed: %v\n", err)
		os.Exit(1)
	}

	stats := engine.Stats()
	fmt.Printf("\nticks=%d messages=%d handler_errors=%d\n",
		stats.TicksCompleted, stats.MessagesSent, stats.HandlerErrors)
}
