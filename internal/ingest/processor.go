// Package ingest implements the stream-message ingestion path.
//
// Raw protocol messages (from the mock engine or a real feed) are parsed,
// validated and written to the store. Malformed input is absorbed and
// logged; it never propagates past ProcessRawMessage. Storage failures do
// propagate, since they mean the store is unusable.
package ingest

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/rgodfrey/mockfeed/internal/model"
	"github.com/rgodfrey/mockfeed/internal/store"
)

// Result classifies the outcome of processing one raw message.
type Result int

const (
	// ResultMalformed: the message could not be parsed. Logged, no side effects.
	ResultMalformed Result = iota
	// ResultEmpty: parsed fine but carried no quote content. No side effects.
	ResultEmpty
	// ResultStored: at least one quote row was committed.
	ResultStored
)

func (r Result) String() string {
	switch r {
	case ResultMalformed:
		return "malformed"
	case ResultEmpty:
		return "empty"
	case ResultStored:
		return "stored"
	default:
		return "unknown"
	}
}

// QuoteStore is the slice of the store the processor needs.
type QuoteStore interface {
	InsertQuotes(ctx context.Context, rows []store.QuoteRow) error
}

// Processor parses raw stream messages and persists their quotes.
type Processor struct {
	store  QuoteStore
	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewProcessor creates a Processor writing to st.
func NewProcessor(st QuoteStore, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// ProcessRawMessage handles one raw message. Unparseable or structurally
// incomplete input yields (ResultMalformed|ResultEmpty, nil) and leaves the
// store untouched. All quotes contained in one message commit in a single
// transaction; a storage failure is returned to the caller and nothing is
// persisted.
func (p *Processor) ProcessRawMessage(ctx context.Context, raw []byte) (Result, error) {
	var env model.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.logger.Warn("ignoring malformed stream message", "error", err, "bytes", len(raw))
		return ResultMalformed, nil
	}

	if len(env.Data) == 0 {
		return ResultEmpty, nil
	}

	recvTS := p.now().UnixMilli()
	var rows []store.QuoteRow
	for _, svc := range env.Data {
		if svc.Service != model.ServiceLevelOneEquities {
			p.logger.Debug("skipping service", "service", svc.Service)
			continue
		}
		for _, record := range svc.Content {
			row, ok := p.parseRecord(record, recvTS)
			if !ok {
				continue
			}
			rows = append(rows, row)
		}
	}

	if len(rows) == 0 {
		return ResultEmpty, nil
	}

	if err := p.store.InsertQuotes(ctx, rows); err != nil {
		return ResultEmpty, err
	}
	return ResultStored, nil
}

// parseRecord maps one content record's field codes back to named quote
// attributes. Records without a usable symbol key are skipped.
func (p *Processor) parseRecord(record map[string]any, recvTS int64) (store.QuoteRow, bool) {
	symbol, ok := record["key"].(string)
	if !ok || symbol == "" {
		p.logger.Warn("skipping content record without symbol key")
		return store.QuoteRow{}, false
	}

	return store.QuoteRow{
		Symbol:       symbol,
		Timestamp:    recvTS,
		Bid:          numField(record, model.FieldBidPrice),
		Ask:          numField(record, model.FieldAskPrice),
		Last:         numField(record, model.FieldLastPrice),
		High:         numField(record, model.FieldHighPrice),
		Low:          numField(record, model.FieldLowPrice),
		NetChange:    numField(record, model.FieldNetChange),
		NetChangePct: numField(record, model.FieldNetChangePct),
		Volume:       int64(numField(record, model.FieldVolume)),
	}, true
}

// numField reads a numeric field code, tolerating the types a JSON decode
// or an in-process envelope can carry.
func numField(record map[string]any, code string) float64 {
	switch v := record[code].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}
