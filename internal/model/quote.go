package model

// ServiceLevelOneEquities identifies the equity quote stream service class.
// The value is part of the wire compatibility contract with the emulated API.
const ServiceLevelOneEquities = "LEVELONE_EQUITIES"

// Field codes used by the streamer wire protocol. Each quote attribute is
// keyed by a short numeric string in the per-symbol content record. The
// assignment is an external contract and must not change.
const (
	FieldBidPrice     = "1"
	FieldAskPrice     = "2"
	FieldLastPrice    = "3"
	FieldVolume       = "8"
	FieldHighPrice    = "10"
	FieldLowPrice     = "11"
	FieldNetChange    = "18"
	FieldNetChangePct = "42"
)

// Quote is a single point-in-time equity quote. Immutable once constructed;
// it is converted, never mutated, into wire form.
type Quote struct {
	Symbol       string  // Equity ticker symbol (e.g., "AAPL")
	Last         float64 // Last trade price
	Bid          float64 // Best bid price
	Ask          float64 // Best ask price
	High         float64 // Session high
	Low          float64 // Session low
	NetChange    float64 // Change vs. baseline price (signed)
	NetChangePct float64 // Change vs. baseline price, percent (signed)
	Volume       int64   // Cumulative session volume
	Timestamp    int64   // Observation time (ms since epoch)
}

// WireFormat renders the quote as a field-code mapping in the streamer's
// wire convention. Exactly the eight contracted fields are emitted; the
// symbol key is added by the envelope, not here.
func (q Quote) WireFormat() map[string]any {
	return map[string]any{
		FieldBidPrice:     q.Bid,
		FieldAskPrice:     q.Ask,
		FieldLastPrice:    q.Last,
		FieldVolume:       q.Volume,
		FieldHighPrice:    q.High,
		FieldLowPrice:     q.Low,
		FieldNetChange:    q.NetChange,
		FieldNetChangePct: q.NetChangePct,
	}
}
