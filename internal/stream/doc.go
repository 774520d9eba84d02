// Package stream implements the mock streaming engine.
//
// The engine:
//   - Owns a subscription set and a configurable update cadence
//   - Runs one background production loop per engine instance
//   - Wraps generated quotes into LEVELONE_EQUITIES wire envelopes
//   - Delivers serialized envelopes synchronously to a registered handler
//   - Isolates handler errors and panics so the loop keeps running
package stream
