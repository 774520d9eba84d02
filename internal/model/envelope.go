package model

import "encoding/json"

// Envelope is the outer structure of a streamed data message:
//
//	{"data": [{"service": "...", "content": [{"key": "SYM", "1": ..., ...}]}]}
//
// One envelope may carry content records for several symbols.
type Envelope struct {
	Data []ServiceData `json:"data"`
}

// ServiceData groups the content records of one service class.
type ServiceData struct {
	Service string           `json:"service"`
	Content []map[string]any `json:"content"`
}

// NewEnvelope wraps quotes into a LEVELONE_EQUITIES envelope. Each quote
// becomes one content record: its wire-format fields plus the symbol under
// the "key" entry.
func NewEnvelope(quotes ...Quote) Envelope {
	content := make([]map[string]any, 0, len(quotes))
	for _, q := range quotes {
		record := q.WireFormat()
		record["key"] = q.Symbol
		content = append(content, record)
	}
	return Envelope{
		Data: []ServiceData{
			{Service: ServiceLevelOneEquities, Content: content},
		},
	}
}

// Marshal serializes the envelope to its JSON wire form.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
