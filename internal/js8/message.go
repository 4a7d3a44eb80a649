package js8

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Command types understood by the controller
const (
	TypeStationGetCallsign = "STATION.GET_CALLSIGN"
	TypeStationGetGrid     = "STATION.GET_GRID"
	TypeRigGetFreq         = "RIG.GET_FREQ"
	TypeRxGetCallActivity  = "RX.GET_CALL_ACTIVITY"
	TypeRxGetBandActivity  = "RX.GET_BAND_ACTIVITY"
	TypeRxGetText          = "RX.GET_TEXT"
	TypeTxSendMessage      = "TX.SEND_MESSAGE"
	TypeTxSetText          = "TX.SET_TEXT"
	TypeTxGetText          = "TX.GET_TEXT"
	TypePing               = "PING"
)

// Notification types pushed by the controller
const (
	TypeRxActivity      = "RX.ACTIVITY"
	TypeRxText          = "RX.TEXT"
	TypeRxCallActivity  = "RX.CALL_ACTIVITY"
	TypeRxBandActivity  = "RX.BAND_ACTIVITY"
	TypeStationCallsign = "STATION.CALLSIGN"
	TypeStationGrid     = "STATION.GRID"
	TypeRigFreq         = "RIG.FREQ"
)

// IDParam is the params key carrying the correlation id
const IDParam = "_ID"

// Message is one line of the controller protocol
type Message struct {
	Type   string         `json:"type"`
	Value  string         `json:"value"`
	Params map[string]any `json:"params,omitempty"`
}

// NewMessage builds a message, copying params so the caller's map is never shared
func NewMessage(msgType, value string, params map[string]any) *Message {
	m := &Message{Type: msgType, Value: value}
	if len(params) > 0 {
		m.Params = make(map[string]any, len(params))
		for k, v := range params {
			m.Params[k] = v
		}
	}
	return m
}

// ID returns the correlation id echoed in params, if any
func (m *Message) ID() (int64, bool) {
	if m == nil || m.Params == nil {
		return 0, false
	}
	v, ok := m.Params[IDParam]
	if !ok {
		return 0, false
	}
	return integralID(v)
}

// integralID accepts only whole numbers, so a mangled echo such as 1.9 or
// "2" never matches a pending request
func integralID(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	}
	return 0, false
}

// withID returns a copy of the message with the correlation id merged into params
func (m *Message) withID(id int64) *Message {
	params := make(map[string]any, len(m.Params)+1)
	for k, v := range m.Params {
		params[k] = v
	}
	params[IDParam] = id
	return &Message{Type: m.Type, Value: m.Value, Params: params}
}

// Encode serializes the message as a single newline-terminated line
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", m.Type, err)
	}
	return append(data, '\n'), nil
}

// String returns a short description for logging
func (m *Message) String() string {
	if id, ok := m.ID(); ok {
		return fmt.Sprintf("%s #%d value=%q", m.Type, id, m.Value)
	}
	return fmt.Sprintf("%s value=%q", m.Type, m.Value)
}

// ParseMessage decodes one protocol line. Numbers in params are kept as json.Number.
func ParseMessage(line []byte) (*Message, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var m Message
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after message")
	}
	if m.Type == "" {
		return nil, fmt.Errorf("missing message type")
	}
	return &m, nil
}

// Params accessors. Missing or mistyped fields yield zero values.

// ParamString returns params[key] as a string
func (m *Message) ParamString(key string) string {
	if m == nil || m.Params == nil {
		return ""
	}
	switch v := m.Params[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// ParamInt returns params[key] as an integer
func (m *Message) ParamInt(key string) int64 {
	if m == nil || m.Params == nil {
		return 0
	}
	n, _ := toInt64(m.Params[key])
	return n
}

// ParamFloat returns params[key] as a float
func (m *Message) ParamFloat(key string) float64 {
	if m == nil || m.Params == nil {
		return 0
	}
	f, _ := toFloat64(m.Params[key])
	return f
}

// Table returns params without the correlation id, the shape used by activity tables
func (m *Message) Table() map[string]any {
	table := make(map[string]any)
	if m == nil {
		return table
	}
	for k, v := range m.Params {
		if k == IDParam {
			continue
		}
		table[k] = v
	}
	return table
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, true
		}
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
