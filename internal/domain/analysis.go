package domain

import (
	"encoding/json"
	"time"
)

// Direction is the market direction predicted by the source.
type Direction string

const (
	DirectionUp      Direction = "UP"
	DirectionDown    Direction = "DOWN"
	DirectionNeutral Direction = "NEUTRAL"
)

// Action is the contrarian trading action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Contrarian returns the action opposite to the predicted direction.
func (d Direction) Contrarian() Action {
	switch d {
	case DirectionUp:
		return ActionSell
	case DirectionDown:
		return ActionBuy
	default:
		return ActionHold
	}
}

// InstrumentWeight is one recommended instrument, optionally weighted.
type InstrumentWeight struct {
	Code   string   `json:"code"`
	Weight *float64 `json:"weight,omitempty"`
}

// SignalPayload is the raw structured output of the signal extractor, before validation.
type SignalPayload struct {
	ContentType string              `json:"content_type"`
	Direction   string              `json:"direction"`
	Action      string              `json:"action"`
	Reasoning   string              `json:"reasoning"`
	Summary     string              `json:"summary"`
	Instruments []PayloadInstrument `json:"instruments"`
	Confidence  float64             `json:"confidence"`
	Sentiment   float64             `json:"sentiment"`
	Raw         json.RawMessage     `json:"-"`
}

// PayloadInstrument is an instrument entry as returned by the extractor.
type PayloadInstrument struct {
	Code   string   `json:"code"`
	Name   string   `json:"name,omitempty"`
	Weight *float64 `json:"weight,omitempty"`
}

// AnalysisResult is the validated, immutable analysis of one item.
type AnalysisResult struct {
	ID                string
	ItemID            string
	Direction         Direction
	Action            Action
	Reasoning         string
	Summary           string
	Instruments       []InstrumentWeight
	Confidence        float64
	ConfidenceClamped bool
	Sentiment         float64
	Raw               json.RawMessage
	CreatedAt         time.Time
}

// InstrumentCodes returns the recommended codes in order.
func (a AnalysisResult) InstrumentCodes() []string {
	codes := make([]string, 0, len(a.Instruments))
	for _, in := range a.Instruments {
		codes = append(codes, in.Code)
	}
	return codes
}
