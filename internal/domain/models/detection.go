package models

import "time"

// LayerSource identifies the detection layer that produced a result.
type LayerSource string

const (
	LayerCalendar     LayerSource = "calendar"
	LayerSymbols      LayerSource = "symbols"
	LayerExchangeInfo LayerSource = "exchange_info"
	LayerStream       LayerSource = "stream"
)

// DetectionResult is emitted by a layer after every poll or stream event.
type DetectionResult struct {
	Source    LayerSource             `json:"source"`
	Timestamp time.Time               `json:"timestamp"`
	Listings  []Listing               `json:"listings"`
	Patterns  []PatternMatch          `json:"patterns"`
	Events    []PatternsDetectedEvent `json:"-"`
	Success   bool                    `json:"success"`
	Error     string                  `json:"error,omitempty"`
}

// NewListingEvent is emitted once per registry retention window for a key.
type NewListingEvent struct {
	Key        string      `json:"key"`
	Listing    Listing     `json:"listing"`
	Source     LayerSource `json:"source"`
	DetectedAt time.Time   `json:"detectedAt"`
}

// StreamEvent is one message from the exchange push stream.
type StreamEvent struct {
	Channel string       `json:"channel"`
	Symbol  string       `json:"symbol"`
	Kind    string       `json:"kind"` // status, ticker, depth, deal
	Status  *SymbolEntry `json:"status,omitempty"`
	Raw     []byte       `json:"-"`
	Time    time.Time    `json:"time"`
}

// PatternBatch is the unit handed from detection to the bridge.
type PatternBatch struct {
	Source   LayerSource    `json:"source"`
	Matches  []PatternMatch `json:"matches"`
	Enqueued time.Time      `json:"enqueued"`
}
