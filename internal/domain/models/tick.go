package models

// TickSource marks how a tick reached downstream consumers.
type TickSource string

const (
	// SourceLive means the tick arrived over the push channel.
	SourceLive TickSource = "live"
	// SourceFallback means the tick is a lower-frequency pulled snapshot.
	SourceFallback TickSource = "fallback"
)

// Tick is a single price/volume/open-interest update for one instrument.
type Tick struct {
	Symbol       string     `json:"symbol"`
	Price        float64    `json:"price"`
	Volume       float64    `json:"volume"`
	OpenInterest float64    `json:"open_interest"`
	Timestamp    int64      `json:"timestamp"` // unix ms
	Source       TickSource `json:"source"`
}
