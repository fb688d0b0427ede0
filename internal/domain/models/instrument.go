package models

// Instrument is one entry of the tradable-instrument registry.
type Instrument struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
	LotSize  int    `json:"lot_size"`
}
