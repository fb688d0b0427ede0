package models

// Requests for the status/admin HTTP endpoints. Defined in domain for consistency and reuse.

type QuoteRequest struct {
	Symbol string `param:"symbol" query:"symbol" json:"symbol" validate:"required"`
}

type MetricRequest struct {
	Symbol string `param:"symbol" query:"symbol" json:"symbol" validate:"required"`
}

type InstrumentsRequest struct {
	Exchange string `param:"exchange" query:"exchange" json:"exchange" validate:"required"`
}

type ReloadRequest struct {
	// Reconnect also forces a feed reconnect attempt after the credential reload.
	Reconnect bool `query:"reconnect" json:"reconnect" default:"false"`
}
