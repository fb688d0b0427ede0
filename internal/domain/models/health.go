package models

// Health is the composite status consumed by any status surface.
// It always reflects the single worst-known truth.
type Health struct {
	Phase          string `json:"phase"`
	AuthState      string `json:"auth_state"`
	ConnectionMode string `json:"connection_mode"`
	Channel        string `json:"channel"`
	LastTickAgeMs  int64  `json:"last_tick_age_ms"`
}
