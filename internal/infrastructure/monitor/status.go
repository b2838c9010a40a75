package monitor

import "time"

// Status is the last dependency probe. Disabled dependencies report Configured false.
type Status struct {
	Backend    bool      `json:"backend"`
	PostgreSQL bool      `json:"postgresql"`
	Redis      bool      `json:"redis"`
	Buffer     bool      `json:"buffer"`
	BufferSize int       `json:"buffer_size"`
	LastCheck  time.Time `json:"last_check"`

	PostgresConfigured bool `json:"-"`
	RedisConfigured    bool `json:"-"`
}

// Healthy reports whether the backend and every configured store answered.
func (s Status) Healthy() bool {
	if !s.Backend {
		return false
	}
	if s.PostgresConfigured && !s.PostgreSQL {
		return false
	}
	if s.RedisConfigured && !s.Redis {
		return false
	}
	return true
}
