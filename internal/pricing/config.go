package pricing

import "time"

// Config contains pricing source settings.
type Config struct {
	URL            string `env:"PRICING_URL"             envDefault:"https://openrouter.ai/api/v1/models"`
	TTLSeconds     int    `env:"PRICING_TTL_SECONDS"     envDefault:"86400"`
	TimeoutSeconds int    `env:"PRICING_TIMEOUT_SECONDS" envDefault:"10"`
	MaxEntries     int    `env:"PRICING_MAX_ENTRIES"     envDefault:"10000"`
	SnapshotKey    string `env:"PRICING_SNAPSHOT_KEY"    envDefault:"embermeter:pricing:registry"`
}

// TTL returns the registry time-to-live as a duration.
func (c Config) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Timeout returns the fetch deadline as a duration.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
