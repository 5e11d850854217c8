package content

import "time"

type configGetter interface {
	GetContent() Config
}

type Config struct {
	// MaxChunkSize is the chunk payload limit in characters
	MaxChunkSize int   `yaml:"maxChunkSize"`
	MaxChunks    int   `yaml:"maxChunks"`
	MaxCoverSize int64 `yaml:"maxCoverSize"`
	// DraftRetention is how long an untouched draft is kept, 0 keeps drafts forever
	DraftRetention time.Duration `yaml:"draftRetention"`
	// CleanupPeriod is the draft cleanup interval in seconds
	CleanupPeriod int `yaml:"cleanupPeriod"`
}

func (c Config) withDefaults() Config {
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = 10000
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 10000
	}
	if c.MaxCoverSize <= 0 {
		c.MaxCoverSize = 20 << 20
	}
	if c.CleanupPeriod <= 0 {
		c.CleanupPeriod = 3600
	}
	return c
}
