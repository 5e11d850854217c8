package subscriber

import "time"

type configGetter interface {
	GetSubscriber() Config
}

type Config struct {
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

func (c Config) cacheTTL() time.Duration {
	if c.CacheTTL <= 0 {
		return 30 * time.Second
	}
	return c.CacheTTL
}
