package relay

import "time"

type configGetter interface {
	GetRedis() Config
}

type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
	// PublishTimeout bounds a single publish of an event for a remote subscriber
	PublishTimeout time.Duration `yaml:"publishTimeout"`
	// PublishBackoff is how long publishing is skipped after a failed publish
	PublishBackoff time.Duration `yaml:"publishBackoff"`
	// Timeout is the socket read and write timeout of the redis client
	Timeout time.Duration `yaml:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.Channel == "" {
		c.Channel = "quill.delivery"
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 50 * time.Millisecond
	}
	if c.PublishBackoff <= 0 {
		c.PublishBackoff = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Second
	}
	return c
}
