package delivery

import "time"

type configGetter interface {
	GetDelivery() Config
}

type Config struct {
	ChannelTTL  time.Duration `yaml:"channelTTL"`
	BufferSize  int           `yaml:"bufferSize"`
	PushTimeout time.Duration `yaml:"pushTimeout"`
}

func (c Config) withDefaults() Config {
	if c.ChannelTTL <= 0 {
		c.ChannelTTL = 30 * time.Minute
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 16
	}
	if c.PushTimeout <= 0 {
		c.PushTimeout = 50 * time.Millisecond
	}
	return c
}
