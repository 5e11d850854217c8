package fanout

import "time"

type configGetter interface {
	GetFanout() Config
}

type Config struct {
	QueueSize       int           `yaml:"queueSize"`
	Workers         int           `yaml:"workers"`
	SubmitTimeout   time.Duration `yaml:"submitTimeout"`
	SubscriberLimit int           `yaml:"subscriberLimit"`
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 100 * time.Millisecond
	}
	if c.SubscriberLimit <= 0 {
		c.SubscriberLimit = 500
	}
	return c
}
