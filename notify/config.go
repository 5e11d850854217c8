package notify

import "time"

type configGetter interface {
	GetNotify() Config
}

type Config struct {
	KeepAlive time.Duration `yaml:"keepAlive"`
}

func (c Config) keepAlive() time.Duration {
	if c.KeepAlive <= 0 {
		return 25 * time.Second
	}
	return c.KeepAlive
}
