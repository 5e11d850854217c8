package kvdb

type configGetter interface {
	GetBadger() Config
}

type Config struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
	// SyncWrites makes every commit fsync before returning
	SyncWrites bool `yaml:"syncWrites"`
}
