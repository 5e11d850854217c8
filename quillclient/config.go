package quillclient

type configGetter interface {
	GetQuillServer() Config
}

type Config struct {
	// Url is the server base url, e.g. https://quill.example.com
	Url   string `yaml:"url"`
	Token string `yaml:"token"`
	// ChunkSize is the upload chunk size in characters
	ChunkSize int `yaml:"chunkSize"`
	// Parallel limits concurrent chunk uploads
	Parallel int `yaml:"parallel"`
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 10000
	}
	if c.Parallel <= 0 {
		c.Parallel = 4
	}
	return c
}
