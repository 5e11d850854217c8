package gatewayconfig

type ConfigGetter interface {
	GetGateway() Config
}

type Config struct {
	Addr string `yaml:"addr"`
	// AllowedOrigins enables CORS for browser clients served from these origins
	AllowedOrigins []string `yaml:"allowedOrigins"`
}
