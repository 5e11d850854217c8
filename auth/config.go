package auth

type configGetter interface {
	GetAuth() Config
}

type Config struct {
	// Secret is the HS256 key shared with the identity service issuing tokens
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}
