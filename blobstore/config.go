package blobstore

type configSource interface {
	GetS3Store() Config
}

type Credentials struct {
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

type Config struct {
	Region      string      `yaml:"region"`
	Bucket      string      `yaml:"bucket"`
	Endpoint    string      `yaml:"endpoint"`
	PathStyle   bool        `yaml:"pathStyle"`
	Credentials Credentials `yaml:"credentials"`
	// PublicUrl is the prefix of urls handed out for stored objects
	PublicUrl string `yaml:"publicUrl"`
	// GoogleCompat re-signs requests so that GCS interoperability mode accepts them
	GoogleCompat bool `yaml:"googleCompat"`
}
