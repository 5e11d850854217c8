package config

import (
	"fmt"
	"os"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/quillpub/quill-server/auth"
	"github.com/quillpub/quill-server/blobstore"
	"github.com/quillpub/quill-server/content"
	"github.com/quillpub/quill-server/db"
	"github.com/quillpub/quill-server/delivery"
	"github.com/quillpub/quill-server/delivery/relay"
	"github.com/quillpub/quill-server/fanout"
	"github.com/quillpub/quill-server/gateway/gatewayconfig"
	"github.com/quillpub/quill-server/kvdb"
	"github.com/quillpub/quill-server/notify"
	"github.com/quillpub/quill-server/subscriber"
)

const CName = "config"

// EnvPrefix is the prefix of environment variables overriding the file, e.g. QUILL_MONGO_CONNECT.
const EnvPrefix = "quill"

const (
	EngineBadger = "badger"
	EngineMongo  = "mongo"
)

func NewFromFile(path string) (c *Config, err error) {
	c = Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	if err = envconfig.Process(EnvPrefix, c); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err = c.validate(); err != nil {
		return nil, err
	}
	return
}

// Default returns the values used for settings missing in the config file.
func Default() *Config {
	return &Config{
		Engine: EngineBadger,
		Badger: kvdb.Config{Path: "data/badger"},
		Content: content.Config{
			DraftRetention: 30 * 24 * time.Hour,
		},
		Gateway: gatewayconfig.Config{Addr: ":8080"},
	}
}

type Config struct {
	// Engine selects the storage, badger or mongo
	Engine     string               `yaml:"engine"`
	Mongo      db.Mongo             `yaml:"mongo"`
	Badger     kvdb.Config          `yaml:"badger"`
	S3Store    blobstore.Config     `yaml:"s3Store"`
	Redis      relay.Config         `yaml:"redis"`
	Auth       auth.Config          `yaml:"auth"`
	Content    content.Config       `yaml:"content"`
	Fanout     fanout.Config        `yaml:"fanout"`
	Delivery   delivery.Config      `yaml:"delivery"`
	Notify     notify.Config        `yaml:"notify"`
	Subscriber subscriber.Config    `yaml:"subscriber"`
	Gateway    gatewayconfig.Config `yaml:"gateway"`
	Log        logger.Config        `yaml:"log" ignored:"true"`
}

func (c *Config) validate() error {
	switch c.Engine {
	case EngineBadger, EngineMongo:
	default:
		return fmt.Errorf("unknown storage engine %q", c.Engine)
	}
	if c.Engine == EngineMongo && c.Mongo.Connect == "" {
		return fmt.Errorf("mongo.connect is required for the mongo engine")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	return nil
}

// MediaEnabled reports whether the blob store is configured.
func (c *Config) MediaEnabled() bool {
	return c.S3Store.Bucket != ""
}

// RelayEnabled reports whether notifications are relayed through redis.
func (c *Config) RelayEnabled() bool {
	return c.Redis.Addr != ""
}

func (c *Config) Init(a *app.App) (err error) {
	return nil
}

func (c *Config) Name() (name string) {
	return CName
}

func (c *Config) GetMongo() db.Mongo {
	return c.Mongo
}

func (c *Config) GetBadger() kvdb.Config {
	return c.Badger
}

func (c *Config) GetS3Store() blobstore.Config {
	return c.S3Store
}

func (c *Config) GetRedis() relay.Config {
	return c.Redis
}

func (c *Config) GetAuth() auth.Config {
	return c.Auth
}

func (c *Config) GetContent() content.Config {
	return c.Content
}

func (c *Config) GetFanout() fanout.Config {
	return c.Fanout
}

func (c *Config) GetDelivery() delivery.Config {
	return c.Delivery
}

func (c *Config) GetNotify() notify.Config {
	return c.Notify
}

func (c *Config) GetSubscriber() subscriber.Config {
	return c.Subscriber
}

func (c *Config) GetGateway() gatewayconfig.Config {
	return c.Gateway
}
