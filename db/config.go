package db

type configGetter interface {
	GetMongo() Mongo
}

type Mongo struct {
	Connect  string `yaml:"connect"`
	Database string `yaml:"database"`
}
