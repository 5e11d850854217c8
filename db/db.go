package db

import (
	"context"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const CName = "quill.db"

var log = logger.NewNamed(CName)

func New() Database {
	return new(database)
}

type Database interface {
	Db() *mongo.Database
	// Tx runs f inside a multi-document transaction. Transient transaction
	// errors are retried by the driver, so f must be safe to run again.
	Tx(ctx context.Context, f func(txCtx mongo.SessionContext) error) error
	app.ComponentRunnable
}

type database struct {
	db *mongo.Database
}

func (d *database) Init(a *app.App) (err error) {
	conf := a.MustComponent("config").(configGetter).GetMongo()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(conf.Connect))
	if err != nil {
		return err
	}
	d.db = client.Database(conf.Database)
	return nil
}

func (d *database) Name() (name string) {
	return CName
}

func (d *database) Run(ctx context.Context) (err error) {
	if err = d.db.Client().Ping(ctx, nil); err != nil {
		return err
	}
	log.Info("mongo connected", zap.String("database", d.db.Name()))
	return nil
}

func (d *database) Db() *mongo.Database {
	return d.db
}

func (d *database) Tx(ctx context.Context, f func(txCtx mongo.SessionContext) error) error {
	return d.db.Client().UseSession(ctx, func(sessCtx mongo.SessionContext) error {
		_, err := sessCtx.WithTransaction(sessCtx, func(txCtx mongo.SessionContext) (interface{}, error) {
			return nil, f(txCtx)
		})
		return err
	})
}

func (d *database) Close(ctx context.Context) (err error) {
	if d.db == nil {
		return nil
	}
	return d.db.Client().Disconnect(ctx)
}

// EnsureIndexes creates the indexes on a collection that has only the default _id index.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection, indexes ...mongo.IndexModel) (err error) {
	existingIndexes, err := coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		return
	}
	if len(existingIndexes) <= 1 {
		_, err = coll.Indexes().CreateMany(ctx, indexes)
	}
	return
}
