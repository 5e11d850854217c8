package notifyrepo

import (
	"context"
	"errors"
	"fmt"

	"github.com/anyproto/any-sync/app"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quillpub/quill-server/db"
	"github.com/quillpub/quill-server/domain"
	"github.com/quillpub/quill-server/quillclient/quillapi"
)

const collName = "notification"

var indexes = []mongo.IndexModel{
	{
		Keys: bson.D{
			{Key: "receiverId", Value: 1},
			{Key: "createdTimestamp", Value: -1},
		},
	},
	{
		Keys: bson.D{
			{Key: "receiverId", Value: 1},
			{Key: "read", Value: 1},
		},
	},
}

func NewMongo() NotifyRepo {
	return new(mongoRepo)
}

type mongoRepo struct {
	db   db.Database
	coll *mongo.Collection
}

func (r *mongoRepo) Name() (name string) {
	return CName
}

func (r *mongoRepo) Init(a *app.App) (err error) {
	r.db = a.MustComponent(db.CName).(db.Database)
	r.coll = r.db.Db().Collection(collName)
	return
}

func (r *mongoRepo) Run(ctx context.Context) (err error) {
	return db.EnsureIndexes(ctx, r.coll, indexes...)
}

func (r *mongoRepo) InsertMany(ctx context.Context, notifications []domain.Notification) (err error) {
	if len(notifications) == 0 {
		return nil
	}
	docs := lo.Map(notifications, func(n domain.Notification, _ int) interface{} {
		return n
	})
	err = r.db.Tx(ctx, func(txCtx mongo.SessionContext) error {
		_, err := r.coll.InsertMany(txCtx, docs)
		return err
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: notifications already exist", quillapi.ErrConflict)
	}
	return
}

func (r *mongoRepo) Get(ctx context.Context, id string) (n domain.Notification, err error) {
	if err = r.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&n); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Notification{}, quillapi.ErrNotFound
		}
	}
	return
}

func (r *mongoRepo) List(ctx context.Context, receiverId string, offset, limit int) (notifications []domain.Notification, total int, err error) {
	query := bson.D{{Key: "receiverId", Value: receiverId}}
	count, err := r.coll.CountDocuments(ctx, query)
	if err != nil {
		return
	}
	total = int(count)
	opts := options.Find().
		SetSort(bson.D{{Key: "createdTimestamp", Value: -1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, query, opts)
	if err != nil {
		return
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	err = cur.All(ctx, &notifications)
	return
}

func (r *mongoRepo) MarkRead(ctx context.Context, id, receiverId string) (n domain.Notification, err error) {
	err = r.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "receiverId", Value: receiverId}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "read", Value: true}}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&n)
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return
	}
	if _, err = r.Get(ctx, id); err != nil {
		return
	}
	return domain.Notification{}, quillapi.ErrForbidden
}

func (r *mongoRepo) CountUnread(ctx context.Context, receiverId string) (count int64, err error) {
	return r.coll.CountDocuments(ctx, bson.D{{Key: "receiverId", Value: receiverId}, {Key: "read", Value: false}})
}

func (r *mongoRepo) Close(ctx context.Context) (err error) {
	return
}
