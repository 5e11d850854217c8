package subscriber

import (
	"context"
	"errors"
	"fmt"

	"github.com/anyproto/any-sync/app"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/quillpub/quill-server/db"
)

const (
	subscriptionCollName = "subscription"
	userCollName         = "user"
)

func NewMongoSource() Source {
	return new(mongoSource)
}

type mongoSource struct {
	subscriptions *mongo.Collection
	users         *mongo.Collection
}

func (m *mongoSource) Init(a *app.App) (err error) {
	database := a.MustComponent(db.CName).(db.Database).Db()
	m.subscriptions = database.Collection(subscriptionCollName)
	m.users = database.Collection(userCollName)
	return nil
}

func (m *mongoSource) Name() (name string) {
	return SourceCName
}

type subscriptionDoc struct {
	FollowerId string `bson:"followerId"`
}

func (m *mongoSource) Followers(ctx context.Context, authorId string, limit int) ([]string, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdTimestamp", Value: 1}}).
		SetProjection(bson.M{"followerId": 1})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := m.subscriptions.Find(ctx, bson.M{"followingId": authorId}, opts)
	if err != nil {
		return nil, fmt.Errorf("find subscriptions: %w", err)
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var docs []subscriptionDoc
	if err = cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.FollowerId)
	}
	return ids, nil
}

func (m *mongoSource) DisplayName(ctx context.Context, userId string) (string, error) {
	var user struct {
		Username string `bson:"username"`
	}
	err := m.users.FindOne(ctx, bson.M{"_id": userId}, options.FindOne().SetProjection(bson.M{"username": 1})).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", ErrUnknownUser
	}
	if err != nil {
		return "", fmt.Errorf("find user: %w", err)
	}
	return user.Username, nil
}
