package subscriber

import (
	"context"
	"errors"

	"github.com/anyproto/any-sync/app"
)

const SourceCName = "subscriber.source"

var ErrUnknownUser = errors.New("unknown user")

// Source is the store of follow relations and user names.
type Source interface {
	// Followers returns at most limit follower ids of the author. A limit <= 0 means no limit.
	Followers(ctx context.Context, authorId string, limit int) (followerIds []string, err error)
	DisplayName(ctx context.Context, userId string) (name string, err error)
	app.Component
}
