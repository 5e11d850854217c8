package subscriber_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/quillpub/quill-server/kvdb"
	"github.com/quillpub/quill-server/subscriber"
	"github.com/quillpub/quill-server/subscriber/mock_subscriber"
)

var ctx = context.Background()

func TestResolver_ListSubscribers(t *testing.T) {
	t.Run("cached", func(t *testing.T) {
		fx := newFixture(t, time.Minute)
		fx.source.EXPECT().Followers(gomock.Any(), "author", 500).Return([]string{"a", "b", "a", "author", ""}, nil)

		for i := 0; i < 3; i++ {
			ids, err := fx.ListSubscribers(ctx, "author", 500)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, ids)
		}
	})
	t.Run("limit is part of the key", func(t *testing.T) {
		fx := newFixture(t, time.Minute)
		fx.source.EXPECT().Followers(gomock.Any(), "author", 1).Return([]string{"a"}, nil)
		fx.source.EXPECT().Followers(gomock.Any(), "author", 2).Return([]string{"a", "b"}, nil)

		ids, err := fx.ListSubscribers(ctx, "author", 1)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
		ids, err = fx.ListSubscribers(ctx, "author", 2)
		require.NoError(t, err)
		assert.Len(t, ids, 2)
	})
	t.Run("expired", func(t *testing.T) {
		fx := newFixture(t, 50*time.Millisecond)
		fx.source.EXPECT().Followers(gomock.Any(), "author", 10).Return([]string{"a"}, nil)
		fx.source.EXPECT().Followers(gomock.Any(), "author", 10).Return([]string{"a", "b"}, nil)

		ids, err := fx.ListSubscribers(ctx, "author", 10)
		require.NoError(t, err)
		assert.Len(t, ids, 1)
		time.Sleep(80 * time.Millisecond)
		ids, err = fx.ListSubscribers(ctx, "author", 10)
		require.NoError(t, err)
		assert.Len(t, ids, 2)
	})
	t.Run("error is not cached", func(t *testing.T) {
		fx := newFixture(t, time.Minute)
		srcErr := errors.New("source is down")
		fx.source.EXPECT().Followers(gomock.Any(), "author", 10).Return(nil, srcErr)
		fx.source.EXPECT().Followers(gomock.Any(), "author", 10).Return([]string{"a"}, nil)

		_, err := fx.ListSubscribers(ctx, "author", 10)
		require.ErrorIs(t, err, srcErr)
		ids, err := fx.ListSubscribers(ctx, "author", 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids)
	})
}

func TestResolver_DisplayName(t *testing.T) {
	fx := newFixture(t, time.Minute)
	fx.source.EXPECT().DisplayName(gomock.Any(), "u1").Return("Alice", nil)
	fx.source.EXPECT().DisplayName(gomock.Any(), "u2").Return("", subscriber.ErrUnknownUser)

	name, err := fx.DisplayName(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
	name, err = fx.DisplayName(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)

	name, err = fx.DisplayName(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", name)
}

func TestBadgerSource(t *testing.T) {
	src := subscriber.NewBadgerSource()
	a := new(app.App)
	a.Register(&testConfig{}).Register(kvdb.New()).Register(src)
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, a.Close(ctx))
	})

	for _, follower := range []string{"f1", "f2", "f3"} {
		require.NoError(t, src.Follow(ctx, "author", follower))
	}
	require.NoError(t, src.Follow(ctx, "author2", "f4"))
	require.NoError(t, src.Unfollow(ctx, "author", "f3"))

	ids, err := src.Followers(ctx, "author", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1", "f2"}, ids)

	ids, err = src.Followers(ctx, "author", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"f1"}, ids)

	ids, err = src.Followers(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = src.DisplayName(ctx, "author")
	assert.ErrorIs(t, err, subscriber.ErrUnknownUser)
	require.NoError(t, src.SetDisplayName(ctx, "author", "Alice"))
	name, err := src.DisplayName(ctx, "author")
	require.NoError(t, err)
	assert.Equal(t, "Alice", name)
}

type fixture struct {
	subscriber.Resolver
	source *mock_subscriber.MockSource
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	ctrl := gomock.NewController(t)
	fx := &fixture{
		Resolver: subscriber.New(),
		source:   mock_subscriber.NewMockSource(ctrl),
	}
	fx.source.EXPECT().Name().Return(subscriber.SourceCName).AnyTimes()
	fx.source.EXPECT().Init(gomock.Any()).AnyTimes()

	a := new(app.App)
	a.Register(&testConfig{subscriber: subscriber.Config{CacheTTL: ttl}}).Register(fx.source).Register(fx.Resolver)
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, a.Close(ctx))
	})
	return fx
}

type testConfig struct {
	subscriber subscriber.Config
}

func (c *testConfig) Init(a *app.App) (err error) { return }
func (c *testConfig) Name() (name string)         { return "config" }

func (c *testConfig) GetSubscriber() subscriber.Config {
	return c.subscriber
}

func (c *testConfig) GetBadger() kvdb.Config {
	return kvdb.Config{InMemory: true}
}
