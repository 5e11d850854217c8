//go:generate mockgen -destination mock_subscriber/mock_subscriber.go github.com/quillpub/quill-server/subscriber Resolver,Source
package subscriber

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/anyproto/any-sync/app/ocache"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const CName = "subscriber.resolver"

var log = logger.NewNamed(CName)

func New() Resolver {
	return new(resolver)
}

// Resolver answers who follows an author. Answers are cached for a short
// time, so a new follower may miss notifications published right after.
type Resolver interface {
	ListSubscribers(ctx context.Context, authorId string, limit int) (subscriberIds []string, err error)
	// DisplayName returns the author's public name, or the id itself when the author has none.
	DisplayName(ctx context.Context, authorId string) (name string, err error)
	app.ComponentRunnable
}

type resolver struct {
	source    Source
	ttl       time.Duration
	subsCache ocache.OCache
	nameCache ocache.OCache
}

func (r *resolver) Init(a *app.App) (err error) {
	r.source = a.MustComponent(SourceCName).(Source)
	r.ttl = a.MustComponent("config").(configGetter).GetSubscriber().cacheTTL()
	opts := []ocache.Option{
		ocache.WithLogger(log.Sugar()),
		ocache.WithGCPeriod(r.ttl),
		ocache.WithTTL(r.ttl),
	}
	r.subsCache = ocache.New(r.loadSubscribers, opts...)
	r.nameCache = ocache.New(r.loadName, opts...)
	return nil
}

func (r *resolver) Name() (name string) {
	return CName
}

func (r *resolver) Run(ctx context.Context) (err error) {
	return
}

func (r *resolver) ListSubscribers(ctx context.Context, authorId string, limit int) ([]string, error) {
	obj, err := r.get(ctx, r.subsCache, strconv.Itoa(limit)+"/"+authorId)
	if err != nil {
		return nil, err
	}
	return obj.subscribers, nil
}

func (r *resolver) DisplayName(ctx context.Context, authorId string) (string, error) {
	obj, err := r.get(ctx, r.nameCache, authorId)
	if err != nil {
		return "", err
	}
	if obj.name == "" {
		return authorId, nil
	}
	return obj.name, nil
}

// get evicts entries loaded more than ttl ago; ocache only expires entries
// that are not used.
func (r *resolver) get(ctx context.Context, cache ocache.OCache, key string) (*cached, error) {
	for {
		obj, err := cache.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		c := obj.(*cached)
		if time.Since(c.loadedAt) < r.ttl {
			return c, nil
		}
		if _, err = cache.Remove(ctx, key); err != nil {
			return nil, err
		}
	}
}

func (r *resolver) loadSubscribers(ctx context.Context, key string) (ocache.Object, error) {
	limitStr, authorId, ok := strings.Cut(key, "/")
	if !ok {
		return nil, errors.New("invalid subscribers key")
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return nil, err
	}
	ids, err := r.source.Followers(ctx, authorId, limit)
	if err != nil {
		return nil, err
	}
	ids = lo.Without(lo.Uniq(ids), authorId, "")
	log.Debug("subscribers loaded", zap.String("authorId", authorId), zap.Int("count", len(ids)))
	return &cached{subscribers: ids, loadedAt: time.Now()}, nil
}

func (r *resolver) loadName(ctx context.Context, authorId string) (ocache.Object, error) {
	name, err := r.source.DisplayName(ctx, authorId)
	if err != nil && !errors.Is(err, ErrUnknownUser) {
		return nil, err
	}
	return &cached{name: name, loadedAt: time.Now()}, nil
}

func (r *resolver) Close(ctx context.Context) (err error) {
	return errors.Join(r.subsCache.Close(), r.nameCache.Close())
}

type cached struct {
	subscribers []string
	name        string
	loadedAt    time.Time
}

func (c *cached) Close() (err error) {
	return nil
}

func (c *cached) TryClose(objectTTL time.Duration) (res bool, err error) {
	return true, nil
}
