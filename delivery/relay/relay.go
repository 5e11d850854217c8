package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quillpub/quill-server/delivery"
)

const CName = "delivery.relay"

var log = logger.NewNamed(CName)

func New() Relay {
	return new(relay)
}

// Relay is a delivery.Pusher that reaches subscribers connected to other
// server instances through redis pub/sub.
type Relay interface {
	delivery.Pusher
	app.ComponentRunnable
}

type envelope struct {
	Origin       string `json:"origin"`
	SubscriberId string `json:"subscriberId"`
	Name         string `json:"name"`
	Data         []byte `json:"data"`
}

type relay struct {
	conf       Config
	instanceId string
	registry   delivery.Registry
	client     *redis.Client
	pubsub     *redis.PubSub

	// unix nano time until which publishing is skipped
	suspendedUntil atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (r *relay) Init(a *app.App) (err error) {
	r.conf = a.MustComponent("config").(configGetter).GetRedis().withDefaults()
	if r.conf.Addr == "" {
		return fmt.Errorf("redis address is not configured")
	}
	r.registry = a.MustComponent(delivery.CName).(delivery.Registry)
	r.instanceId = uuid.NewString()
	r.client = newClient(r.conf)
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return nil
}

func newClient(conf Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:                  conf.Addr,
		Password:              conf.Password,
		DB:                    conf.DB,
		DialTimeout:           conf.Timeout,
		ReadTimeout:           conf.Timeout,
		WriteTimeout:          conf.Timeout,
		ContextTimeoutEnabled: true,
	})
}

func (r *relay) Name() (name string) {
	return CName
}

func (r *relay) Run(ctx context.Context) (err error) {
	if err = r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	r.pubsub = r.client.Subscribe(ctx, r.conf.Channel)
	// wait for the subscription confirmation, so no event published after Run is missed
	if _, err = r.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.wg.Add(1)
	go r.receiveLoop()
	log.Info("relay started", zap.String("channel", r.conf.Channel), zap.String("instance", r.instanceId))
	return nil
}

// Push delivers locally when the subscriber is connected to this instance,
// otherwise the event is broadcast to the other instances. The result only
// reports local delivery.
//
// A failed publish suspends publishing for PublishBackoff, so a stalled redis
// costs one PublishTimeout per backoff period instead of one per subscriber.
func (r *relay) Push(subscriberId string, evt delivery.Event) bool {
	if r.registry.Push(subscriberId, evt) {
		return true
	}
	if r.suspended() {
		return false
	}
	data, err := json.Marshal(envelope{
		Origin:       r.instanceId,
		SubscriberId: subscriberId,
		Name:         evt.Name,
		Data:         evt.Data,
	})
	if err != nil {
		log.Warn("marshal envelope", zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(r.ctx, r.conf.PublishTimeout)
	defer cancel()
	if err = r.client.Publish(ctx, r.conf.Channel, data).Err(); err != nil {
		r.suspendedUntil.Store(time.Now().Add(r.conf.PublishBackoff).UnixNano())
		log.Warn("redis publish failed, publishing suspended", zap.String("subscriberId", subscriberId), zap.Duration("backoff", r.conf.PublishBackoff), zap.Error(err))
	}
	return false
}

func (r *relay) suspended() bool {
	return time.Now().UnixNano() < r.suspendedUntil.Load()
}

func (r *relay) receiveLoop() {
	defer r.wg.Done()
	msgs := r.pubsub.Channel()
	for {
		select {
		case <-r.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *relay) handle(payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Warn("invalid envelope", zap.Error(err))
		return
	}
	if env.Origin == r.instanceId {
		return
	}
	if r.registry.Push(env.SubscriberId, delivery.Event{Name: env.Name, Data: env.Data}) {
		log.Debug("relayed event delivered", zap.String("subscriberId", env.SubscriberId), zap.String("origin", env.Origin))
	}
}

func (r *relay) Close(ctx context.Context) (err error) {
	if r.cancel != nil {
		r.cancel()
	}
	if r.pubsub != nil {
		_ = r.pubsub.Close()
	}
	r.wg.Wait()
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
