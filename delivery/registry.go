package delivery

import (
	"context"
	"sync"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"go.uber.org/zap"
)

const CName = "delivery.registry"

var log = logger.NewNamed(CName)

func New() Registry {
	return new(registry)
}

// Pusher delivers an event to a connected subscriber. false means the event
// was not delivered, which is a normal outcome.
type Pusher interface {
	Push(subscriberId string, evt Event) (delivered bool)
}

// Registry keeps at most one live channel per subscriber. It is process local
// state, nothing survives a restart.
type Registry interface {
	Pusher
	// Subscribe opens a channel for the subscriber, replacing the previous one.
	Subscribe(subscriberId string) *Channel
	Connected(subscriberId string) bool
	Len() int
	app.ComponentRunnable
}

type registry struct {
	conf     Config
	mu       sync.Mutex
	channels map[string]*Channel
	closed   bool
}

func (r *registry) Init(a *app.App) (err error) {
	r.conf = a.MustComponent("config").(configGetter).GetDelivery().withDefaults()
	r.channels = make(map[string]*Channel)
	return nil
}

func (r *registry) Name() (name string) {
	return CName
}

func (r *registry) Run(ctx context.Context) (err error) {
	return nil
}

func (r *registry) Subscribe(subscriberId string) *Channel {
	ch := newChannel(subscriberId, r.conf.BufferSize, r.remove)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		ch.close(CloseReasonShutdown)
		return ch
	}
	prev := r.channels[subscriberId]
	r.channels[subscriberId] = ch
	r.mu.Unlock()
	if prev != nil {
		prev.close(CloseReasonReplaced)
	}
	ch.startTimer(r.conf.ChannelTTL)
	log.Debug("subscribed", zap.String("subscriberId", subscriberId), zap.Bool("replaced", prev != nil))
	return ch
}

// remove is called exactly once per channel, by whatever closes it first.
func (r *registry) remove(ch *Channel) {
	r.mu.Lock()
	if r.channels[ch.subscriberId] == ch {
		delete(r.channels, ch.subscriberId)
	}
	r.mu.Unlock()
	log.Debug("channel closed", zap.String("subscriberId", ch.subscriberId), zap.Stringer("reason", ch.Reason()))
}

func (r *registry) Push(subscriberId string, evt Event) bool {
	r.mu.Lock()
	ch := r.channels[subscriberId]
	r.mu.Unlock()
	if ch == nil {
		return false
	}
	if err := ch.send(evt, r.conf.PushTimeout); err != nil {
		log.Info("push failed, evicting channel", zap.String("subscriberId", subscriberId), zap.Error(err))
		ch.close(CloseReasonError)
		return false
	}
	return true
}

func (r *registry) Connected(subscriberId string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[subscriberId]
	return ok
}

func (r *registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func (r *registry) Close(ctx context.Context) (err error) {
	r.mu.Lock()
	r.closed = true
	channels := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		channels = append(channels, ch)
	}
	r.mu.Unlock()
	for _, ch := range channels {
		ch.close(CloseReasonShutdown)
	}
	return nil
}
