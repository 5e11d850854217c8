//go:generate mockgen -destination mock_fanout/mock_fanout.go github.com/quillpub/quill-server/fanout Dispatcher
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/quillpub/quill-server/delivery"
	"github.com/quillpub/quill-server/delivery/relay"
	"github.com/quillpub/quill-server/domain"
	"github.com/quillpub/quill-server/notify/notifyrepo"
	"github.com/quillpub/quill-server/subscriber"
)

const CName = "fanout.dispatcher"

// EventNotification is the name of the pushed event carrying a quillapi.Notification.
const EventNotification = "notification"

var log = logger.NewNamed(CName)

var (
	ErrQueueFull = errors.New("fan-out queue is full")
	ErrClosed    = errors.New("fan-out dispatcher is closed")
)

func New() Dispatcher {
	return new(dispatcher)
}

// Dispatcher notifies the author's subscribers about a published item in
// the background.
type Dispatcher interface {
	// Dispatch queues the item. When the queue stays full for the submit
	// timeout the item is dropped and ErrQueueFull is returned.
	Dispatch(item domain.ContentItem) error
	app.ComponentRunnable
}

type dispatcher struct {
	conf     Config
	resolver subscriber.Resolver
	repo     notifyrepo.NotifyRepo
	pusher   delivery.Pusher

	jobs   chan domain.ContentItem
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func (d *dispatcher) Init(a *app.App) (err error) {
	d.conf = a.MustComponent("config").(configGetter).GetFanout().withDefaults()
	d.resolver = a.MustComponent(subscriber.CName).(subscriber.Resolver)
	d.repo = a.MustComponent(notifyrepo.CName).(notifyrepo.NotifyRepo)
	if r := a.Component(relay.CName); r != nil {
		d.pusher = r.(delivery.Pusher)
	} else {
		d.pusher = a.MustComponent(delivery.CName).(delivery.Pusher)
	}
	d.jobs = make(chan domain.ContentItem, d.conf.QueueSize)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return nil
}

func (d *dispatcher) Name() (name string) {
	return CName
}

func (d *dispatcher) Run(ctx context.Context) (err error) {
	for i := 0; i < d.conf.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return nil
}

func (d *dispatcher) Dispatch(item domain.ContentItem) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.jobs <- item:
		return nil
	default:
	}
	timer := time.NewTimer(d.conf.SubmitTimeout)
	defer timer.Stop()
	select {
	case d.jobs <- item:
		return nil
	case <-timer.C:
		log.Warn("fan-out queue is full, dropping item", zap.String("contentId", item.Id), zap.Int("queueSize", cap(d.jobs)))
		return ErrQueueFull
	}
}

func (d *dispatcher) worker() {
	defer d.wg.Done()
	for item := range d.jobs {
		d.process(item)
	}
}

func (d *dispatcher) process(item domain.ContentItem) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("fan-out job panic", zap.String("contentId", item.Id), zap.Any("panic", r))
		}
	}()
	st := time.Now()
	count, delivered, err := d.fanOut(d.ctx, item)
	if err != nil {
		log.Warn("fan-out failed", zap.String("contentId", item.Id), zap.Error(err))
		return
	}
	log.Info("fan-out done",
		zap.String("contentId", item.Id),
		zap.Int("notifications", count),
		zap.Int("delivered", delivered),
		zap.Duration("dur", time.Since(st)),
	)
}

func (d *dispatcher) fanOut(ctx context.Context, item domain.ContentItem) (count, delivered int, err error) {
	receivers, err := d.resolver.ListSubscribers(ctx, item.AuthorId, d.conf.SubscriberLimit)
	if err != nil {
		return 0, 0, fmt.Errorf("list subscribers: %w", err)
	}
	if len(receivers) == 0 {
		return 0, 0, nil
	}
	authorName, err := d.resolver.DisplayName(ctx, item.AuthorId)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve author name: %w", err)
	}
	now := time.Now().UnixMilli()
	message := fmt.Sprintf("%s published: %s", authorName, item.Title)
	notifications := lo.Map(receivers, func(receiverId string, _ int) domain.Notification {
		return domain.Notification{
			Id:               domain.NotificationId(item.Id, receiverId),
			ReceiverId:       receiverId,
			ContentId:        item.Id,
			ContentTitle:     item.Title,
			AuthorName:       authorName,
			Message:          message,
			CreatedTimestamp: now,
		}
	})
	if err = d.repo.InsertMany(ctx, notifications); err != nil {
		return 0, 0, fmt.Errorf("persist notifications: %w", err)
	}
	for _, n := range notifications {
		data, err := json.Marshal(n.Api())
		if err != nil {
			log.Warn("marshal notification", zap.String("id", n.Id), zap.Error(err))
			continue
		}
		if d.pusher.Push(n.ReceiverId, delivery.Event{Name: EventNotification, Data: data}) {
			delivered++
		}
	}
	return len(notifications), delivered, nil
}

// Close stops accepting items and waits until the queued ones are processed
// or ctx is done.
func (d *dispatcher) Close(ctx context.Context) (err error) {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.jobs)
	}
	d.mu.Unlock()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	d.cancel()
	return
}
