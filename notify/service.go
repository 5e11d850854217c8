package notify

import (
	"context"
	"net/http"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"go.uber.org/zap"

	"github.com/quillpub/quill-server/delivery"
	"github.com/quillpub/quill-server/domain"
	"github.com/quillpub/quill-server/notify/notifyrepo"
	"github.com/quillpub/quill-server/quillclient/quillapi"
)

const CName = "notify.service"

const (
	maxPageSize     = 100
	DefaultPageSize = 20
)

var log = logger.NewNamed(CName)

func New() Service {
	return new(notifyService)
}

type Service interface {
	// History returns the receiver's notifications, newest first.
	History(ctx context.Context, receiverId string, page, size int) (notifications []domain.Notification, total int, err error)
	MarkRead(ctx context.Context, notificationId, actorId string) (notification domain.Notification, err error)
	CountUnread(ctx context.Context, receiverId string) (count int64, err error)
	RegisterHandlers(mux *http.ServeMux)
	app.Component
}

type notifyService struct {
	conf     Config
	repo     notifyrepo.NotifyRepo
	registry delivery.Registry
}

func (s *notifyService) Init(a *app.App) (err error) {
	s.conf = a.MustComponent("config").(configGetter).GetNotify()
	s.repo = a.MustComponent(notifyrepo.CName).(notifyrepo.NotifyRepo)
	s.registry = a.MustComponent(delivery.CName).(delivery.Registry)
	return nil
}

func (s *notifyService) Name() (name string) {
	return CName
}

func (s *notifyService) RegisterHandlers(mux *http.ServeMux) {
	httpHandler{s: s}.init(mux)
}

func (s *notifyService) History(ctx context.Context, receiverId string, page, size int) (notifications []domain.Notification, total int, err error) {
	if page < 0 {
		return nil, 0, quillapi.InvalidArgument("page must not be negative")
	}
	if size < 1 || size > maxPageSize {
		return nil, 0, quillapi.InvalidArgument("page size must be in [1, %d]", maxPageSize)
	}
	return s.repo.List(ctx, receiverId, page*size, size)
}

func (s *notifyService) MarkRead(ctx context.Context, notificationId, actorId string) (notification domain.Notification, err error) {
	if notification, err = s.repo.MarkRead(ctx, notificationId, actorId); err != nil {
		return
	}
	log.Debug("notification read", zap.String("id", notificationId), zap.String("receiverId", actorId))
	return
}

func (s *notifyService) CountUnread(ctx context.Context, receiverId string) (count int64, err error) {
	return s.repo.CountUnread(ctx, receiverId)
}
