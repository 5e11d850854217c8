package notifyrepo

import (
	"context"

	"github.com/anyproto/any-sync/app"

	"github.com/quillpub/quill-server/domain"
)

const CName = "notify.repo"

// NotifyRepo persists notifications. Engine specific implementations are
// created by NewMongo and NewBadger.
type NotifyRepo interface {
	// InsertMany stores all notifications or none of them. An id that already
	// exists fails the whole batch with quillapi.ErrConflict.
	InsertMany(ctx context.Context, notifications []domain.Notification) (err error)
	Get(ctx context.Context, id string) (notification domain.Notification, err error)
	// List returns the receiver's notifications, newest first.
	List(ctx context.Context, receiverId string, offset, limit int) (notifications []domain.Notification, total int, err error)
	// MarkRead sets the read flag. It fails with quillapi.ErrForbidden when
	// the notification belongs to another receiver.
	MarkRead(ctx context.Context, id, receiverId string) (notification domain.Notification, err error)
	CountUnread(ctx context.Context, receiverId string) (count int64, err error)
	app.ComponentRunnable
}
