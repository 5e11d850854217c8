package contentrepo

import (
	"context"
	"fmt"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/golang/snappy"

	"github.com/quillpub/quill-server/domain"
)

const CName = "content.repo"

// ContentRepo stores content items and their chunks. Engine specific
// implementations are created by NewMongo and NewBadger.
//
// Metadata updates, chunk writes and chunk clearing are only allowed while the
// item is a draft.
// Publish checks the stored chunks and flips the status in one transaction.
type ContentRepo interface {
	CreateItem(ctx context.Context, item domain.ContentItem) (err error)
	GetItem(ctx context.Context, id string) (item domain.ContentItem, err error)
	ListDrafts(ctx context.Context, authorId string, limit int) (items []domain.ContentItem, err error)
	// UpdateDraft applies changes to a draft and returns the item before and after.
	UpdateDraft(ctx context.Context, contentId string, changes domain.DraftChanges) (previous, item domain.ContentItem, err error)
	PutChunk(ctx context.Context, chunk domain.Chunk) (err error)
	ListChunks(ctx context.Context, contentId string, offset, limit int) (chunks []domain.Chunk, total int, err error)
	ClearChunks(ctx context.Context, contentId string) (err error)
	Publish(ctx context.Context, contentId string, expectedChunks int) (item domain.ContentItem, err error)
	DeleteItem(ctx context.Context, contentId string) (item domain.ContentItem, err error)
	DeleteOutdatedDrafts(ctx context.Context, before time.Time) (deleted int, err error)
	app.ComponentRunnable
}

func chunkKey(contentId string, index int) string {
	return fmt.Sprintf("%s/%010d", contentId, index)
}

func encodePayload(payload string) []byte {
	return snappy.Encode(nil, []byte(payload))
}

func decodePayload(data []byte) (string, error) {
	res, err := snappy.Decode(nil, data)
	if err != nil {
		return "", fmt.Errorf("decode chunk payload: %w", err)
	}
	return string(res), nil
}

// contiguous reports whether count chunks with the given max index form 0..expected-1.
func contiguous(expected, count, maxIndex int) bool {
	if count != expected {
		return false
	}
	return count == 0 || maxIndex == expected-1
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}
