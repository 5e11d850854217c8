package content

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/anyproto/any-sync/util/periodicsync"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/quillpub/quill-server/blobstore"
	"github.com/quillpub/quill-server/content/contentrepo"
	"github.com/quillpub/quill-server/domain"
	"github.com/quillpub/quill-server/fanout"
	"github.com/quillpub/quill-server/quillclient/quillapi"
)

const CName = "content.service"

const (
	maxDrafts       = 100
	maxPageSize     = 100
	DefaultPageSize = 5
)

var log = logger.NewNamed(CName)

func New() Service {
	return new(contentService)
}

// Service assembles content from chunks uploaded by the author and publishes it.
type Service interface {
	InitDraft(ctx context.Context, actorId string, meta domain.DraftMetadata) (item domain.ContentItem, err error)
	// UpdateDraft replaces title and description of a draft. A new cover replaces
	// the stored one, which is then removed.
	UpdateDraft(ctx context.Context, contentId, actorId string, meta domain.DraftMetadata) (item domain.ContentItem, err error)
	// PutChunk stores the chunk at index, replacing a previous upload of the same index.
	PutChunk(ctx context.Context, contentId string, index int, payload string, actorId string) (chunk domain.Chunk, err error)
	// Finalize publishes the draft when exactly the chunks 0..expectedChunkCount-1 are stored.
	Finalize(ctx context.Context, contentId, actorId string, expectedChunkCount int) (item domain.ContentItem, err error)
	GetAssembledContent(ctx context.Context, contentId, actorId string, page, pageSize int) (chunks []domain.Chunk, total int, err error)
	ClearContent(ctx context.Context, contentId, actorId string) (err error)
	GetItem(ctx context.Context, contentId, actorId string) (item domain.ContentItem, err error)
	// OpenCover streams the cover media of an item visible to the actor.
	OpenCover(ctx context.Context, contentId, actorId string) (body io.ReadCloser, contentType string, err error)
	ListDrafts(ctx context.Context, actorId string) (items []domain.ContentItem, err error)
	Delete(ctx context.Context, contentId, actorId string, isAdmin bool) (err error)
	// Cleanup removes drafts untouched for longer than the retention.
	Cleanup(ctx context.Context) (err error)
	RegisterHandlers(mux *http.ServeMux)
	app.ComponentRunnable
}

type contentService struct {
	conf       Config
	repo       contentrepo.ContentRepo
	dispatcher fanout.Dispatcher
	blobs      blobstore.BlobStore
	validate   *validator.Validate
	ticker     periodicsync.PeriodicSync
}

func (s *contentService) Init(a *app.App) (err error) {
	s.conf = a.MustComponent("config").(configGetter).GetContent().withDefaults()
	s.repo = a.MustComponent(contentrepo.CName).(contentrepo.ContentRepo)
	s.dispatcher = a.MustComponent(fanout.CName).(fanout.Dispatcher)
	if bs := a.Component(blobstore.CName); bs != nil {
		s.blobs = bs.(blobstore.BlobStore)
	}
	s.validate = validator.New(validator.WithRequiredStructEnabled())
	return nil
}

func (s *contentService) Name() (name string) {
	return CName
}

func (s *contentService) Run(ctx context.Context) (err error) {
	if s.conf.DraftRetention > 0 {
		s.ticker = periodicsync.NewPeriodicSync(s.conf.CleanupPeriod, time.Minute, s.Cleanup, log)
		s.ticker.Run()
	}
	return
}

func (s *contentService) RegisterHandlers(mux *http.ServeMux) {
	httpHandler{s: s}.init(mux)
}

func (s *contentService) InitDraft(ctx context.Context, actorId string, meta domain.DraftMetadata) (item domain.ContentItem, err error) {
	if err = s.validate.Struct(meta); err != nil {
		return item, quillapi.InvalidArgument("%v", err)
	}
	now := time.Now().UnixMilli()
	item = domain.ContentItem{
		Id:               uuid.NewString(),
		AuthorId:         actorId,
		Title:            meta.Title,
		Description:      meta.Description,
		Status:           domain.ContentStatusDraft,
		CreatedTimestamp: now,
		UpdatedTimestamp: now,
	}
	if len(meta.Cover) > 0 {
		if item.CoverUrl, item.CoverType, err = s.storeCover(ctx, meta); err != nil {
			return domain.ContentItem{}, err
		}
	}
	if err = s.repo.CreateItem(ctx, item); err != nil {
		s.deleteCover(item)
		return domain.ContentItem{}, err
	}
	log.Info("draft created", zap.String("contentId", item.Id), zap.String("authorId", actorId))
	return item, nil
}

func (s *contentService) UpdateDraft(ctx context.Context, contentId, actorId string, meta domain.DraftMetadata) (item domain.ContentItem, err error) {
	if err = s.validate.Struct(meta); err != nil {
		return item, quillapi.InvalidArgument("%v", err)
	}
	current, err := s.ownedItem(ctx, contentId, actorId)
	if err != nil {
		return
	}
	if !current.IsDraft() {
		return item, fmt.Errorf("%w: content %s is %s", quillapi.ErrConflict, contentId, current.Status)
	}
	changes := domain.DraftChanges{Title: meta.Title, Description: meta.Description}
	if len(meta.Cover) > 0 {
		if changes.CoverUrl, changes.CoverType, err = s.storeCover(ctx, meta); err != nil {
			return
		}
		changes.ReplaceCover = true
	}
	previous, item, err := s.repo.UpdateDraft(ctx, contentId, changes)
	if err != nil {
		if changes.ReplaceCover {
			s.deleteCover(domain.ContentItem{Id: contentId, CoverUrl: changes.CoverUrl})
		}
		return domain.ContentItem{}, err
	}
	if changes.ReplaceCover && previous.CoverUrl != changes.CoverUrl {
		s.deleteCover(previous)
	}
	log.Info("draft updated", zap.String("contentId", contentId), zap.Bool("coverReplaced", changes.ReplaceCover))
	return item, nil
}

func (s *contentService) storeCover(ctx context.Context, meta domain.DraftMetadata) (url, contentType string, err error) {
	if int64(len(meta.Cover)) > s.conf.MaxCoverSize {
		return "", "", quillapi.InvalidArgument("cover exceeds %d bytes", s.conf.MaxCoverSize)
	}
	file := blobstore.File{Name: meta.CoverName, Data: meta.Cover}
	if !file.IsMedia() {
		return "", "", quillapi.InvalidArgument("cover must be an image or a video, got %s", file.ContentType())
	}
	if s.blobs == nil {
		return "", "", fmt.Errorf("%w: media storage is not configured", quillapi.ErrFailedPrecondition)
	}
	if url, err = s.blobs.Store(ctx, file); err != nil {
		return "", "", fmt.Errorf("store cover: %w", err)
	}
	return url, file.ContentType(), nil
}

func (s *contentService) deleteCover(item domain.ContentItem) {
	if item.CoverUrl == "" || s.blobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.blobs.Delete(ctx, item.CoverUrl); err != nil {
		log.Warn("can't delete cover", zap.String("contentId", item.Id), zap.String("url", item.CoverUrl), zap.Error(err))
	}
}

func (s *contentService) PutChunk(ctx context.Context, contentId string, index int, payload string, actorId string) (chunk domain.Chunk, err error) {
	if index < 0 || index >= s.conf.MaxChunks {
		return chunk, quillapi.InvalidArgument("chunk index must be in [0, %d)", s.conf.MaxChunks)
	}
	if !utf8.ValidString(payload) {
		return chunk, quillapi.InvalidArgument("chunk payload is not valid utf-8")
	}
	if n := utf8.RuneCountInString(payload); n > s.conf.MaxChunkSize {
		return chunk, quillapi.InvalidArgument("chunk size must not exceed %d characters, got %d", s.conf.MaxChunkSize, n)
	}
	if _, err = s.ownedItem(ctx, contentId, actorId); err != nil {
		return
	}
	hash := blake3.Sum256([]byte(payload))
	chunk = domain.Chunk{
		ContentId: contentId,
		Index:     index,
		Payload:   payload,
		Hash:      hex.EncodeToString(hash[:]),
	}
	if err = s.repo.PutChunk(ctx, chunk); err != nil {
		return domain.Chunk{}, err
	}
	return chunk, nil
}

func (s *contentService) Finalize(ctx context.Context, contentId, actorId string, expectedChunkCount int) (item domain.ContentItem, err error) {
	current, err := s.ownedItem(ctx, contentId, actorId)
	if err != nil {
		return
	}
	// a finished item is a conflict whatever count is asked for
	if !current.IsDraft() {
		return item, fmt.Errorf("%w: content %s is %s", quillapi.ErrConflict, contentId, current.Status)
	}
	if expectedChunkCount < 1 || expectedChunkCount > s.conf.MaxChunks {
		return item, quillapi.InvalidArgument("total chunks must be in [1, %d]", s.conf.MaxChunks)
	}
	if item, err = s.repo.Publish(ctx, contentId, expectedChunkCount); err != nil {
		return
	}
	log.Info("content published", zap.String("contentId", item.Id), zap.Int("chunks", item.ChunkCount))
	if err := s.dispatcher.Dispatch(item); err != nil {
		log.Warn("can't dispatch notifications", zap.String("contentId", item.Id), zap.Error(err))
	}
	return item, nil
}

func (s *contentService) GetAssembledContent(ctx context.Context, contentId, actorId string, page, pageSize int) (chunks []domain.Chunk, total int, err error) {
	if page < 0 {
		return nil, 0, quillapi.InvalidArgument("page must not be negative")
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return nil, 0, quillapi.InvalidArgument("page size must be in [1, %d]", maxPageSize)
	}
	if _, err = s.GetItem(ctx, contentId, actorId); err != nil {
		return
	}
	if chunks, total, err = s.repo.ListChunks(ctx, contentId, page*pageSize, pageSize); err != nil {
		return
	}
	for i := range chunks {
		chunks[i].IsLast = chunks[i].Index+1 == total
	}
	return
}

func (s *contentService) ClearContent(ctx context.Context, contentId, actorId string) (err error) {
	if _, err = s.ownedItem(ctx, contentId, actorId); err != nil {
		return
	}
	return s.repo.ClearChunks(ctx, contentId)
}

// GetItem returns published items to anyone and drafts to their author only.
func (s *contentService) GetItem(ctx context.Context, contentId, actorId string) (item domain.ContentItem, err error) {
	if item, err = s.repo.GetItem(ctx, contentId); err != nil {
		return
	}
	if item.IsDraft() && item.AuthorId != actorId {
		return domain.ContentItem{}, quillapi.ErrNotFound
	}
	return
}

func (s *contentService) OpenCover(ctx context.Context, contentId, actorId string) (body io.ReadCloser, contentType string, err error) {
	item, err := s.GetItem(ctx, contentId, actorId)
	if err != nil {
		return
	}
	if item.CoverUrl == "" {
		return nil, "", fmt.Errorf("%w: content %s has no cover", quillapi.ErrNotFound, contentId)
	}
	if s.blobs == nil {
		return nil, "", fmt.Errorf("%w: media storage is not configured", quillapi.ErrFailedPrecondition)
	}
	if body, err = s.blobs.Open(ctx, item.CoverUrl); err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: cover of %s is gone", quillapi.ErrNotFound, contentId)
		}
		return nil, "", fmt.Errorf("open cover: %w", err)
	}
	return body, item.CoverType, nil
}

func (s *contentService) ListDrafts(ctx context.Context, actorId string) (items []domain.ContentItem, err error) {
	return s.repo.ListDrafts(ctx, actorId, maxDrafts)
}

func (s *contentService) Delete(ctx context.Context, contentId, actorId string, isAdmin bool) (err error) {
	item, err := s.repo.GetItem(ctx, contentId)
	if err != nil {
		return
	}
	if item.AuthorId != actorId && !isAdmin {
		return fmt.Errorf("%w: content %s belongs to another author", quillapi.ErrForbidden, contentId)
	}
	if item, err = s.repo.DeleteItem(ctx, contentId); err != nil {
		return
	}
	log.Info("content deleted", zap.String("contentId", contentId), zap.String("actorId", actorId), zap.Bool("admin", isAdmin))
	s.deleteCover(item)
	return nil
}

func (s *contentService) Cleanup(ctx context.Context) (err error) {
	if s.conf.DraftRetention <= 0 {
		return nil
	}
	deleted, err := s.repo.DeleteOutdatedDrafts(ctx, time.Now().Add(-s.conf.DraftRetention))
	if err != nil {
		return fmt.Errorf("delete outdated drafts: %w", err)
	}
	if deleted > 0 {
		log.Info("outdated drafts deleted", zap.Int("count", deleted))
	}
	return nil
}

func (s *contentService) ownedItem(ctx context.Context, contentId, actorId string) (item domain.ContentItem, err error) {
	if item, err = s.repo.GetItem(ctx, contentId); err != nil {
		return
	}
	if item.AuthorId != actorId {
		return domain.ContentItem{}, fmt.Errorf("%w: content %s belongs to another author", quillapi.ErrForbidden, contentId)
	}
	return
}

func (s *contentService) Close(ctx context.Context) (err error) {
	if s.ticker != nil {
		s.ticker.Close()
	}
	return
}
