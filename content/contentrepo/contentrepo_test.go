package contentrepo

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpub/quill-server/db"
	"github.com/quillpub/quill-server/domain"
	"github.com/quillpub/quill-server/kvdb"
	"github.com/quillpub/quill-server/quillclient/quillapi"
)

var ctx = context.Background()

func TestBadgerRepo(t *testing.T) {
	runRepoTests(t, func(t *testing.T) ContentRepo {
		return newFixture(t, NewBadger()).ContentRepo
	})
}

func TestMongoRepo(t *testing.T) {
	if mongoConnect() == "" {
		t.Skip("QUILL_TEST_MONGO is not set")
	}
	runRepoTests(t, func(t *testing.T) ContentRepo {
		return newFixture(t, NewMongo()).ContentRepo
	})
}

func runRepoTests(t *testing.T, newRepo func(t *testing.T) ContentRepo) {
	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		item := newTestItem("a1")
		require.NoError(t, repo.CreateItem(ctx, item))
		got, err := repo.GetItem(ctx, item.Id)
		require.NoError(t, err)
		assert.Equal(t, item, got)

		_, err = repo.GetItem(ctx, "unknown")
		require.ErrorIs(t, err, quillapi.ErrNotFound)
	})
	t.Run("update draft", func(t *testing.T) {
		repo := newRepo(t)
		item := newTestItem("a1")
		item.CoverUrl = "https://cdn/covers/old.png"
		item.CoverType = "image/png"
		require.NoError(t, repo.CreateItem(ctx, item))
		require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, 0, "c")))

		previous, updated, err := repo.UpdateDraft(ctx, item.Id, domain.DraftChanges{Title: "fixed", Description: "desc"})
		require.NoError(t, err)
		assert.Equal(t, "title", previous.Title)
		assert.Equal(t, "fixed", updated.Title)
		assert.Equal(t, item.CoverUrl, updated.CoverUrl)
		assert.GreaterOrEqual(t, updated.UpdatedTimestamp, item.UpdatedTimestamp)

		previous, updated, err = repo.UpdateDraft(ctx, item.Id, domain.DraftChanges{
			Title:        "fixed",
			CoverUrl:     "https://cdn/covers/new.mp4",
			CoverType:    "video/mp4",
			ReplaceCover: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "https://cdn/covers/old.png", previous.CoverUrl)
		assert.Equal(t, "video/mp4", updated.CoverType)

		got, err := repo.GetItem(ctx, item.Id)
		require.NoError(t, err)
		assert.Equal(t, "fixed", got.Title)
		assert.Empty(t, got.Description)
		assert.Equal(t, "https://cdn/covers/new.mp4", got.CoverUrl)
		_, total, err := repo.ListChunks(ctx, item.Id, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, total)

		_, _, err = repo.UpdateDraft(ctx, "unknown", domain.DraftChanges{Title: "t"})
		require.ErrorIs(t, err, quillapi.ErrNotFound)
		_, err = repo.Publish(ctx, item.Id, 1)
		require.NoError(t, err)
		_, _, err = repo.UpdateDraft(ctx, item.Id, domain.DraftChanges{Title: "late"})
		require.ErrorIs(t, err, quillapi.ErrConflict)
		got, err = repo.GetItem(ctx, item.Id)
		require.NoError(t, err)
		assert.Equal(t, "fixed", got.Title)
	})
	t.Run("put chunk overwrites", func(t *testing.T) {
		repo := newRepo(t)
		item := newTestItem("a1")
		require.NoError(t, repo.CreateItem(ctx, item))
		require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, 0, "first")))
		require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, 0, "second")))
		chunks, total, err := repo.ListChunks(ctx, item.Id, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, chunks, 1)
		assert.Equal(t, "second", chunks[0].Payload)
	})
	t.Run("put chunk unknown content", func(t *testing.T) {
		repo := newRepo(t)
		require.ErrorIs(t, repo.PutChunk(ctx, testChunk("unknown", 0, "x")), quillapi.ErrNotFound)
	})
	t.Run("list chunks ordered and paged", func(t *testing.T) {
		repo := newRepo(t)
		item := newTestItem("a1")
		require.NoError(t, repo.CreateItem(ctx, item))
		for _, idx := range []int{11, 2, 0, 1, 10} {
			require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, idx, fmt.Sprint(idx))))
		}
		chunks, total, err := repo.ListChunks(ctx, item.Id, 0, 3)
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Equal(t, []int{0, 1, 2}, chunkIndexList(chunks))
		chunks, _, err = repo.ListChunks(ctx, item.Id, 3, 3)
		require.NoError(t, err)
		assert.Equal(t, []int{10, 11}, chunkIndexList(chunks))
		assert.Equal(t, "11", chunks[1].Payload)
	})
	t.Run("publish complete", func(t *testing.T) {
		repo := newRepo(t)
		item := newTestItem("a1")
		require.NoError(t, repo.CreateItem(ctx, item))
		for i := 0; i < 3; i++ {
			require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, i, "c")))
		}
		published, err := repo.Publish(ctx, item.Id, 3)
		require.NoError(t, err)
		assert.Equal(t, domain.ContentStatusPublished, published.Status)
		assert.Equal(t, 3, published.ChunkCount)
		assert.NotZero(t, published.PublishedTimestamp)
		assert.GreaterOrEqual(t, published.UpdatedTimestamp, item.UpdatedTimestamp)

		got, err := repo.GetItem(ctx, item.Id)
		require.NoError(t, err)
		assert.Equal(t, domain.ContentStatusPublished, got.Status)

		_, err = repo.Publish(ctx, item.Id, 3)
		require.ErrorIs(t, err, quillapi.ErrConflict)
	})
	t.Run("publish incomplete", func(t *testing.T) {
		repo := newRepo(t)
		item := newTestItem("a1")
		require.NoError(t, repo.CreateItem(ctx, item))
		require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, 0, "c")))
		require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, 1, "c")))
		_, err := repo.Publish(ctx, item.Id, 3)
		require.ErrorIs(t, err, quillapi.ErrFailedPrecondition)
		var countErr *quillapi.ChunkCountError
		require.ErrorAs(t, err, &countErr)
		assert.Equal(t, 3, countErr.Expected)
		assert.Equal(t, 2, countErr.Actual)

		got, err := repo.GetItem(ctx, item.Id)
		require.NoError(t, err)
		assert.Equal(t, domain.ContentStatusDraft, got.Status)
	})
	t.Run("publish with a gap", func(t *testing.T) {
		repo := newRepo(t)
		item := newTestItem("a1")
		require.NoError(t, repo.CreateItem(ctx, item))
		require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, 0, "c")))
		require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, 2, "c")))
		_, err := repo.Publish(ctx, item.Id, 2)
		require.ErrorIs(t, err, quillapi.ErrFailedPrecondition)
	})
	t.Run("concurrent publish", func(t *testing.T) {
		repo := newRepo(t)
		item := newTestItem("a1")
		require.NoError(t, repo.CreateItem(ctx, item))
		require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, 0, "c")))

		const n = 5
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
			conflicts int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Publish(ctx, item.Id, 1)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					successes++
				} else if assert.ErrorIs(t, err, quillapi.ErrConflict) {
					conflicts++
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, successes)
		assert.Equal(t, n-1, conflicts)
	})
	t.Run("chunks frozen after publish", func(t *testing.T) {
		repo := newRepo(t)
		item := newTestItem("a1")
		require.NoError(t, repo.CreateItem(ctx, item))
		require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, 0, "c")))
		_, err := repo.Publish(ctx, item.Id, 1)
		require.NoError(t, err)
		require.ErrorIs(t, repo.PutChunk(ctx, testChunk(item.Id, 1, "c")), quillapi.ErrConflict)
		require.ErrorIs(t, repo.ClearChunks(ctx, item.Id), quillapi.ErrConflict)
	})
	t.Run("clear chunks", func(t *testing.T) {
		repo := newRepo(t)
		item := newTestItem("a1")
		require.NoError(t, repo.CreateItem(ctx, item))
		require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, 0, "c")))
		require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, 1, "c")))
		require.NoError(t, repo.ClearChunks(ctx, item.Id))
		chunks, total, err := repo.ListChunks(ctx, item.Id, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, chunks)
		assert.Zero(t, total)
	})
	t.Run("list drafts", func(t *testing.T) {
		repo := newRepo(t)
		first := newTestItem("a1")
		second := newTestItem("a1")
		second.UpdatedTimestamp = first.UpdatedTimestamp + 10
		other := newTestItem("a2")
		for _, it := range []domain.ContentItem{first, second, other} {
			require.NoError(t, repo.CreateItem(ctx, it))
		}
		drafts, err := repo.ListDrafts(ctx, "a1", 10)
		require.NoError(t, err)
		require.Len(t, drafts, 2)
		assert.Equal(t, second.Id, drafts[0].Id)
		assert.Equal(t, first.Id, drafts[1].Id)

		drafts, err = repo.ListDrafts(ctx, "a1", 1)
		require.NoError(t, err)
		require.Len(t, drafts, 1)
	})
	t.Run("delete item", func(t *testing.T) {
		repo := newRepo(t)
		item := newTestItem("a1")
		require.NoError(t, repo.CreateItem(ctx, item))
		require.NoError(t, repo.PutChunk(ctx, testChunk(item.Id, 0, "c")))
		deleted, err := repo.DeleteItem(ctx, item.Id)
		require.NoError(t, err)
		assert.Equal(t, item.Id, deleted.Id)
		_, err = repo.GetItem(ctx, item.Id)
		require.ErrorIs(t, err, quillapi.ErrNotFound)
		_, total, err := repo.ListChunks(ctx, item.Id, 0, 10)
		require.NoError(t, err)
		assert.Zero(t, total)
		_, err = repo.DeleteItem(ctx, item.Id)
		require.ErrorIs(t, err, quillapi.ErrNotFound)
	})
	t.Run("delete outdated drafts", func(t *testing.T) {
		repo := newRepo(t)
		old := newTestItem("a1")
		old.UpdatedTimestamp = time.Now().Add(-time.Hour).UnixMilli()
		fresh := newTestItem("a1")
		require.NoError(t, repo.CreateItem(ctx, old))
		require.NoError(t, repo.CreateItem(ctx, fresh))
		deleted, err := repo.DeleteOutdatedDrafts(ctx, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, deleted)
		_, err = repo.GetItem(ctx, old.Id)
		require.ErrorIs(t, err, quillapi.ErrNotFound)
		_, err = repo.GetItem(ctx, fresh.Id)
		require.NoError(t, err)
	})
}

func newTestItem(authorId string) domain.ContentItem {
	now := time.Now().UnixMilli()
	return domain.ContentItem{
		Id:               uuid.NewString(),
		AuthorId:         authorId,
		Title:            "title",
		Status:           domain.ContentStatusDraft,
		CreatedTimestamp: now,
		UpdatedTimestamp: now,
	}
}

func testChunk(contentId string, index int, payload string) domain.Chunk {
	return domain.Chunk{ContentId: contentId, Index: index, Payload: payload, Hash: "h"}
}

func chunkIndexList(chunks []domain.Chunk) (res []int) {
	for _, c := range chunks {
		res = append(res, c.Index)
	}
	return
}

func newFixture(t *testing.T, repo ContentRepo) *fixture {
	fx := &fixture{
		ContentRepo: repo,
		a:           new(app.App),
	}
	fx.a.Register(&testConfig{})
	if _, ok := repo.(*mongoRepo); ok {
		fx.a.Register(db.New())
	} else {
		fx.a.Register(kvdb.New())
	}
	fx.a.Register(fx.ContentRepo)
	require.NoError(t, fx.a.Start(ctx))
	t.Cleanup(func() {
		fx.finish(t)
	})
	return fx
}

type fixture struct {
	ContentRepo
	a *app.App
}

func (fx *fixture) finish(t testing.TB) {
	if mr, ok := fx.ContentRepo.(*mongoRepo); ok {
		_ = mr.contentColl.Drop(ctx)
		_ = mr.chunkColl.Drop(ctx)
	}
	require.NoError(t, fx.a.Close(ctx))
}

type testConfig struct{}

func (c *testConfig) Init(a *app.App) (err error) { return }
func (c *testConfig) Name() (name string)         { return "config" }

func (c *testConfig) GetMongo() db.Mongo {
	return db.Mongo{Connect: mongoConnect(), Database: "quill_unittest"}
}

func (c *testConfig) GetBadger() kvdb.Config {
	return kvdb.Config{InMemory: true}
}
