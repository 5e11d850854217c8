package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpub/quill-server/auth"
	"github.com/quillpub/quill-server/delivery"
	"github.com/quillpub/quill-server/domain"
	"github.com/quillpub/quill-server/kvdb"
	"github.com/quillpub/quill-server/notify/notifyrepo"
	"github.com/quillpub/quill-server/quillclient/quillapi"
)

var ctx = context.Background()

func TestNotifyService_History(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.seed(t, "r1", "c1", "c2", "c3")

	list, total, err := fx.History(ctx, "r1", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, list, 2)
	assert.Equal(t, "c3", list[0].ContentId)

	_, _, err = fx.History(ctx, "r1", 0, 0)
	assert.ErrorIs(t, err, quillapi.ErrInvalidArgument)
	_, _, err = fx.History(ctx, "r1", -1, 10)
	assert.ErrorIs(t, err, quillapi.ErrInvalidArgument)
}

func TestNotifyService_MarkRead(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.seed(t, "r1", "c1", "c2")
	id := domain.NotificationId("c1", "r1")

	_, err := fx.MarkRead(ctx, id, "r2")
	assert.ErrorIs(t, err, quillapi.ErrForbidden)
	_, err = fx.MarkRead(ctx, "unknown", "r1")
	assert.ErrorIs(t, err, quillapi.ErrNotFound)

	n, err := fx.MarkRead(ctx, id, "r1")
	require.NoError(t, err)
	assert.True(t, n.Read)

	count, err := fx.CountUnread(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestHttpHandler(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.seed(t, "r1", "c1", "c2")
	srv := fx.httpServer(t)

	var list []quillapi.Notification
	resp := srv.do(t, "r1", http.MethodGet, "/api/notifications?page=0&size=10", &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("X-Total-Count"))
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].Content.Id)

	resp = srv.do(t, "r1", http.MethodGet, "/api/notifications?size=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, "r2", http.MethodPatch, "/api/notifications/"+list[0].Id+"/read", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var n quillapi.Notification
	resp = srv.do(t, "r1", http.MethodPatch, "/api/notifications/"+list[0].Id+"/read", &n)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, n.Read)

	var unread quillapi.UnreadCount
	resp = srv.do(t, "r1", http.MethodGet, "/api/notifications/unread", &unread)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(1), unread.Count)
}

func TestHttpHandler_Subscribe(t *testing.T) {
	fx := newFixture(t, Config{KeepAlive: 30 * time.Millisecond})
	srv := fx.httpServer(t)

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/api/notifications/subscribe", nil)
	require.NoError(t, err)
	req.Header.Set("X-Actor", "r1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	nextLine := func() string {
		for lines.Scan() {
			if line := lines.Text(); line != "" {
				return line
			}
		}
		return ""
	}
	assert.Equal(t, ": connected", nextLine())
	require.True(t, fx.registry.Connected("r1"))

	data, err := json.Marshal(quillapi.Notification{Id: "n1", Message: "Alice published: Title"})
	require.NoError(t, err)
	require.True(t, fx.registry.Push("r1", delivery.Event{Name: "notification", Data: data}))

	var event, payload string
	for event == "" || payload == "" {
		line := nextLine()
		require.NotEmpty(t, line)
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			payload = strings.TrimPrefix(line, "data: ")
		}
	}
	assert.Equal(t, "notification", event)
	var n quillapi.Notification
	require.NoError(t, json.Unmarshal([]byte(payload), &n))
	assert.Equal(t, "n1", n.Id)

	assert.Equal(t, ": keepalive", nextLine())

	cancel()
	assert.Eventually(t, func() bool {
		return !fx.registry.Connected("r1")
	}, time.Second, 10*time.Millisecond)
}

type fixture struct {
	*notifyService
	repo     notifyrepo.NotifyRepo
	registry delivery.Registry
}

func newFixture(t *testing.T, conf Config) *fixture {
	fx := &fixture{
		notifyService: New().(*notifyService),
		repo:          notifyrepo.NewBadger(),
		registry:      delivery.New(),
	}
	a := new(app.App)
	a.Register(&testConfig{notify: conf}).
		Register(kvdb.New()).
		Register(fx.repo).
		Register(fx.registry).
		Register(fx.notifyService)
	require.NoError(t, a.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, a.Close(ctx))
	})
	return fx
}

// seed stores one notification per content id, later ids are newer.
func (fx *fixture) seed(t *testing.T, receiverId string, contentIds ...string) {
	var list []domain.Notification
	for i, contentId := range contentIds {
		list = append(list, domain.Notification{
			Id:               domain.NotificationId(contentId, receiverId),
			ReceiverId:       receiverId,
			ContentId:        contentId,
			Message:          "Alice published: " + contentId,
			CreatedTimestamp: int64(1000 + i),
		})
	}
	require.NoError(t, fx.repo.InsertMany(ctx, list))
}

type testServer struct {
	*httptest.Server
}

func (fx *fixture) httpServer(t *testing.T) *testServer {
	mux := http.NewServeMux()
	fx.RegisterHandlers(mux)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := auth.Actor{Id: r.Header.Get("X-Actor")}
		mux.ServeHTTP(w, r.WithContext(auth.CtxWithActor(r.Context(), actor)))
	}))
	t.Cleanup(srv.Close)
	return &testServer{srv}
}

func (s *testServer) do(t *testing.T, actorId, method, path string, res any) *http.Response {
	req, err := http.NewRequest(method, s.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("X-Actor", actorId)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if res != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(res))
	}
	return resp
}

type testConfig struct {
	notify Config
}

func (c *testConfig) Init(a *app.App) (err error) { return }
func (c *testConfig) Name() (name string)         { return "config" }

func (c *testConfig) GetNotify() Config {
	return c.notify
}

func (c *testConfig) GetDelivery() delivery.Config {
	return delivery.Config{}
}

func (c *testConfig) GetBadger() kvdb.Config {
	return kvdb.Config{InMemory: true}
}
