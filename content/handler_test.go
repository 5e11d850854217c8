package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/quillpub/quill-server/auth"
	"github.com/quillpub/quill-server/quillclient/quillapi"
)

func TestHttpHandler(t *testing.T) {
	fx := newFixture(t, Config{}, true)
	srv := fx.httpServer(t)

	var item quillapi.Content
	resp := srv.do(t, "a1", http.MethodPost, "/api/content", `{"title":"Hello","description":"first"}`, &item)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "draft", item.Status)
	assert.Equal(t, "Hello", item.Title)

	resp = srv.do(t, "a1", http.MethodPost, "/api/content", `{"description":"no title"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, "a1", http.MethodPatch, "/api/content/"+item.Id, `{"title":"Hello, gophers","description":"first"}`, &item)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Hello, gophers", item.Title)
	resp = srv.do(t, "a2", http.MethodPatch, "/api/content/"+item.Id, `{"title":"stolen"}`, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	for i, text := range []string{"zero", "one"} {
		var chunk quillapi.Chunk
		resp = srv.do(t, "a1", http.MethodPost, "/api/content/"+item.Id+"/chunks", fmt.Sprintf(`{"index":%d,"content":%q}`, i, text), &chunk)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, chunk.Hash, 64)
	}

	resp = srv.do(t, "a2", http.MethodPost, "/api/content/"+item.Id+"/chunks", `{"index":2,"content":"x"}`, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var apiErr quillapi.Error
	resp = srv.do(t, "a1", http.MethodPost, "/api/content/"+item.Id+"/finalize?totalChunks=3", "", &apiErr)
	require.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, quillapi.ErrCodeFailedPrecondition, apiErr.Code)
	require.NotNil(t, apiErr.Expected)
	assert.Equal(t, 3, *apiErr.Expected)
	assert.Equal(t, 2, *apiErr.Actual)

	resp = srv.do(t, "a1", http.MethodPost, "/api/content/"+item.Id+"/finalize?totalChunks=x", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	fx.dispatcher.EXPECT().Dispatch(gomock.Any())
	var published quillapi.Content
	resp = srv.do(t, "a1", http.MethodPost, "/api/content/"+item.Id+"/finalize?totalChunks=2", "", &published)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "published", published.Status)
	assert.Equal(t, 2, published.ChunkCount)

	resp = srv.do(t, "a1", http.MethodPost, "/api/content/"+item.Id+"/finalize?totalChunks=2", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = srv.do(t, "a1", http.MethodPost, "/api/content/"+item.Id+"/finalize?totalChunks=0", "", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp = srv.do(t, "a1", http.MethodPatch, "/api/content/"+item.Id, `{"title":"too late"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var chunks []quillapi.Chunk
	resp = srv.do(t, "a2", http.MethodGet, "/api/content/"+item.Id+"/chunks?page=0&size=5", "", &chunks)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("X-Total-Count"))
	require.Len(t, chunks, 2)
	assert.Equal(t, "one", chunks[1].Content)
	assert.True(t, chunks[1].IsLast)

	resp = srv.do(t, "a2", http.MethodDelete, "/api/content/"+item.Id, "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp = srv.do(t, "a1", http.MethodDelete, "/api/content/"+item.Id, "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = srv.do(t, "a1", http.MethodGet, "/api/content/"+item.Id, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHttpHandler_Multipart(t *testing.T) {
	fx := newFixture(t, Config{}, true)
	srv := fx.httpServer(t)
	fx.blobs.EXPECT().Store(gomock.Any(), gomock.Any()).Return("https://cdn/covers/1.png", nil)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	require.NoError(t, mw.WriteField("title", "With cover"))
	require.NoError(t, mw.WriteField("description", "desc"))
	fw, err := mw.CreateFormFile(coverFormField, "cover.png")
	require.NoError(t, err)
	_, err = fw.Write(pngData)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/content", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Actor", "a1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var item quillapi.Content
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&item))
	assert.Equal(t, "https://cdn/covers/1.png", item.CoverUrl)
	assert.Equal(t, "image/png", item.CoverType)

	var drafts []quillapi.Content
	r := srv.do(t, "a1", http.MethodGet, "/api/content/drafts", "", &drafts)
	require.Equal(t, http.StatusOK, r.StatusCode)
	require.Len(t, drafts, 1)
	assert.Equal(t, item.Id, drafts[0].Id)

	fx.blobs.EXPECT().Open(gomock.Any(), "https://cdn/covers/1.png").Return(io.NopCloser(bytes.NewReader(pngData)), nil)
	req, err = http.NewRequest(http.MethodGet, srv.URL+"/api/content/"+item.Id+"/cover", nil)
	require.NoError(t, err)
	req.Header.Set("X-Actor", "a1")
	cover, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer cover.Body.Close()
	require.Equal(t, http.StatusOK, cover.StatusCode)
	assert.Equal(t, "image/png", cover.Header.Get("Content-Type"))
	data, err := io.ReadAll(cover.Body)
	require.NoError(t, err)
	assert.Equal(t, pngData, data)

	r = srv.do(t, "a2", http.MethodGet, "/api/content/"+item.Id+"/cover", "", nil)
	assert.Equal(t, http.StatusNotFound, r.StatusCode)
}

type testServer struct {
	*httptest.Server
}

// httpServer serves the content routes, taking the actor id from the X-Actor header.
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

func (s *testServer) do(t *testing.T, actorId, method, path, body string, res any) *http.Response {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("X-Actor", actorId)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if res != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(res))
	}
	return resp
}
