package content

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/quillpub/quill-server/auth"
	"github.com/quillpub/quill-server/domain"
	"github.com/quillpub/quill-server/gateway/httpapi"
	"github.com/quillpub/quill-server/quillclient/quillapi"
)

const coverFormField = "media"

type httpHandler struct {
	s *contentService
}

func (h httpHandler) init(m *http.ServeMux) {
	m.HandleFunc("POST /api/content", h.InitDraft)
	m.HandleFunc("GET /api/content/drafts", h.ListDrafts)
	m.HandleFunc("GET /api/content/{id}", h.GetItem)
	m.HandleFunc("PATCH /api/content/{id}", h.UpdateDraft)
	m.HandleFunc("GET /api/content/{id}/cover", h.GetCover)
	m.HandleFunc("DELETE /api/content/{id}", h.Delete)
	m.HandleFunc("POST /api/content/{id}/chunks", h.PutChunk)
	m.HandleFunc("GET /api/content/{id}/chunks", h.GetChunks)
	m.HandleFunc("DELETE /api/content/{id}/chunks", h.ClearContent)
	m.HandleFunc("POST /api/content/{id}/finalize", h.Finalize)
}

func (h httpHandler) InitDraft(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	meta, err := h.readDraftMetadata(r)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	item, err := h.s.InitDraft(r.Context(), actor.Id, meta)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, item.Api())
}

// readDraftMetadata accepts a multipart form with an optional cover file or a json body.
func (h httpHandler) readDraftMetadata(r *http.Request) (meta domain.DraftMetadata, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req quillapi.InitDraftRequest
		if err = httpapi.ReadJSON(r, &req); err != nil {
			return
		}
		return domain.DraftMetadata{Title: req.Title, Description: req.Description}, nil
	}
	r.Body = http.MaxBytesReader(nil, r.Body, h.s.conf.MaxCoverSize+1<<20)
	if err = r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return meta, quillapi.InvalidArgument("cover exceeds %d bytes", h.s.conf.MaxCoverSize)
		}
		return meta, quillapi.InvalidArgument("invalid form: %v", err)
	}
	meta.Title = r.FormValue("title")
	meta.Description = r.FormValue("description")
	file, header, err := r.FormFile(coverFormField)
	if errors.Is(err, http.ErrMissingFile) {
		return meta, nil
	}
	if err != nil {
		return meta, quillapi.InvalidArgument("invalid cover: %v", err)
	}
	defer func() {
		_ = file.Close()
	}()
	if meta.Cover, err = io.ReadAll(file); err != nil {
		return meta, quillapi.InvalidArgument("read cover: %v", err)
	}
	meta.CoverName = header.Filename
	return meta, nil
}

func (h httpHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	meta, err := h.readDraftMetadata(r)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	item, err := h.s.UpdateDraft(r.Context(), r.PathValue("id"), actor.Id, meta)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, item.Api())
}

func (h httpHandler) GetCover(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	body, contentType, err := h.s.OpenCover(r.Context(), r.PathValue("id"), actor.Id)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	defer func() {
		_ = body.Close()
	}()
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	if _, err = io.Copy(w, body); err != nil {
		log.Debug("cover stream interrupted", zap.String("contentId", r.PathValue("id")), zap.Error(err))
	}
}

func (h httpHandler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	items, err := h.s.ListDrafts(r.Context(), actor.Id)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, lo.Map(items, func(item domain.ContentItem, _ int) quillapi.Content {
		return item.Api()
	}))
}

func (h httpHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	item, err := h.s.GetItem(r.Context(), r.PathValue("id"), actor.Id)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, item.Api())
}

func (h httpHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	if err := h.s.Delete(r.Context(), r.PathValue("id"), actor.Id, actor.IsAdmin()); err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h httpHandler) PutChunk(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	var req quillapi.PutChunkRequest
	if err := httpapi.ReadJSON(r, &req); err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	chunk, err := h.s.PutChunk(r.Context(), r.PathValue("id"), *req.Index, *req.Content, actor.Id)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, quillapi.Chunk{Index: chunk.Index, Hash: chunk.Hash})
}

func (h httpHandler) GetChunks(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	page, err := httpapi.QueryInt(r, "page", 0)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	size, err := httpapi.QueryInt(r, "size", DefaultPageSize)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	chunks, total, err := h.s.GetAssembledContent(r.Context(), r.PathValue("id"), actor.Id, page, size)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	httpapi.WriteJSON(w, http.StatusOK, lo.Map(chunks, func(c domain.Chunk, _ int) quillapi.Chunk {
		return c.Api()
	}))
}

func (h httpHandler) ClearContent(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	if err := h.s.ClearContent(r.Context(), r.PathValue("id"), actor.Id); err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h httpHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	total, err := strconv.Atoi(r.URL.Query().Get("totalChunks"))
	if err != nil {
		httpapi.WriteErr(w, r, quillapi.InvalidArgument("totalChunks must be an integer"))
		return
	}
	item, err := h.s.Finalize(r.Context(), r.PathValue("id"), actor.Id, total)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, item.Api())
}
