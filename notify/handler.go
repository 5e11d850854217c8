package notify

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/samber/lo"

	"github.com/quillpub/quill-server/auth"
	"github.com/quillpub/quill-server/domain"
	"github.com/quillpub/quill-server/gateway/httpapi"
	"github.com/quillpub/quill-server/quillclient/quillapi"
)

type httpHandler struct {
	s *notifyService
}

func (h httpHandler) init(m *http.ServeMux) {
	m.HandleFunc("GET /api/notifications", h.History)
	m.HandleFunc("GET /api/notifications/unread", h.CountUnread)
	m.HandleFunc("PATCH /api/notifications/{id}/read", h.MarkRead)
	m.HandleFunc("GET /api/notifications/subscribe", h.Subscribe)
}

func (h httpHandler) History(w http.ResponseWriter, r *http.Request) {
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
	list, total, err := h.s.History(r.Context(), actor.Id, page, size)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	httpapi.WriteJSON(w, http.StatusOK, lo.Map(list, func(n domain.Notification, _ int) quillapi.Notification {
		return n.Api()
	}))
}

func (h httpHandler) CountUnread(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	count, err := h.s.CountUnread(r.Context(), actor.Id)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, quillapi.UnreadCount{Count: count})
}

func (h httpHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	n, err := h.s.MarkRead(r.Context(), r.PathValue("id"), actor.Id)
	if err != nil {
		httpapi.WriteErr(w, r, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, n.Api())
}

func (h httpHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.CtxActor(r.Context())
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpapi.WriteErr(w, r, errors.New("streaming is not supported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ch := h.s.registry.Subscribe(actor.Id)
	stream(r, ch, sseSink{w: w, f: flusher}, h.s.conf.keepAlive())
}
