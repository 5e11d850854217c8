package gateway

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"go.uber.org/zap"

	"github.com/quillpub/quill-server/auth"
	"github.com/quillpub/quill-server/content"
	"github.com/quillpub/quill-server/gateway/gatewayconfig"
	"github.com/quillpub/quill-server/gateway/httpapi"
	"github.com/quillpub/quill-server/notify"
	"github.com/quillpub/quill-server/quillclient/quillapi"
)

func New() Gateway {
	return new(gateway)
}

const CName = "quill.gateway"

var log = logger.NewNamed(CName)

type Gateway interface {
	Handler() http.Handler
	app.ComponentRunnable
}

type gateway struct {
	mux     *http.ServeMux
	handler http.Handler
	server  *http.Server
	config  gatewayconfig.Config
}

func (g *gateway) Name() (name string) {
	return CName
}

func (g *gateway) Init(a *app.App) (err error) {
	g.config = a.MustComponent("config").(gatewayconfig.ConfigGetter).GetGateway()
	authenticator := a.MustComponent(auth.CName).(auth.Auth)

	api := http.NewServeMux()
	a.MustComponent(content.CName).(content.Service).RegisterHandlers(api)
	a.MustComponent(notify.CName).(notify.Service).RegisterHandlers(api)
	api.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteErr(w, r, quillapi.ErrNotFound)
	})

	g.mux = http.NewServeMux()
	g.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	g.mux.Handle("/api/", authenticator.Middleware(api))
	g.handler = g.cors(g.mux)
	g.server = &http.Server{Addr: g.config.Addr, Handler: g.handler, ReadHeaderTimeout: 10 * time.Second}
	return
}

func (g *gateway) Handler() http.Handler {
	return g.handler
}

func (g *gateway) Run(ctx context.Context) (err error) {
	var errCh = make(chan error)
	go func() {
		errCh <- g.server.ListenAndServe()
	}()
	select {
	case err = <-errCh:
		return err
	case <-time.After(200 * time.Millisecond):
		log.Info("gateway server started", zap.String("addr", g.config.Addr))
		go func() {
			if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("gateway server stopped", zap.Error(err))
			}
		}()
		return
	}
}

// cors answers preflight requests and allows the configured origins.
func (g *gateway) cors(next http.Handler) http.Handler {
	if len(g.config.AllowedOrigins) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || !slices.Contains(g.config.AllowedOrigins, origin) {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *gateway) Close(ctx context.Context) (err error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return g.server.Shutdown(ctx)
}
