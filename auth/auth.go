package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const CName = "auth"

const RoleAdmin = "ADMIN"

var log = logger.NewNamed(CName)

var (
	ErrNoToken      = errors.New("no token")
	ErrInvalidToken = errors.New("invalid token")
)

func New() Auth {
	return new(auth)
}

// Auth resolves the calling principal of an http request. The core services
// only ever see the resulting actor.
type Auth interface {
	Verify(token string) (Actor, error)
	IssueToken(actor Actor, ttl time.Duration) (string, error)
	// Middleware rejects unauthenticated requests and puts the actor into the request context.
	Middleware(next http.Handler) http.Handler
	app.Component
}

type Actor struct {
	Id    string
	Roles []string
}

func (a Actor) IsAdmin() bool {
	return slices.Contains(a.Roles, RoleAdmin)
}

type claims struct {
	UserId string   `json:"user_id"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

type actorKey struct{}

func CtxWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func CtxActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

type auth struct {
	secret []byte
	issuer string
}

func (a *auth) Init(ap *app.App) (err error) {
	conf := ap.MustComponent("config").(configGetter).GetAuth()
	if conf.Secret == "" {
		return fmt.Errorf("auth secret is empty")
	}
	a.secret = []byte(conf.Secret)
	a.issuer = conf.Issuer
	return nil
}

func (a *auth) Name() (name string) {
	return CName
}

func (a *auth) IssueToken(actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		UserId: actor.Id,
		Roles:  actor.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    a.issuer,
		},
	})
	return token.SignedString(a.secret)
}

func (a *auth) Verify(tokenString string) (Actor, error) {
	if tokenString == "" {
		return Actor{}, ErrNoToken
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid || c.UserId == "" {
		return Actor{}, ErrInvalidToken
	}
	return Actor{Id: c.UserId, Roles: c.Roles}, nil
}

func (a *auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := a.Verify(requestToken(r))
		if err != nil {
			log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Error(err))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(CtxWithActor(r.Context(), actor)))
	})
}

// requestToken reads the bearer token. EventSource clients can not set
// headers, so the token query parameter is accepted as well.
func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
