package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/fjod/go_checkout/internal/checkout"
	"github.com/fjod/go_checkout/internal/domain"
)

const (
	HeaderUserID       = "X-User-ID"
	HeaderSessionToken = "X-Session-Token"
	// HeaderPaymentToken carries a guest payment's access token.
	HeaderPaymentToken = "X-Payment-Token"
)

type ctxKey int

const (
	userIDKey ctxKey = iota
	sessionKey
)

// RequestLogger writes one structured line per request.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.InfoContext(r.Context(), "http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start))
		})
	}
}

// IdentityMiddleware trusts the X-User-ID header set by the edge proxy.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := strings.TrimSpace(r.Header.Get(HeaderUserID)); userID != "" {
			r = r.WithContext(context.WithValue(r.Context(), userIDKey, userID))
		}
		next.ServeHTTP(w, r)
	})
}

type SessionResolver interface {
	Resolve(ctx context.Context, id checkout.Identity) (*domain.CheckoutSession, error)
}

// SessionMiddleware attaches the caller's checkout draft to the request and
// returns its token on every response.
func SessionMiddleware(resolver SessionResolver, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := resolver.Resolve(r.Context(), checkout.Identity{
				Token:   strings.TrimSpace(r.Header.Get(HeaderSessionToken)),
				OwnerID: userIDFromContext(r.Context()),
			})
			if err != nil {
				writeError(w, r, log, err)
				return
			}

			w.Header().Set(HeaderSessionToken, sess.Token)
			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func userIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok {
		return userID
	}
	return ""
}

func sessionFromContext(ctx context.Context) *domain.CheckoutSession {
	if sess, ok := ctx.Value(sessionKey).(*domain.CheckoutSession); ok {
		return sess
	}
	return nil
}

// verifier is who confirmed a payment from the browser, if anybody.
func verifier(ctx context.Context) *string {
	if userID := userIDFromContext(ctx); userID != "" {
		return &userID
	}
	return nil
}
