package http

import (
	"context"
	"net/http"

	"github.com/aussiebroadwan/accounts/internal/accounts/metrics"
	"github.com/aussiebroadwan/accounts/internal/accounts/service"
	"github.com/aussiebroadwan/accounts/pkg/accountsdk"
	"github.com/aussiebroadwan/accounts/pkg/httpx"
	"github.com/aussiebroadwan/accounts/pkg/slogx"
)

type principalKey struct{}

// authn resolves the bearer token into a service.Principal. Downstream
// handlers read it with principalFrom.
func authn(g *service.Guard) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := httpx.BearerToken(r)
			if !ok {
				accountsdk.ErrInvalidToken.WriteError(w)
				return
			}

			p, err := g.ResolvePrincipal(r.Context(), token)
			if err != nil {
				writeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalKey{}, p)
			ctx = httpx.WithSubject(ctx, p.ID)
			ctx = slogx.With(ctx, "account_id", p.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// principalFrom returns the caller set by authn. Handlers behind authn can
// rely on it being present.
func principalFrom(ctx context.Context) service.Principal {
	p, _ := ctx.Value(principalKey{}).(service.Principal)
	return p
}

func clientInfo(r *http.Request, trustProxy bool) service.ClientInfo {
	return service.ClientInfo{
		UserAgent: r.UserAgent(),
		IP:        httpx.ClientIP(r, trustProxy),
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// statusMetrics counts responses by status code.
func statusMetrics(rec metrics.Recorder) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			if sw.status == 0 {
				sw.status = http.StatusOK
			}
			rec.RecordHTTPStatus(sw.status)
		})
	}
}
