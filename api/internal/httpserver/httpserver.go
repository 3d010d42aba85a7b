// Package httpserver — служебный HTTP: /healthz, /metrics и webhook Telegram.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger — *sql.DB подходит.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Options struct {
	DB          Pinger // nil — база не используется
	WebhookPath string
	Webhook     http.Handler // nil — режим polling
}

func NewRouter(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", healthz(opts.DB))
	r.Handle("/metrics", promhttp.Handler())
	if opts.Webhook != nil && opts.WebhookPath != "" {
		r.Post(opts.WebhookPath, opts.Webhook.ServeHTTP)
	}
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("music studio expert bot"))
	})
	return r
}

func healthz(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
