// cmd/webhook-listener/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clearbill/pkg/config"
	"clearbill/pkg/events"
	"clearbill/pkg/httpmw"
	"clearbill/pkg/logger"
	"clearbill/pkg/metrics"
	"clearbill/pkg/webhooks"
)

// webhook-listener receives signed ClearBill webhook deliveries locally,
// verifies them and republishes the payloads on an in-process bus. Intended
// for development and integration pipelines.
func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	if cfg.WebhookSecret == "" {
		log.Fatalw("CLEARBILL_WEBHOOK_SECRET is required")
	}
	filter, err := webhooks.NewFilter(os.Getenv("CLEARBILL_WEBHOOK_FILTER"))
	if err != nil {
		log.Fatalw("filter", "err", err)
	}

	bus := events.NewBus(log)
	bus.Subscribe(events.TypeWebhookReceived, func(_ context.Context, ev events.Event) error {
		log.Infow("webhook", "payload", ev.Payload)
		return nil
	})

	r := chi.NewRouter()
	r.Use(httpmw.RequestID())
	r.Use(httpmw.Recover(log))
	r.Use(httpmw.Tracing("clearbill-webhook-listener"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/webhook", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		sig := r.Header.Get(webhooks.SignatureHeader)
		if err := webhooks.Verify(cfg.WebhookSecret, body, sig, webhooks.DefaultTolerance, time.Now()); err != nil {
			metrics.WebhooksReceived.WithLabelValues("rejected").Inc()
			log.Warnw("webhook rejected", "err", err)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		ok, err := filter.Match(body)
		if err != nil {
			metrics.WebhooksReceived.WithLabelValues("rejected").Inc()
			http.Error(w, "unreadable payload", http.StatusBadRequest)
			return
		}
		if !ok {
			metrics.WebhooksReceived.WithLabelValues("filtered").Inc()
			w.WriteHeader(http.StatusAccepted)
			return
		}
		metrics.WebhooksReceived.WithLabelValues("accepted").Inc()
		bus.PublishAsync(r.Context(), events.Event{
			Type:    events.TypeWebhookReceived,
			Payload: map[string]any{"body": string(body)},
		})
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{Addr: cfg.WebhookAddr, Handler: r}
	go func() {
		log.Infow("webhook-listener listening", "addr", cfg.WebhookAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("webhook-listener stopped")
}
