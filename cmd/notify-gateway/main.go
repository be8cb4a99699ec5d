// Package main provides the notify gateway entry point. It consumes
// committed queue events from Redpanda and fans them out to staff
// dashboards over Server-Sent Events.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/surgicare/clinicflow/internal/api/middleware"
	"github.com/surgicare/clinicflow/internal/domain/visit"
	"github.com/surgicare/clinicflow/internal/infrastructure/redpanda"
)

func main() {
	godotenv.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8082"
	}

	brokers := []string{"localhost:9092"}
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		brokers = []string{b}
	}

	hub := newHub(logger)

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = brokers

	consumer, err := redpanda.NewConsumer(consumerCfg, func(ctx context.Context, msg *redpanda.ConsumedMessage) error {
		var ev visit.QueueEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			// Malformed events are dropped, not retried.
			logger.Warn("malformed queue event", zap.Error(err))
			return nil
		}
		hub.broadcast(ev)
		return nil
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("consuming queue events", zap.Strings("brokers", brokers))

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS)
	r.Use(middleware.Recover(logger))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"healthy","service":"notify-gateway","subscribers":%d}`, hub.count())
	})
	r.Get("/events", hub.serveSSE)

	server := &http.Server{
		Addr:        ":" + port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		consumer.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.Info("starting notify gateway", zap.String("port", port))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}

// hub fans queue events out to SSE subscribers, keyed by clinic.
type hub struct {
	mu     sync.RWMutex
	subs   map[string]map[chan visit.QueueEvent]struct{}
	logger *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		subs:   make(map[string]map[chan visit.QueueEvent]struct{}),
		logger: logger,
	}
}

func (h *hub) subscribe(clinicID string) chan visit.QueueEvent {
	ch := make(chan visit.QueueEvent, 16)
	h.mu.Lock()
	if h.subs[clinicID] == nil {
		h.subs[clinicID] = make(map[chan visit.QueueEvent]struct{})
	}
	h.subs[clinicID][ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(clinicID string, ch chan visit.QueueEvent) {
	h.mu.Lock()
	if set := h.subs[clinicID]; set != nil {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, clinicID)
		}
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(ev visit.QueueEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.ClinicID] {
		select {
		case ch <- ev:
		default:
			// Slow subscriber, drop. The next event refreshes it anyway.
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// serveSSE streams queue events for one clinic.
func (h *hub) serveSSE(w http.ResponseWriter, r *http.Request) {
	clinicID := r.URL.Query().Get("clinic_id")
	if clinicID == "" {
		http.Error(w, `{"error":"clinic_id is required"}`, http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"error":"streaming unsupported"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.subscribe(clinicID)
	defer h.unsubscribe(clinicID, ch)

	h.logger.Info("sse subscriber connected", zap.String("clinic_id", clinicID))

	// Heartbeat keeps proxies from closing idle streams.
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("sse subscriber disconnected", zap.String("clinic_id", clinicID))
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-ch:
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Tag, data)
			flusher.Flush()
		}
	}
}
