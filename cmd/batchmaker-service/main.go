package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"batchmaker/internal/clock"
	"batchmaker/internal/config"
	"batchmaker/internal/httpapi"
	"batchmaker/internal/hub"
	"batchmaker/internal/presence"
	"batchmaker/internal/store/postgres"
	"batchmaker/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type changeEnvelope struct {
	Type      string    `json:"type"`
	Table     string    `json:"table"`
	EntityID  string    `json:"entity_id"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("batchmaker-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	h := hub.New()
	handler := httpapi.NewHandler(st, httpapi.Options{IdleThreshold: cfg.IdleThreshold})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		OwnerPerMinute: cfg.OwnerRateLimitPerMinute,
		OwnerBurst:     cfg.OwnerRateLimitBurst,
	})

	aggregator := presence.Aggregator{IdleThreshold: cfg.IdleThreshold}
	runner := presence.NewRunner(st, aggregator, h, cfg.AggregateInterval)

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/api/", handler.Routes())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	sockjsHandler := sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
			} else {
				h.UpdateSubscription(client, hub.Subscription{OwnerID: parsed.OwnerID})
				runner.Notify()
			}
		}
	})
	mux.Handle("/realtime/", sockjsHandler)

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "batchmaker-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	go runner.Run(rootCtx)

	go func() {
		log.Printf("batchmaker-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// change feed poller: pushes row changes to subscribed devices and
	// pokes the presence runner. Stock clients that never connect still
	// converge by polling the HTTP lists.
	go func() {
		lastEventTime := time.Now().UTC()
		lastEventID := ""
		var running int32
		ticker := time.NewTicker(cfg.ChangePollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
			}
			if !atomic.CompareAndSwapInt32(&running, 0, 1) {
				continue
			}
			ctx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
			events, err := st.ListChangeEvents(ctx, lastEventTime, lastEventID, cfg.ChangeBatchSize)
			cancel()
			if err != nil {
				log.Printf("list change events error: %v", err)
			} else {
				for _, event := range events {
					lastEventTime = event.CreatedAt
					lastEventID = event.EventID
					payload, _ := json.Marshal(changeEnvelope{
						Type:      "change",
						Table:     event.Table,
						EntityID:  event.EntityID,
						OwnerID:   event.OwnerID,
						CreatedAt: event.CreatedAt,
					})
					h.Broadcast(event.OwnerID, payload)
				}
				if len(events) > 0 {
					runner.Notify()
				}
			}
			atomic.StoreInt32(&running, 0)
		}
	}()

	// shift overrun sweep
	go func() {
		checker := clock.NewOverrunChecker(st, cfg.ShiftOverrunGrace)
		ticker := time.NewTicker(cfg.ShiftCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
			}
			ctx, cancel := context.WithTimeout(rootCtx, 30*time.Second)
			raised, err := checker.Run(ctx, time.Now().UTC())
			cancel()
			if err != nil {
				log.Printf("overrun sweep error: %v", err)
			} else if raised > 0 {
				log.Printf("overrun sweep raised=%d", raised)
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancelRoot()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
