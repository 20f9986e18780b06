package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rms/restaurant-service/internal/config"
	"rms/restaurant-service/internal/httpapi"
	"rms/restaurant-service/internal/hub"
	"rms/restaurant-service/internal/store/postgres"
	"rms/restaurant-service/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type eventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("restaurant-service")
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

	st := postgres.NewStore(pool, postgres.Options{SessionTTL: cfg.SessionTTL})
	handler := httpapi.NewHandler(st)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		SessionPerMinute: cfg.SessionRateLimitPerMinute,
		SessionBurst:     cfg.SessionRateLimitBurst,
	})
	kitchenHub := hub.New()

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", handler.Routes())

	// Kitchen displays subscribe here and receive order and billing events
	// as they commit.
	sockjsHandler := sockjs.NewHandler("/kitchen", sockjs.DefaultOptions, func(session sockjs.Session) {
		req := session.Request()
		sessionID := req.URL.Query().Get("session_id")
		if sessionID == "" {
			_ = session.Close(4001, "missing session")
			return
		}
		if _, err := st.GetSession(context.Background(), sessionID); err != nil {
			_ = session.Close(4002, "invalid session")
			return
		}

		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		kitchenHub.Register(client)
		defer kitchenHub.Unregister(client)

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
				kitchenHub.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			kitchenHub.UpdateSubscription(client, hub.Subscription{EventType: parsed.EventType})
		}
	})
	mux.Handle("/kitchen/", sockjsHandler)

	otelHandler := otelhttp.NewHandler(
		httpapi.LoggingMiddleware(limiter.Middleware(httpapi.AuthMiddleware(st, mux))),
		"restaurant-service",
	)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("restaurant-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stopFeed := make(chan struct{})
	go func() {
		if cfg.FeedPollInterval <= 0 {
			return
		}
		// The feed is live-only: events committed before startup are not
		// replayed to late displays.
		lastSeen := time.Now().UTC()
		ticker := time.NewTicker(cfg.FeedPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopFeed:
				return
			case <-ticker.C:
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			events, err := st.ListOutboxEvents(ctx, lastSeen, cfg.FeedBatchSize)
			cancel()
			if err != nil {
				log.Printf("feed poll error: %v", err)
				continue
			}
			for _, event := range events {
				body, err := json.Marshal(eventEnvelope{
					Type:      event.Type,
					Payload:   event.Payload,
					CreatedAt: event.CreatedAt,
				})
				if err != nil {
					continue
				}
				kitchenHub.Broadcast(body, event.Type)
				if event.CreatedAt.After(lastSeen) {
					lastSeen = event.CreatedAt
				}
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	close(stopFeed)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
