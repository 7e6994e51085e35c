package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/assistly/callcore/libs/config"
	"github.com/assistly/callcore/libs/db"
	"github.com/assistly/callcore/libs/httpx"
	"github.com/assistly/callcore/libs/kafkax"
	otelx "github.com/assistly/callcore/libs/otel"
	"github.com/assistly/callcore/libs/runtime"
	"github.com/assistly/callcore/services/booking-service/internal/availability"
	"github.com/assistly/callcore/services/booking-service/internal/booking"
	"github.com/assistly/callcore/services/booking-service/internal/gcal"
	"github.com/assistly/callcore/services/booking-service/internal/handlers"
	"github.com/assistly/callcore/services/booking-service/internal/outbox"
	"github.com/assistly/callcore/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func parseReminderOffsets(raw string, logger *slog.Logger) []time.Duration {
	var offsets []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			logger.Warn("invalid reminder offset", "value", part)
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	if len(offsets) == 0 {
		offsets = []time.Duration{24 * time.Hour, 10 * time.Minute}
	}
	return offsets
}

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL, db.Options{})
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	leadRepo := storage.NewLeadRepository(pool)
	apptRepo := storage.NewAppointmentRepository(pool)
	credRepo := storage.NewCredentialRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	bookingStore := storage.NewBookingStore(pool, leadRepo, apptRepo, outboxRepo)

	tokens := gcal.NewTokenProvider(
		credRepo,
		config.String("GOOGLE_CLIENT_ID", ""),
		config.String("GOOGLE_CLIENT_SECRET", ""),
		config.String("GOOGLE_TOKEN_URL", "https://oauth2.googleapis.com/token"),
		logger,
	)
	calendar := gcal.NewAdapter(5 * time.Second)

	reconciler := availability.NewReconciler(apptRepo, tokens, calendar, logger)
	offsets := parseReminderOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,10"), logger)
	bookingSvc := booking.NewService(reconciler, bookingStore, tokens, calendar, logger, booking.Config{
		ReminderOffsets: offsets,
	})

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	webhookHandler := handlers.NewWebhookHandler(bookingSvc, leadRepo, logger)
	statusStore := storage.NewStatusStore(pool, apptRepo, outboxRepo)
	apptHandler := handlers.NewAppointmentsHandler(statusStore, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)

	var webhook http.Handler = http.HandlerFunc(webhookHandler.Handle)
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := httpx.NewRedisRateLimiter(
			rdb,
			config.Int("WEBHOOK_RATE_LIMIT", 120),
			time.Minute,
			"webhook",
		)
		// Fail open: a Redis outage must not take call handling down with it.
		webhook = limiter.Middleware(logger, true)(webhook)
	}
	mux.Handle("/api/v1/agent/webhook", webhook)
	mux.HandleFunc("/api/v1/appointments", apptHandler.List)
	mux.HandleFunc("/api/v1/appointments/status", apptHandler.UpdateStatus)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(30*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
