package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"wellness-service/internal/alerts"
	"wellness-service/internal/api"
	"wellness-service/internal/config"
	"wellness-service/internal/db"
	"wellness-service/internal/escalation"
	"wellness-service/internal/ivr"
	"wellness-service/internal/kafka"
	"wellness-service/internal/logging"
	"wellness-service/internal/metrics"
	"wellness-service/internal/models"
	"wellness-service/internal/notification"
	"wellness-service/internal/providers"
	"wellness-service/internal/scheduler"
	"wellness-service/internal/services"
	"wellness-service/internal/utils"
	"wellness-service/pkg/apns"
	"wellness-service/pkg/email"
	"wellness-service/pkg/sms"
	"wellness-service/pkg/voice"
)

// store is everything the service reads and writes; both the postgres and
// the in-memory backends provide it.
type store interface {
	GetAlert(ctx context.Context, id uuid.UUID) (models.Alert, error)
	ListActiveAlerts(ctx context.Context, checkerID string) ([]models.Alert, error)
	InsertActiveAlert(ctx context.Context, a models.Alert) (models.Alert, bool, error)
	RaiseAlertLevel(ctx context.Context, id uuid.UUID, level models.Level, at time.Time) (models.Alert, bool, error)
	AcknowledgeAlert(ctx context.Context, id uuid.UUID, supporterID string, at time.Time) (models.Alert, bool, error)
	ResolveAlert(ctx context.Context, id uuid.UUID, resolution models.Resolution, notes, resolverID string, at time.Time) (models.Alert, bool, error)
	MarkNotified(ctx context.Context, id uuid.UUID, supporterIDs []string, level models.Level) error

	UpsertDelivery(ctx context.Context, e models.DeliveryLogEntry) (models.DeliveryLogEntry, error)
	ListDeliveries(ctx context.Context, alertID uuid.UUID) ([]models.DeliveryLogEntry, error)

	GetChecker(ctx context.Context, checkerID string) (models.Checker, error)
	GetActiveSchedule(ctx context.Context, checkerID string) (models.Schedule, error)
	GetLastCheckIn(ctx context.Context, checkerID string) (*time.Time, error)
	ListScheduledCheckers(ctx context.Context) ([]string, error)
	RecordCheckIn(ctx context.Context, checkerID string, at time.Time) error
	ListActiveSupporterLinks(ctx context.Context, checkerID string) ([]models.SupporterLink, error)
	FindSupporterLinkByPhone(ctx context.Context, checkerID, phone string) (models.SupporterLink, error)
	IsSupporterOf(ctx context.Context, checkerID, supporterID string) (bool, error)
}

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging.Dir, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("Failed to open store: %v", err)
		log.Fatalf("Store init failed: %v", err)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	callbackBase := cfg.API.PublicURL + cfg.API.BasePath
	senders, err := buildSenders(cfg, logger, callbackBase)
	if err != nil {
		logger.Errorf("Failed to configure channels: %v", err)
		log.Fatalf("Channel init failed: %v", err)
	}

	manager := alerts.NewManager(st, st, st, logger)
	manager.Subscribe(m.ObserveAlertEvent)
	feed := services.NewWebSocketManager(st, logger, cfg.Notification.QueueSize)
	manager.Subscribe(feed.Observe)

	dispatcher := notification.NewDispatcher(providers.NewRegistry(senders...), st, st, logger, m, notification.Config{
		Timeout:     cfg.Notification.DispatchTimeout,
		Parallelism: cfg.Notification.Parallelism,
	})
	evaluator := escalation.New(escalation.Thresholds{
		Soft:       cfg.Escalation.SoftAfter,
		Hard:       cfg.Escalation.HardAfter,
		Escalation: cfg.Escalation.EscalationAfter,
	})
	svc := services.New(st, evaluator, manager, dispatcher, logger, m, cfg)
	machine := ivr.New(manager, st, st, st, logger, m, callbackBase)

	var wg sync.WaitGroup
	feed.Run(ctx, &wg)

	// Kafka is optional; without brokers check-ins arrive over HTTP only.
	var consumer *kafka.Consumer
	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic, logger, cfg.Notification.QueueSize)
		manager.Subscribe(producer.Observe)
		producer.Start(ctx, &wg)
	}

	// Observers are all subscribed; the manager may now be used concurrently.
	svc.Start(&wg)
	if len(cfg.Kafka.Brokers) > 0 {
		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.CheckinTopic, cfg.Kafka.GroupID, svc, logger)
		consumer.Start(ctx, &wg)
		logger.Infof("Kafka consumer initialized with topic: %s", cfg.Kafka.CheckinTopic)
	}

	sweep, err := scheduler.New(cfg.Scheduler.SweepSpec, cfg.Scheduler.Timezone, svc, logger)
	if err != nil {
		logger.Errorf("Failed to configure sweep: %v", err)
		log.Fatalf("Scheduler init failed: %v", err)
	}
	sweep.Start()

	// Start API server
	handler := api.NewHandler(api.Deps{Alerts: manager, Store: st, Workflow: svc, Voice: machine, Feed: feed}, logger, cfg)
	server := &http.Server{
		Addr:              cfg.API.Port,
		Handler:           api.NewRouter(handler, logger, cfg, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting API server on %s", cfg.API.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("API server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("API shutdown failed: %v", err)
	}
	sweep.Stop()
	svc.Stop()
	wg.Wait()
	if consumer != nil {
		consumer.Close()
	}
	if producer != nil {
		producer.Close()
	}
	logger.Infof("Service stopped")
}

func openStore(ctx context.Context, cfg config.Config, logger *logging.Logger) (store, func(), error) {
	if cfg.DB.Driver == "memory" {
		logger.Warnf("Using in-memory store; data is lost on restart")
		return db.NewMemory(), func() {}, nil
	}

	// Connect to database
	conn, err := db.New(ctx, cfg.DB.DSN)
	if err != nil {
		return nil, nil, err
	}
	if err := utils.Retry(ctx, logger, 5, 2*time.Second, func() error { return conn.Ping(ctx) }); err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := conn.Migrate(ctx); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, conn.Close, nil
}

// buildSenders returns one sender per configured channel. Unconfigured
// channels are left out and the dispatcher skips them.
func buildSenders(cfg config.Config, logger *logging.Logger, callbackBase string) ([]providers.Sender, error) {
	var senders []providers.Sender

	if cfg.Push.KeyPath != "" {
		key, err := apns.LoadKey(cfg.Push.KeyPath)
		if err != nil {
			return nil, err
		}
		tokens := apns.NewTokenCache(cfg.Push.KeyID, cfg.Push.TeamID, key, cfg.Push.TokenTTL)
		senders = append(senders, providers.NewPush(apns.New(tokens, cfg.Push.Topic, cfg.Push.Production), logger))
	} else {
		logger.Warnf("APNS_KEY_PATH not set, push channel disabled")
	}

	if cfg.Email.SMTPServer != "" {
		senders = append(senders, providers.NewEmail(email.New(cfg.Email.SMTPServer, cfg.Email.SMTPPort,
			cfg.Email.Username, cfg.Email.Password, cfg.Email.FromName)))
	}

	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" && cfg.Twilio.FromNumber != "" {
		limiter := rate.NewLimiter(rate.Limit(cfg.Twilio.SMSRatePerSecond), cfg.Twilio.SMSRatePerSecond)
		senders = append(senders, providers.NewSMS(sms.New(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber), limiter))
		if cfg.API.PublicURL == "" {
			logger.Warnf("API_PUBLIC_URL not set, voice channel disabled")
		} else {
			senders = append(senders, providers.NewVoice(voice.New(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber), callbackBase))
		}
	} else {
		logger.Warnf("Twilio not configured, SMS and voice channels disabled")
	}

	if cfg.Telegram.BotToken != "" {
		b, err := providers.NewTelegramBot(cfg.Telegram.BotToken)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}
		limiter := rate.NewLimiter(rate.Limit(cfg.Telegram.RatePerSecond), 1)
		senders = append(senders, providers.NewTelegram(b, limiter))
	}
	return senders, nil
}
