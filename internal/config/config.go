package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	API struct {
		Port     string
		BasePath string
		// PublicURL is the externally reachable base used in voice callback URLs.
		PublicURL string
	}
	DB struct {
		Driver string // "postgres" or "memory"
		DSN    string
	}
	Kafka struct {
		Brokers      []string
		CheckinTopic string
		AlertTopic   string
		GroupID      string
	}
	Logging struct {
		Dir   string
		Level string
	}
	Notification struct {
		QueueSize       int
		MaxWorkers      int
		DispatchTimeout time.Duration
		Parallelism     int
	}
	Escalation struct {
		SoftAfter       time.Duration
		HardAfter       time.Duration
		EscalationAfter time.Duration
	}
	Push struct {
		KeyID      string
		TeamID     string
		Topic      string
		KeyPath    string
		Production bool
		TokenTTL   time.Duration
	}
	Email struct {
		SMTPServer string
		SMTPPort   int
		Username   string
		Password   string
		FromName   string
	}
	Twilio struct {
		AccountSID         string
		AuthToken          string
		FromNumber         string
		ValidateSignatures bool
		SMSRatePerSecond   int
	}
	Telegram struct {
		BotToken      string
		RatePerSecond int
	}
	Auth struct {
		JWTSecret    string
		ServiceToken string
	}
	Scheduler struct {
		SweepSpec string
		Timezone  string
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	// API settings
	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")
	cfg.API.PublicURL = strings.TrimRight(os.Getenv("API_PUBLIC_URL"), "/")

	// Database
	cfg.DB.Driver = os.Getenv("DB_DRIVER")
	cfg.DB.DSN = os.Getenv("DB_DSN")

	// Kafka settings
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	cfg.Kafka.CheckinTopic = os.Getenv("KAFKA_CHECKIN_TOPIC")
	cfg.Kafka.AlertTopic = os.Getenv("KAFKA_ALERT_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	// Logging
	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	// Notification worker settings
	cfg.Notification.QueueSize = getInt("QUEUE_SIZE")
	cfg.Notification.MaxWorkers = getInt("MAX_WORKERS")
	cfg.Notification.DispatchTimeout = getDuration("DISPATCH_TIMEOUT")
	cfg.Notification.Parallelism = getInt("DISPATCH_PARALLELISM")

	// Escalation thresholds
	cfg.Escalation.SoftAfter = getDuration("ESCALATION_SOFT_AFTER")
	cfg.Escalation.HardAfter = getDuration("ESCALATION_HARD_AFTER")
	cfg.Escalation.EscalationAfter = getDuration("ESCALATION_ESCALATION_AFTER")

	// Push (APNs)
	cfg.Push.KeyID = os.Getenv("APNS_KEY_ID")
	cfg.Push.TeamID = os.Getenv("APNS_TEAM_ID")
	cfg.Push.Topic = os.Getenv("APNS_TOPIC")
	cfg.Push.KeyPath = os.Getenv("APNS_KEY_PATH")
	cfg.Push.Production = getBool("APNS_PRODUCTION")
	cfg.Push.TokenTTL = getDuration("APNS_TOKEN_TTL")

	// Email settings
	cfg.Email.SMTPServer = os.Getenv("EMAIL_SMTP_SERVER")
	cfg.Email.SMTPPort = getInt("EMAIL_SMTP_PORT")
	cfg.Email.Username = os.Getenv("EMAIL_USERNAME")
	cfg.Email.Password = os.Getenv("EMAIL_PASSWORD")
	cfg.Email.FromName = os.Getenv("EMAIL_FROM_NAME")

	// Twilio (SMS + voice)
	cfg.Twilio.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.Twilio.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	cfg.Twilio.ValidateSignatures = getBool("TWILIO_VALIDATE_SIGNATURES")
	cfg.Twilio.SMSRatePerSecond = getInt("TWILIO_SMS_RATE")

	// Telegram
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Telegram.RatePerSecond = getInt("TELEGRAM_RATE")

	// Auth
	cfg.Auth.JWTSecret = os.Getenv("AUTH_JWT_SECRET")
	cfg.Auth.ServiceToken = os.Getenv("AUTH_SERVICE_TOKEN")

	// Scheduler
	cfg.Scheduler.SweepSpec = os.Getenv("SWEEP_SCHEDULE")
	cfg.Scheduler.Timezone = os.Getenv("SWEEP_TIMEZONE")

	applyDefaults(&cfg)

	// Validate required settings
	missing := []string{}
	if cfg.DB.Driver == "postgres" && cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if cfg.Auth.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}
	if cfg.DB.Driver != "postgres" && cfg.DB.Driver != "memory" {
		return Config{}, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DB.Driver)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v0"
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "postgres"
	}
	if cfg.Kafka.CheckinTopic == "" {
		cfg.Kafka.CheckinTopic = "checkins"
	}
	if cfg.Kafka.AlertTopic == "" {
		cfg.Kafka.AlertTopic = "wellness_alerts"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "wellness-service"
	}
	if cfg.Notification.QueueSize == 0 {
		cfg.Notification.QueueSize = 500
	}
	if cfg.Notification.MaxWorkers == 0 {
		cfg.Notification.MaxWorkers = 10
	}
	if cfg.Notification.DispatchTimeout == 0 {
		cfg.Notification.DispatchTimeout = 30 * time.Second
	}
	if cfg.Notification.Parallelism == 0 {
		cfg.Notification.Parallelism = 8
	}
	if cfg.Escalation.SoftAfter == 0 {
		cfg.Escalation.SoftAfter = 24 * time.Hour
	}
	if cfg.Escalation.HardAfter == 0 {
		cfg.Escalation.HardAfter = 36 * time.Hour
	}
	if cfg.Escalation.EscalationAfter == 0 {
		cfg.Escalation.EscalationAfter = 48 * time.Hour
	}
	if cfg.Push.TokenTTL == 0 {
		cfg.Push.TokenTTL = 50 * time.Minute
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = 587
	}
	if cfg.Twilio.SMSRatePerSecond == 0 {
		cfg.Twilio.SMSRatePerSecond = 10
	}
	if cfg.Telegram.RatePerSecond == 0 {
		cfg.Telegram.RatePerSecond = 25
	}
	if cfg.Scheduler.SweepSpec == "" {
		cfg.Scheduler.SweepSpec = "*/15 * * * *"
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "UTC"
	}
}

func getInt(key string) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return 0
}

func getBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func getDuration(key string) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return 0
}
