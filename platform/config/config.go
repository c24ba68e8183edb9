// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// AuthConfig provides settings for API token verification.
type AuthConfig interface {
	GetJWTSecret() string
	IsAuthEnabled() bool
}

// WorkflowConfig tunes the durable runtime's background loops.
type WorkflowConfig interface {
	GetDispatchInterval() time.Duration
	GetSweepInterval() time.Duration
	GetQueuedGrace() time.Duration
	GetRunningLease() time.Duration
	GetRunRetention() time.Duration
}

// SchedulerConfig provides settings for the asynq-backed run queue and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// EmailConfig provides settings for email sending.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetBrevoAPIKey() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
}

// WhatsAppConfig provides settings for the gowa WhatsApp gateway.
type WhatsAppConfig interface {
	GetWhatsAppURL() string
	GetWhatsAppKey() string
	GetWhatsAppDeviceID() string
}

// TelephonyConfig provides settings for the voice/SMS provider.
type TelephonyConfig interface {
	GetTwilioAccountSID() string
	GetTwilioAuthToken() string
	GetTwilioFromNumber() string
	GetTwilioBaseURL() string
	GetWebhookBaseURL() string
	IsTelephonyEnabled() bool
}

// LLMConfig provides settings for language-model completion providers.
type LLMConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	GetMoonshotAPIKey() string
	GetMoonshotModel() string
	GetLLMProvider() string
}

// TTSConfig provides settings for text-to-speech providers.
type TTSConfig interface {
	GetOpenAIAPIKey() string
	GetElevenLabsAPIKey() string
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketCallRecordings() string
	IsMinIOEnabled() bool
}

// KafkaConfig provides settings for the optional event mirror.
type KafkaConfig interface {
	GetKafkaBrokers() []string
	GetKafkaTopic() string
	IsKafkaEnabled() bool
}

// PipelineConfig provides fixed pipeline thresholds and calling limits.
type PipelineConfig interface {
	GetQualifyScoreFloor() int
	GetCallWindowStartHour() int
	GetCallWindowEndHour() int
	GetCallLocation() *time.Location
	GetMaxDailyCallAttempts() int
	GetCallRetryDelay() time.Duration
	GetDefaultAgentID() string
	GetPhoneRegion() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                      string
	HTTPAddr                 string
	DatabaseURL              string
	MigrationsEnabled        bool
	CORSAllowAll             bool
	CORSOrigins              []string
	CORSAllowCreds           bool
	RedisURL                 string
	RedisTLSInsecure         bool
	AsynqQueueName           string
	AsynqConcurrency         int
	EmailEnabled             bool
	BrevoAPIKey              string
	EmailFromName            string
	EmailFromAddress         string
	SMTPHost                 string
	SMTPPort                 int
	SMTPUsername             string
	SMTPPassword             string
	WhatsAppURL              string
	WhatsAppKey              string
	WhatsAppDeviceID         string
	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioFromNumber         string
	TwilioBaseURL            string
	WebhookBaseURL           string
	GeminiAPIKey             string
	GeminiModel              string
	MoonshotAPIKey           string
	MoonshotModel            string
	LLMProvider              string
	OpenAIAPIKey             string
	ElevenLabsAPIKey         string
	MinIOEndpoint            string
	MinIOAccessKey           string
	MinIOSecretKey           string
	MinIOUseSSL              bool
	MinioBucketCallRecording string
	KafkaBrokers             []string
	KafkaTopic               string
	QualifyScoreFloor        int
	CallWindowStartHour      int
	CallWindowEndHour        int
	CallTimezone             string
	MaxDailyCallAttempts     int
	CallRetryDelay           time.Duration
	DefaultAgentID           string
	PhoneRegion              string
	JWTSecret                string
	DispatchInterval         time.Duration
	SweepInterval            time.Duration
	QueuedGrace              time.Duration
	RunningLease             time.Duration
	RunRetention             time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetBrevoAPIKey() string      { return c.BrevoAPIKey }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }

// WhatsAppConfig implementation
func (c *Config) GetWhatsAppURL() string      { return c.WhatsAppURL }
func (c *Config) GetWhatsAppKey() string      { return c.WhatsAppKey }
func (c *Config) GetWhatsAppDeviceID() string { return c.WhatsAppDeviceID }

// TelephonyConfig implementation
func (c *Config) GetTwilioAccountSID() string { return c.TwilioAccountSID }
func (c *Config) GetTwilioAuthToken() string  { return c.TwilioAuthToken }
func (c *Config) GetTwilioFromNumber() string { return c.TwilioFromNumber }
func (c *Config) GetTwilioBaseURL() string    { return c.TwilioBaseURL }
func (c *Config) GetWebhookBaseURL() string   { return c.WebhookBaseURL }
func (c *Config) IsTelephonyEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// LLMConfig implementation
func (c *Config) GetGeminiAPIKey() string   { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string    { return c.GeminiModel }
func (c *Config) GetMoonshotAPIKey() string { return c.MoonshotAPIKey }
func (c *Config) GetMoonshotModel() string  { return c.MoonshotModel }
func (c *Config) GetLLMProvider() string    { return c.LLMProvider }

// TTSConfig implementation
func (c *Config) GetOpenAIAPIKey() string     { return c.OpenAIAPIKey }
func (c *Config) GetElevenLabsAPIKey() string { return c.ElevenLabsAPIKey }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string  { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool      { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketCallRecordings() string {
	return c.MinioBucketCallRecording
}
func (c *Config) IsMinIOEnabled() bool { return c.MinIOEndpoint != "" }

// KafkaConfig implementation
func (c *Config) GetKafkaBrokers() []string { return c.KafkaBrokers }
func (c *Config) GetKafkaTopic() string     { return c.KafkaTopic }
func (c *Config) IsKafkaEnabled() bool      { return len(c.KafkaBrokers) > 0 && c.KafkaTopic != "" }

// PipelineConfig implementation
func (c *Config) GetQualifyScoreFloor() int        { return c.QualifyScoreFloor }
func (c *Config) GetCallWindowStartHour() int      { return c.CallWindowStartHour }
func (c *Config) GetCallWindowEndHour() int        { return c.CallWindowEndHour }
func (c *Config) GetMaxDailyCallAttempts() int     { return c.MaxDailyCallAttempts }
func (c *Config) GetCallRetryDelay() time.Duration { return c.CallRetryDelay }
func (c *Config) GetDefaultAgentID() string        { return c.DefaultAgentID }
func (c *Config) GetPhoneRegion() string           { return c.PhoneRegion }
func (c *Config) GetCallLocation() *time.Location {
	loc, err := time.LoadLocation(c.CallTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AuthConfig implementation
func (c *Config) GetJWTSecret() string { return c.JWTSecret }
func (c *Config) IsAuthEnabled() bool  { return c.JWTSecret != "" }

// WorkflowConfig implementation
func (c *Config) GetDispatchInterval() time.Duration { return c.DispatchInterval }
func (c *Config) GetSweepInterval() time.Duration    { return c.SweepInterval }
func (c *Config) GetQueuedGrace() time.Duration      { return c.QueuedGrace }
func (c *Config) GetRunningLease() time.Duration     { return c.RunningLease }
func (c *Config) GetRunRetention() time.Duration     { return c.RunRetention }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	brevoAPIKey := getEnv("BREVO_API_KEY", "")
	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		MigrationsEnabled:        strings.EqualFold(getEnv("MIGRATIONS_ENABLED", "true"), "true"),
		CORSAllowAll:             corsAllowAll,
		CORSOrigins:              corsOrigins,
		CORSAllowCreds:           strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		RedisURL:                 getEnv("REDIS_URL", ""),
		RedisTLSInsecure:         strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:           getEnv("ASYNQ_QUEUE", "pipeline"),
		AsynqConcurrency:         int(mustInt64(getEnv("ASYNQ_CONCURRENCY", "20"))),
		EmailEnabled:             emailEnabled && (brevoAPIKey != "" || smtpHost != ""),
		BrevoAPIKey:              brevoAPIKey,
		EmailFromName:            getEnv("EMAIL_FROM_NAME", "Sales Team"),
		EmailFromAddress:         getEnv("EMAIL_FROM_ADDRESS", ""),
		SMTPHost:                 smtpHost,
		SMTPPort:                 int(mustInt64(getEnv("SMTP_PORT", "587"))),
		SMTPUsername:             getEnv("SMTP_USERNAME", ""),
		SMTPPassword:             getEnv("SMTP_PASSWORD", ""),
		WhatsAppURL:              getEnv("WHATSAPP_URL", ""),
		WhatsAppKey:              getEnv("WHATSAPP_KEY", ""),
		WhatsAppDeviceID:         getEnv("WHATSAPP_DEVICE_ID", ""),
		TwilioAccountSID:         getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:          getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:         getEnv("TWILIO_PHONE_NUMBER", ""),
		TwilioBaseURL:            getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
		WebhookBaseURL:           getEnv("WEBHOOK_BASE_URL", "http://localhost:8080"),
		GeminiAPIKey:             getEnv("GEMINI_API_KEY", ""),
		GeminiModel:              getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		MoonshotAPIKey:           getEnv("MOONSHOT_API_KEY", ""),
		MoonshotModel:            getEnv("MOONSHOT_MODEL", "kimi-k2-turbo-preview"),
		LLMProvider:              strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
		OpenAIAPIKey:             getEnv("OPENAI_API_KEY", ""),
		ElevenLabsAPIKey:         getEnv("ELEVENLABS_API_KEY", ""),
		MinIOEndpoint:            getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:           getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:           getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:              strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketCallRecording: getEnv("MINIO_BUCKET_CALL_RECORDINGS", "call-recordings"),
		KafkaBrokers:             splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:               getEnv("KAFKA_TOPIC", "pipeline-events"),
		QualifyScoreFloor:        int(mustInt64(getEnv("QUALIFY_SCORE_FLOOR", "40"))),
		CallWindowStartHour:      int(mustInt64(getEnv("CALL_WINDOW_START_HOUR", "9"))),
		CallWindowEndHour:        int(mustInt64(getEnv("CALL_WINDOW_END_HOUR", "18"))),
		CallTimezone:             getEnv("CALL_TIMEZONE", "UTC"),
		MaxDailyCallAttempts:     int(mustInt64(getEnv("MAX_DAILY_CALL_ATTEMPTS", "3"))),
		CallRetryDelay:           mustDuration(getEnv("CALL_RETRY_DELAY", "4h")),
		DefaultAgentID:           getEnv("DEFAULT_AGENT_ID", "default"),
		PhoneRegion:              strings.ToUpper(getEnv("PHONE_DEFAULT_REGION", "US")),
		JWTSecret:                getEnv("JWT_SECRET", ""),
		DispatchInterval:         mustDuration(getEnv("WORKFLOW_DISPATCH_INTERVAL", "1s")),
		SweepInterval:            mustDuration(getEnv("WORKFLOW_SWEEP_INTERVAL", "15s")),
		QueuedGrace:              mustDuration(getEnv("WORKFLOW_QUEUED_GRACE", "30s")),
		RunningLease:             mustDuration(getEnv("WORKFLOW_RUNNING_LEASE", "15m")),
		RunRetention:             mustDuration(getEnv("WORKFLOW_RUN_RETENTION", "720h")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.CallWindowStartHour < 0 || cfg.CallWindowStartHour > 23 || cfg.CallWindowEndHour < 0 || cfg.CallWindowEndHour > 24 || cfg.CallWindowStartHour == cfg.CallWindowEndHour {
		return nil, fmt.Errorf("CALL_WINDOW_START_HOUR and CALL_WINDOW_END_HOUR must differ within 0-24; a start after the end wraps past midnight")
	}
	if cfg.DispatchInterval <= 0 || cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("WORKFLOW_DISPATCH_INTERVAL and WORKFLOW_SWEEP_INTERVAL must be positive durations")
	}
	if _, err := time.LoadLocation(cfg.CallTimezone); err != nil {
		return nil, fmt.Errorf("CALL_TIMEZONE is invalid: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
