package main

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/lychee-technology/formbase"
	"github.com/lychee-technology/formbase/factory"
)

// Server exposes the migration engine's admin surface over HTTP.
type Server struct {
	engine *factory.Engine
	mux    *http.ServeMux
}

// NewServer creates a new Server instance
func NewServer(engine *factory.Engine) *Server {
	return &Server{
		engine: engine,
		mux:    http.NewServeMux(),
	}
}

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/v1/migrations/preview", s.handlePreview)
	s.mux.HandleFunc("/api/v1/migrations", s.handleHistory)
	// record detail and rollback use path matching in the handler
	s.mux.HandleFunc("/api/v1/migrations/", s.migrationHandler)
	s.mux.HandleFunc("/api/v1/backups/sweep", s.handleSweep)
	s.mux.HandleFunc("/api/v1/backups/", s.backupHandler)
}

// Start starts the HTTP server on the given port
func (s *Server) Start(port string) error {
	zap.S().Infow("starting admin server", "port", port)
	return http.ListenAndServe(":"+port, s.mux)
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if err := godotenv.Load(); err != nil {
		sugar.Debugf("no .env file loaded: %v", err)
	}

	config := configFromEnv()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	engine, err := factory.NewEngine(ctx, config)
	cancel()
	if err != nil {
		sugar.Fatalf("failed to build engine: %v", err)
	}
	defer engine.Close()

	if err := engine.StartSweeper(); err != nil {
		sugar.Fatalf("failed to start retention sweeper: %v", err)
	}

	server := NewServer(engine)
	server.RegisterRoutes()

	port := getEnv("PORT", "8080")
	if err := server.Start(port); err != nil {
		sugar.Fatalf("server error: %v", err)
	}
}

// configFromEnv layers environment variables over the defaults.
func configFromEnv() *formbase.Config {
	config := formbase.DefaultConfig()

	config.Database.Host = getEnv("DB_HOST", config.Database.Host)
	config.Database.Port = getEnvInt("DB_PORT", config.Database.Port)
	config.Database.Database = getEnv("DB_NAME", config.Database.Database)
	config.Database.Username = getEnv("DB_USER", config.Database.Username)
	config.Database.Password = getEnv("DB_PASSWORD", config.Database.Password)
	config.Database.SSLMode = getEnv("DB_SSL_MODE", config.Database.SSLMode)
	config.Database.MaxConnections = getEnvInt("DB_MAX_CONNECTIONS", config.Database.MaxConnections)

	config.Translator.Endpoint = getEnv("TRANSLATOR_ENDPOINT", config.Translator.Endpoint)
	config.Translator.SourceLang = getEnv("TRANSLATOR_SOURCE_LANG", config.Translator.SourceLang)
	config.Translator.TargetLang = getEnv("TRANSLATOR_TARGET_LANG", config.Translator.TargetLang)

	config.Migration.MaxAttempts = getEnvInt("MIGRATION_MAX_ATTEMPTS", config.Migration.MaxAttempts)
	config.Migration.QueueCapacity = getEnvInt("MIGRATION_QUEUE_CAPACITY", config.Migration.QueueCapacity)
	config.Migration.SampleLimit = getEnvInt("MIGRATION_SAMPLE_LIMIT", config.Migration.SampleLimit)

	config.Backup.RetentionDays = getEnvInt("BACKUP_RETENTION_DAYS", config.Backup.RetentionDays)
	config.Backup.SweepSchedule = getEnv("BACKUP_SWEEP_SCHEDULE", config.Backup.SweepSchedule)

	config.Archive.Enabled = getEnvBool("ARCHIVE_ENABLED", config.Archive.Enabled)
	config.Archive.Bucket = getEnv("ARCHIVE_BUCKET", config.Archive.Bucket)
	config.Archive.Prefix = getEnv("ARCHIVE_PREFIX", config.Archive.Prefix)
	config.Archive.Region = getEnv("ARCHIVE_REGION", config.Archive.Region)

	config.Notify.WebhookURL = getEnv("NOTIFY_WEBHOOK_URL", config.Notify.WebhookURL)

	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
