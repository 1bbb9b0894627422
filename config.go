package formbase

import (
	"time"
)

// Config consolidates settings for the migration engine
type Config struct {
	Database   DatabaseConfig   `json:"database"`
	Translator TranslatorConfig `json:"translator"`
	Migration  MigrationConfig  `json:"migration"`
	Backup     BackupConfig     `json:"backup"`
	Archive    ArchiveConfig    `json:"archive"`
	Notify     NotifyConfig     `json:"notify"`
	Logging    LoggingConfig    `json:"logging"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"sslMode"`
	MaxConnections  int           `json:"maxConnections"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime"`
	Timeout         time.Duration `json:"timeout"`
}

// TranslatorConfig contains identifier-translation settings. The endpoint
// points at the Argos-style translation service; when it is empty the
// translator runs dictionary + transliteration only.
type TranslatorConfig struct {
	Endpoint         string        `json:"endpoint"`
	SourceLang       string        `json:"sourceLang"`
	TargetLang       string        `json:"targetLang"`
	Timeout          time.Duration `json:"timeout"`
	MaxRetries       int           `json:"maxRetries"`
	BreakerThreshold int           `json:"breakerThreshold"`
	BreakerWindow    time.Duration `json:"breakerWindow"`
	BreakerOpenFor   time.Duration `json:"breakerOpenFor"`
	SlugMaxLen       int           `json:"slugMaxLen"`
	MaxIdentifierLen int           `json:"maxIdentifierLen"`
}

// MigrationConfig contains executor and queue settings
type MigrationConfig struct {
	MaxAttempts       int           `json:"maxAttempts"`
	RetryBaseDelay    time.Duration `json:"retryBaseDelay"`
	RetryMaxDelay     time.Duration `json:"retryMaxDelay"`
	QueueCapacity     int           `json:"queueCapacity"`
	SampleLimit       int           `json:"sampleLimit"`
	BackupByDefault   bool          `json:"backupByDefault"`
	LockTimeout       time.Duration `json:"lockTimeout"`
	DefaultExecutedBy string        `json:"defaultExecutedBy"`
}

// BackupConfig contains snapshot retention settings
type BackupConfig struct {
	RetentionDays int    `json:"retentionDays"`
	SweepSchedule string `json:"sweepSchedule"`
}

// ArchiveConfig controls the optional S3 export of expired backups taken
// just before the sweep deletes them.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	Bucket  string `json:"bucket"`
	Prefix  string `json:"prefix"`
	Region  string `json:"region"`
}

// NotifyConfig contains migration-event webhook settings
type NotifyConfig struct {
	WebhookURL string        `json:"webhookUrl"`
	Timeout    time.Duration `json:"timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level            string `json:"level"`
	Format           string `json:"format"`
	EnableStructured bool   `json:"enableStructured"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "formbase",
			Username:        "formbase",
			SSLMode:         "disable",
			MaxConnections:  10,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Timeout:         10 * time.Second,
		},
		Translator: TranslatorConfig{
			SourceLang:       "th",
			TargetLang:       "en",
			Timeout:          5 * time.Second,
			MaxRetries:       2,
			BreakerThreshold: 5,
			BreakerWindow:    1 * time.Minute,
			BreakerOpenFor:   2 * time.Minute,
			SlugMaxLen:       50,
			MaxIdentifierLen: 63,
		},
		Migration: MigrationConfig{
			MaxAttempts:       3,
			RetryBaseDelay:    500 * time.Millisecond,
			RetryMaxDelay:     10 * time.Second,
			QueueCapacity:     64,
			SampleLimit:       1000,
			BackupByDefault:   true,
			LockTimeout:       5 * time.Second,
			DefaultExecutedBy: "system",
		},
		Backup: BackupConfig{
			RetentionDays: 90,
			SweepSchedule: "0 3 * * *",
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Prefix:  "formbase-backups/",
		},
		Notify: NotifyConfig{
			Timeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:            "info",
			Format:           "json",
			EnableStructured: true,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.MaxConnections <= 0 {
		return &ConfigError{Field: "database.maxConnections", Message: "must be greater than 0"}
	}
	if c.Translator.MaxIdentifierLen <= 0 || c.Translator.MaxIdentifierLen > 63 {
		return &ConfigError{Field: "translator.maxIdentifierLen", Message: "must be between 1 and 63"}
	}
	if c.Translator.SlugMaxLen <= 0 || c.Translator.SlugMaxLen > c.Translator.MaxIdentifierLen {
		return &ConfigError{Field: "translator.slugMaxLen", Message: "must be between 1 and maxIdentifierLen"}
	}
	if c.Migration.MaxAttempts <= 0 {
		return &ConfigError{Field: "migration.maxAttempts", Message: "must be greater than 0"}
	}
	if c.Migration.SampleLimit <= 0 {
		return &ConfigError{Field: "migration.sampleLimit", Message: "must be greater than 0"}
	}
	if c.Backup.RetentionDays <= 0 {
		return &ConfigError{Field: "backup.retentionDays", Message: "must be greater than 0"}
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return &ConfigError{Field: "archive.bucket", Message: "required when archive is enabled"}
	}
	return nil
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
