// Package config provides configuration loading, validation, and management
// for chatdedup. It reads an optional YAML file, applies defaults, lets
// CHATDEDUP_* environment variables and bound command-line flags override
// values, and validates the result once at startup.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-telegram/bot/models"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	errs "github.com/edgard/chatdedup/internal/errors"
)

// EnvPrefix prefixes environment overrides, e.g. CHATDEDUP_DATABASE_DSN.
const EnvPrefix = "CHATDEDUP"

// Config is the explicit application configuration, constructed once at process
// start and passed by reference to every component.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LoggerConfig controls log output.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// DatabaseConfig selects and tunes the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres"`
	// DSN is a file path for sqlite or a connection URL for postgres.
	DSN             string        `mapstructure:"dsn"               validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"    validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"min=0"`
}

// IngestConfig tunes the parser and the ingestion engine.
type IngestConfig struct {
	UnknownConversation  string `mapstructure:"unknown_conversation"   validate:"required"`
	DefaultCategory      string `mapstructure:"default_category"       validate:"required"`
	ConversationIDPrefix string `mapstructure:"conversation_id_prefix" validate:"required"`
	ParticipantIDPrefix  string `mapstructure:"participant_id_prefix"  validate:"required"`
	StripPhones          bool   `mapstructure:"strip_phones"`

	InboxDir     string `mapstructure:"inbox_dir"`
	ProcessedDir string `mapstructure:"processed_dir" validate:"required_with=InboxDir"`
	FailedDir    string `mapstructure:"failed_dir"    validate:"required_with=InboxDir"`

	MaxUploadBytes int64 `mapstructure:"max_upload_bytes" validate:"gt=0"`
}

// TelegramConfig configures the upload bot. The bot only starts when Enabled.
type TelegramConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Token       string `mapstructure:"token"         validate:"required_if=Enabled true"`
	AdminUserID int64  `mapstructure:"admin_user_id" validate:"required_if=Enabled true"`

	// BotInfo is filled at runtime from getMe.
	BotInfo *models.User `mapstructure:"-"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig configures a single scheduled task.
type TaskConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Schedule is a standard five-field cron expression.
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// MessagesConfig holds user-facing bot replies. Format strings are documented
// next to their defaults.
type MessagesConfig struct {
	Welcome              string `mapstructure:"welcome"                validate:"required"`
	Help                 string `mapstructure:"help"                   validate:"required"`
	ErrorUnauthorizedMsg string `mapstructure:"error_unauthorized_msg" validate:"required"`
	IngestStartedMsg     string `mapstructure:"ingest_started_msg"     validate:"required"`
	IngestSummaryMsg     string `mapstructure:"ingest_summary_msg"     validate:"required"`
	IngestErrorMsg       string `mapstructure:"ingest_error_msg"       validate:"required"`
	InvalidSinceMsg      string `mapstructure:"invalid_since_msg"      validate:"required"`
	FileTooLargeMsg      string `mapstructure:"file_too_large_msg"     validate:"required"`
	NotTextFileMsg       string `mapstructure:"not_text_file_msg"      validate:"required"`
	StatsMsg             string `mapstructure:"stats_msg"              validate:"required"`
	StatsErrorMsg        string `mapstructure:"stats_error_msg"        validate:"required"`
}

// flagBindings maps config keys to the command-line flags that may override them.
var flagBindings = map[string]string{
	"logger.level":    "log-level",
	"database.driver": "db-driver",
	"database.dsn":    "db",
}

// LoadConfig reads configuration from path (a missing file is not an error),
// applies defaults, environment and flag overrides, and validates the result.
// flags may be nil.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errs.NewConfigError(fmt.Sprintf("failed to bind flag %q", name), err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, errs.NewConfigError(fmt.Sprintf("failed to read config file %s", path), err)
		}
		slog.Debug("Configuration file not found, using defaults", "path", path)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errs.NewConfigError("failed to parse configuration", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, errs.NewConfigError("configuration validation failed", err)
	}

	return cfg, nil
}
