package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default values for configuration
const (
	DefaultLogLevel = "info"

	DefaultDBDriver          = "sqlite"
	DefaultDBPath            = "chatdedup.db"
	DefaultDBMaxOpenConns    = 10 // postgres only; sqlite always uses one connection
	DefaultDBConnMaxLifetime = 5 * time.Minute

	DefaultUnknownConversation  = "Unknown Group"
	DefaultCategory             = "general"
	DefaultConversationIDPrefix = "export::"
	DefaultParticipantIDPrefix  = "export_user::"
	DefaultMaxUploadBytes       = 20 << 20 // Telegram bots cannot download larger files

	DefaultInboxSchedule       = "*/5 * * * *"
	DefaultMaintenanceSchedule = "0 4 * * *"
)

// Default bot messages. IngestSummaryMsg takes the conversation name, parsed,
// inserted and skipped counts; StatsMsg takes conversation, participant,
// message, canonical message and run counts.
var DefaultMessages = MessagesConfig{
	Welcome:              "👋 Send me a WhatsApp chat export (.txt) and I will ingest it. Add a date in the caption (YYYY-MM-DD) to only ingest newer messages.",
	Help:                 "📄 Upload a .txt chat export as a document.\n🕒 Optional caption: YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS to ingest only messages after that time.\n📊 /stats shows storage totals.",
	ErrorUnauthorizedMsg: "🚫 Access denied. Please contact the administrator.",
	IngestStartedMsg:     "⏳ Ingesting export...",
	IngestSummaryMsg:     "✅ %s\nParsed: %d\nInserted: %d\nSkipped: %d",
	IngestErrorMsg:       "❌ Ingestion failed, nothing was stored. Please try again later.",
	InvalidSinceMsg:      "⚠️ Invalid date in caption. Use YYYY-MM-DD or YYYY-MM-DDTHH:MM:SS.",
	FileTooLargeMsg:      "📦 File is too large to ingest.",
	NotTextFileMsg:       "📝 Please send the chat export as a .txt document.",
	StatsMsg:             "📊 Conversations: %d\nParticipants: %d\nMessages: %d\nCanonical messages: %d\nIngest runs: %d",
	StatsErrorMsg:        "❌ Could not load statistics.",
}

// setDefaults registers a default for every key so environment overrides and
// unmarshalling see the full key set.
func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", DefaultLogLevel)
	v.SetDefault("logger.json", false)

	v.SetDefault("database.driver", DefaultDBDriver)
	v.SetDefault("database.dsn", DefaultDBPath)
	v.SetDefault("database.max_open_conns", DefaultDBMaxOpenConns)
	v.SetDefault("database.conn_max_lifetime", DefaultDBConnMaxLifetime)

	v.SetDefault("ingest.unknown_conversation", DefaultUnknownConversation)
	v.SetDefault("ingest.default_category", DefaultCategory)
	v.SetDefault("ingest.conversation_id_prefix", DefaultConversationIDPrefix)
	v.SetDefault("ingest.participant_id_prefix", DefaultParticipantIDPrefix)
	v.SetDefault("ingest.strip_phones", false)
	v.SetDefault("ingest.inbox_dir", "")
	v.SetDefault("ingest.processed_dir", "")
	v.SetDefault("ingest.failed_dir", "")
	v.SetDefault("ingest.max_upload_bytes", DefaultMaxUploadBytes)

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.admin_user_id", 0)

	v.SetDefault("scheduler.tasks.inbox_ingest.enabled", false)
	v.SetDefault("scheduler.tasks.inbox_ingest.schedule", DefaultInboxSchedule)
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", DefaultMaintenanceSchedule)

	v.SetDefault("messages.welcome", DefaultMessages.Welcome)
	v.SetDefault("messages.help", DefaultMessages.Help)
	v.SetDefault("messages.error_unauthorized_msg", DefaultMessages.ErrorUnauthorizedMsg)
	v.SetDefault("messages.ingest_started_msg", DefaultMessages.IngestStartedMsg)
	v.SetDefault("messages.ingest_summary_msg", DefaultMessages.IngestSummaryMsg)
	v.SetDefault("messages.ingest_error_msg", DefaultMessages.IngestErrorMsg)
	v.SetDefault("messages.invalid_since_msg", DefaultMessages.InvalidSinceMsg)
	v.SetDefault("messages.file_too_large_msg", DefaultMessages.FileTooLargeMsg)
	v.SetDefault("messages.not_text_file_msg", DefaultMessages.NotTextFileMsg)
	v.SetDefault("messages.stats_msg", DefaultMessages.StatsMsg)
	v.SetDefault("messages.stats_error_msg", DefaultMessages.StatsErrorMsg)
}
