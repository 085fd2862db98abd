package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Conversation is a chat thread (a WhatsApp group) that messages belong to.
type Conversation struct {
	ID          int64        `db:"id"`
	ExternalID  string       `db:"external_id"`
	Name        string       `db:"name"`
	Category    string       `db:"category"`
	MemberCount int          `db:"member_count"`
	LastScraped sql.NullTime `db:"last_scraped"`
	CreatedAt   time.Time    `db:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"`
}

// Participant is a sender identity, keyed by phone when known and by display
// name otherwise.
type Participant struct {
	ID          int64          `db:"id"`
	UniqueID    string         `db:"unique_id"`
	Phone       sql.NullString `db:"phone"`
	DisplayName string         `db:"display_name"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Message is one stored chat message. At most one row exists per
// (ConversationID, ContentHash); re-sent duplicates only bump LastSeen and
// OccurrenceCount.
type Message struct {
	ID              int64        `db:"id"`
	MessageID       string       `db:"message_id"`
	ConversationID  int64        `db:"conversation_id"`
	ParticipantID   int64        `db:"participant_id"`
	Content         string       `db:"content"`
	Timestamp       sql.NullTime `db:"timestamp"`
	Links           StringList   `db:"links"`
	ContentHash     string       `db:"content_hash"`
	FirstSeen       sql.NullTime `db:"first_seen"`
	LastSeen        sql.NullTime `db:"last_seen"`
	OccurrenceCount int          `db:"occurrence_count"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
}

// CanonicalMessage aggregates one normalized content hash across every
// conversation it appeared in.
type CanonicalMessage struct {
	ContentHash     string       `db:"content_hash"`
	Content         string       `db:"content"`
	FirstSeen       sql.NullTime `db:"first_seen"`
	LastSeen        sql.NullTime `db:"last_seen"`
	OccurrenceTotal int          `db:"occurrence_total"`
	GroupsSeen      StringList   `db:"groups_seen"`
}

// IngestRun records the outcome of one committed ingestion call.
type IngestRun struct {
	ID               string       `db:"id"`
	ConversationName string       `db:"conversation_name"`
	Source           string       `db:"source"`
	Since            sql.NullTime `db:"since"`
	Parsed           int          `db:"parsed"`
	Inserted         int          `db:"inserted"`
	Skipped          int          `db:"skipped"`
	StartedAt        time.Time    `db:"started_at"`
	FinishedAt       time.Time    `db:"finished_at"`
}

// Stats summarizes table sizes.
type Stats struct {
	Conversations     int `db:"conversations"`
	Participants      int `db:"participants"`
	Messages          int `db:"messages"`
	CanonicalMessages int `db:"canonical_messages"`
	IngestRuns        int `db:"ingest_runs"`
}

// StringList is a list of strings stored as a JSON array in a text column.
type StringList []string

// Add appends s unless already present, keeping set semantics. It reports
// whether the list changed.
func (l *StringList) Add(s string) bool {
	if slices.Contains(*l, s) {
		return false
	}
	*l = append(*l, s)
	return true
}

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into StringList", src)
	}

	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("failed to decode string list: %w", err)
	}
	*l = out
	return nil
}

// NullTime converts an optional time to sql.NullTime in UTC.
func NullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
