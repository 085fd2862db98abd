package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/edgard/chatdedup/internal/logger"
)

// ErrDuplicate is returned (wrapped) by Create* methods when the row collides
// with a unique constraint. The surrounding transaction stays usable.
var ErrDuplicate = errors.New("duplicate row")

// Store defines the interface for database operations.
// Methods should accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// RunInTx runs fn inside a single transaction. The transaction commits
	// when fn returns nil and rolls back otherwise.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	// Stats returns row counts for every table.
	Stats(ctx context.Context) (*Stats, error)

	// RecentIngestRuns returns the latest ingest runs, newest first.
	RecentIngestRuns(ctx context.Context, limit int) ([]IngestRun, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error
}

// Tx is the set of reads and writes the ingestion engine performs within one
// transaction. Find* methods return nil, nil when no row matches.
type Tx interface {
	FindConversationByName(ctx context.Context, name string) (*Conversation, error)
	CreateConversation(ctx context.Context, c *Conversation) error
	TouchConversation(ctx context.Context, id int64, at time.Time) error

	FindParticipantByPhone(ctx context.Context, phone string) (*Participant, error)
	FindParticipantByName(ctx context.Context, name string) (*Participant, error)
	CreateParticipant(ctx context.Context, p *Participant) error

	FindMessageByID(ctx context.Context, messageID string) (*Message, error)
	FindMessageByContentHash(ctx context.Context, conversationID int64, hash string) (*Message, error)
	CreateMessage(ctx context.Context, m *Message) error
	UpdateMessageOccurrence(ctx context.Context, m *Message) error

	FindCanonical(ctx context.Context, hash string) (*CanonicalMessage, error)
	CreateCanonical(ctx context.Context, c *CanonicalMessage) error
	UpdateCanonical(ctx context.Context, c *CanonicalMessage) error

	SaveIngestRun(ctx context.Context, run *IngestRun) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, log *slog.Logger) Store {
	if log == nil {
		log = logger.Discard()
	}
	return &sqlxStore{
		db:     db,
		logger: log.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// RunInTx begins a transaction, hands it to fn, and commits on success.
func (s *sqlxStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	if err := fn(&sqlxTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil
	return nil
}

// Stats returns row counts for every table.
func (s *sqlxStore) Stats(ctx context.Context) (*Stats, error) {
	query := `
        SELECT
            (SELECT COUNT(*) FROM conversations)      AS conversations,
            (SELECT COUNT(*) FROM participants)       AS participants,
            (SELECT COUNT(*) FROM messages)           AS messages,
            (SELECT COUNT(*) FROM canonical_messages) AS canonical_messages,
            (SELECT COUNT(*) FROM ingest_runs)        AS ingest_runs;
    `
	var stats Stats
	if err := s.db.GetContext(ctx, &stats, query); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching stats", "error", err)
		return nil, fmt.Errorf("failed to fetch stats: %w", err)
	}
	return &stats, nil
}

// RecentIngestRuns returns the latest ingest runs, newest first.
func (s *sqlxStore) RecentIngestRuns(ctx context.Context, limit int) ([]IngestRun, error) {
	if limit <= 0 {
		limit = 20
	} else if limit > 500 {
		limit = 500
	}

	query := s.db.Rebind(`
        SELECT id, conversation_name, source, since, parsed, inserted, skipped, started_at, finished_at
        FROM ingest_runs
        ORDER BY started_at DESC
        LIMIT ?;
    `)
	var runs []IngestRun
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error fetching ingest runs", "error", err)
		return nil, fmt.Errorf("failed to fetch ingest runs: %w", err)
	}
	return runs, nil
}

// RunSQLMaintenance reclaims space and refreshes planner statistics. Both
// statements must run outside a transaction.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	var statements []string
	switch s.db.DriverName() {
	case DriverPostgres:
		statements = []string{"VACUUM ANALYZE;"}
	default:
		statements = []string{"VACUUM;", "PRAGMA optimize;"}
	}

	for _, stmt := range statements {
		s.logger.InfoContext(ctx, "Running database maintenance", "statement", stmt)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.ErrorContext(ctx, "Database maintenance failed", "statement", stmt, "error", err)
			return fmt.Errorf("failed to run %q: %w", stmt, err)
		}
	}
	s.logger.InfoContext(ctx, "Database maintenance completed")
	return nil
}

// sqlxTx implements Tx on top of a *sqlx.Tx.
type sqlxTx struct {
	tx *sqlx.Tx
}

func (t *sqlxTx) get(ctx context.Context, dest any, query string, args ...any) (bool, error) {
	err := t.tx.GetContext(ctx, dest, t.tx.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// insert runs an INSERT ... RETURNING statement under a savepoint so that a
// unique violation leaves the outer transaction intact.
func (t *sqlxTx) insert(ctx context.Context, name string, dest any, query string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	query = t.tx.Rebind(query)
	var err error
	if dest != nil {
		err = t.tx.QueryRowxContext(ctx, query, args...).Scan(dest)
	} else {
		_, err = t.tx.ExecContext(ctx, query, args...)
	}

	if err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("failed to roll back savepoint after %v: %w", err, rbErr)
		}
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); relErr != nil {
			return fmt.Errorf("failed to release savepoint: %w", relErr)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func (t *sqlxTx) FindConversationByName(ctx context.Context, name string) (*Conversation, error) {
	var c Conversation
	found, err := t.get(ctx, &c, `
        SELECT id, external_id, name, category, member_count, last_scraped, created_at, updated_at
        FROM conversations WHERE name = ?;`, name)
	if err != nil || !found {
		return nil, wrapErr(err, "find conversation %q", name)
	}
	return &c, nil
}

func (t *sqlxTx) CreateConversation(ctx context.Context, c *Conversation) error {
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	err := t.insert(ctx, "create_conversation", &c.ID, `
        INSERT INTO conversations (external_id, name, category, member_count, last_scraped, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        RETURNING id;`,
		c.ExternalID, c.Name, c.Category, c.MemberCount, c.LastScraped, c.CreatedAt, c.UpdatedAt)
	return wrapErr(err, "create conversation %q", c.Name)
}

func (t *sqlxTx) TouchConversation(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC()
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
        UPDATE conversations SET last_scraped = ?, updated_at = ? WHERE id = ?;`), at, at, id)
	return wrapErr(err, "touch conversation %d", id)
}

const participantColumns = `id, unique_id, phone, display_name, created_at, updated_at`

func (t *sqlxTx) FindParticipantByPhone(ctx context.Context, phone string) (*Participant, error) {
	var p Participant
	found, err := t.get(ctx, &p, `SELECT `+participantColumns+` FROM participants WHERE phone = ?;`, phone)
	if err != nil || !found {
		return nil, wrapErr(err, "find participant by phone")
	}
	return &p, nil
}

func (t *sqlxTx) FindParticipantByName(ctx context.Context, name string) (*Participant, error) {
	var p Participant
	found, err := t.get(ctx, &p, `
        SELECT `+participantColumns+` FROM participants
        WHERE display_name = ? ORDER BY id LIMIT 1;`, name)
	if err != nil || !found {
		return nil, wrapErr(err, "find participant %q", name)
	}
	return &p, nil
}

func (t *sqlxTx) CreateParticipant(ctx context.Context, p *Participant) error {
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	err := t.insert(ctx, "create_participant", &p.ID, `
        INSERT INTO participants (unique_id, phone, display_name, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        RETURNING id;`,
		p.UniqueID, p.Phone, p.DisplayName, p.CreatedAt, p.UpdatedAt)
	return wrapErr(err, "create participant %q", p.DisplayName)
}

const messageColumns = `id, message_id, conversation_id, participant_id, content, timestamp, links,
        content_hash, first_seen, last_seen, occurrence_count, created_at, updated_at`

func (t *sqlxTx) FindMessageByID(ctx context.Context, messageID string) (*Message, error) {
	var m Message
	found, err := t.get(ctx, &m, `SELECT `+messageColumns+` FROM messages WHERE message_id = ?;`, messageID)
	if err != nil || !found {
		return nil, wrapErr(err, "find message %s", messageID)
	}
	return &m, nil
}

func (t *sqlxTx) FindMessageByContentHash(ctx context.Context, conversationID int64, hash string) (*Message, error) {
	var m Message
	found, err := t.get(ctx, &m, `
        SELECT `+messageColumns+` FROM messages
        WHERE conversation_id = ? AND content_hash = ?;`, conversationID, hash)
	if err != nil || !found {
		return nil, wrapErr(err, "find message by content hash")
	}
	return &m, nil
}

func (t *sqlxTx) CreateMessage(ctx context.Context, m *Message) error {
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	if m.OccurrenceCount == 0 {
		m.OccurrenceCount = 1
	}
	err := t.insert(ctx, "create_message", &m.ID, `
        INSERT INTO messages (message_id, conversation_id, participant_id, content, timestamp, links,
            content_hash, first_seen, last_seen, occurrence_count, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        RETURNING id;`,
		m.MessageID, m.ConversationID, m.ParticipantID, m.Content, m.Timestamp, m.Links,
		m.ContentHash, m.FirstSeen, m.LastSeen, m.OccurrenceCount, m.CreatedAt, m.UpdatedAt)
	return wrapErr(err, "create message %s", m.MessageID)
}

func (t *sqlxTx) UpdateMessageOccurrence(ctx context.Context, m *Message) error {
	m.UpdatedAt = time.Now().UTC()
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
        UPDATE messages SET last_seen = ?, occurrence_count = ?, updated_at = ? WHERE id = ?;`),
		m.LastSeen, m.OccurrenceCount, m.UpdatedAt, m.ID)
	return wrapErr(err, "update message %d", m.ID)
}

func (t *sqlxTx) FindCanonical(ctx context.Context, hash string) (*CanonicalMessage, error) {
	var c CanonicalMessage
	found, err := t.get(ctx, &c, `
        SELECT content_hash, content, first_seen, last_seen, occurrence_total, groups_seen
        FROM canonical_messages WHERE content_hash = ?;`, hash)
	if err != nil || !found {
		return nil, wrapErr(err, "find canonical message")
	}
	return &c, nil
}

func (t *sqlxTx) CreateCanonical(ctx context.Context, c *CanonicalMessage) error {
	if c.OccurrenceTotal == 0 {
		c.OccurrenceTotal = 1
	}
	err := t.insert(ctx, "create_canonical", nil, `
        INSERT INTO canonical_messages (content_hash, content, first_seen, last_seen, occurrence_total, groups_seen)
        VALUES (?, ?, ?, ?, ?, ?);`,
		c.ContentHash, c.Content, c.FirstSeen, c.LastSeen, c.OccurrenceTotal, c.GroupsSeen)
	return wrapErr(err, "create canonical message")
}

func (t *sqlxTx) UpdateCanonical(ctx context.Context, c *CanonicalMessage) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
        UPDATE canonical_messages
        SET last_seen = ?, occurrence_total = ?, groups_seen = ?
        WHERE content_hash = ?;`),
		c.LastSeen, c.OccurrenceTotal, c.GroupsSeen, c.ContentHash)
	return wrapErr(err, "update canonical message")
}

func (t *sqlxTx) SaveIngestRun(ctx context.Context, run *IngestRun) error {
	_, err := t.tx.ExecContext(ctx, t.tx.Rebind(`
        INSERT INTO ingest_runs (id, conversation_name, source, since, parsed, inserted, skipped, started_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`),
		run.ID, run.ConversationName, run.Source, run.Since, run.Parsed, run.Inserted, run.Skipped,
		run.StartedAt.UTC(), run.FinishedAt.UTC())
	return wrapErr(err, "save ingest run %s", run.ID)
}

func wrapErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("failed to "+format+": %w", append(args, err)...)
}

// isUniqueViolation recognizes unique/primary key violations from either driver.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	return false
}
