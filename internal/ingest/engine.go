// Package ingest turns parsed chat exports into stored, deduplicated messages.
//
// One call handles one export inside a single transaction. Each record walks a
// fixed ladder: since re-check, exact ID dedup (batch, then storage),
// participant resolution, per-conversation content dedup (batch, then storage),
// insert, and finally the cross-conversation canonical upsert.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/edgard/chatdedup/internal/chatexport"
	"github.com/edgard/chatdedup/internal/config"
	"github.com/edgard/chatdedup/internal/database"
	errs "github.com/edgard/chatdedup/internal/errors"
	"github.com/edgard/chatdedup/internal/fingerprint"
	"github.com/edgard/chatdedup/internal/logger"
)

// Options tunes the engine. Zero values fall back to the config defaults.
type Options struct {
	UnknownConversation  string
	DefaultCategory      string
	ConversationIDPrefix string
	ParticipantIDPrefix  string
	StripPhones          bool

	// Now is the ingestion clock. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig builds engine options from the ingest config section.
func OptionsFromConfig(cfg config.IngestConfig) Options {
	return Options{
		UnknownConversation:  cfg.UnknownConversation,
		DefaultCategory:      cfg.DefaultCategory,
		ConversationIDPrefix: cfg.ConversationIDPrefix,
		ParticipantIDPrefix:  cfg.ParticipantIDPrefix,
		StripPhones:          cfg.StripPhones,
	}
}

func (o Options) withDefaults() Options {
	if o.UnknownConversation == "" {
		o.UnknownConversation = config.DefaultUnknownConversation
	}
	if o.DefaultCategory == "" {
		o.DefaultCategory = config.DefaultCategory
	}
	if o.ConversationIDPrefix == "" {
		o.ConversationIDPrefix = config.DefaultConversationIDPrefix
	}
	if o.ParticipantIDPrefix == "" {
		o.ParticipantIDPrefix = config.DefaultParticipantIDPrefix
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Result summarizes one committed ingestion.
type Result struct {
	RunID            string
	ConversationName string
	Parsed           int
	Inserted         int
	Skipped          int
}

// Engine ingests chat exports into a Store.
type Engine struct {
	store  database.Store
	opts   Options
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(store database.Store, opts Options, log *slog.Logger) *Engine {
	if log == nil {
		log = logger.Discard()
	}
	return &Engine{
		store:  store,
		opts:   opts.withDefaults(),
		logger: log.With("component", "ingest"),
	}
}

// Ingest parses and ingests export text.
func (e *Engine) Ingest(ctx context.Context, text string, since *time.Time) (*Result, error) {
	export := chatexport.Parse(text, since, e.parserOptions())
	return e.ingest(ctx, export, "text", since)
}

// IngestReader reads an export from r (UTF-8, undecodable bytes replaced) and
// ingests it. source is recorded in the ingest run log.
func (e *Engine) IngestReader(ctx context.Context, r io.Reader, source string, since *time.Time) (*Result, error) {
	export, err := chatexport.ParseReader(r, since, e.parserOptions())
	if err != nil {
		return nil, errs.NewParseError("failed to read export "+source, err)
	}
	return e.ingest(ctx, export, source, since)
}

// IngestFile ingests the export stored at path.
func (e *Engine) IngestFile(ctx context.Context, path string, since *time.Time) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.NewValidationError("cannot open export file", err)
	}
	defer f.Close()
	return e.IngestReader(ctx, f, path, since)
}

func (e *Engine) parserOptions() chatexport.Options {
	return chatexport.Options{UnknownConversation: e.opts.UnknownConversation}
}

func (e *Engine) ingest(ctx context.Context, export *chatexport.Export, source string, since *time.Time) (*Result, error) {
	started := e.opts.Now().UTC()
	result := &Result{
		RunID:            uuid.NewString(),
		ConversationName: export.ConversationName,
		Parsed:           len(export.Records),
	}
	log := e.logger.With("run_id", result.RunID, "conversation", result.ConversationName, "source", source)
	log.InfoContext(ctx, "Starting ingestion", "records", result.Parsed)

	err := e.store.RunInTx(ctx, func(tx database.Tx) error {
		// Counters are rebuilt on every attempt so a failed transaction reports nothing.
		result.Inserted, result.Skipped = 0, 0

		b := &batch{
			tx:         tx,
			opts:       e.opts,
			logger:     log,
			since:      since,
			now:        started,
			seenIDs:    make(map[string]struct{}),
			seenHashes: make(map[string]struct{}),
			canonical:  make(map[string]*database.CanonicalMessage),
		}

		conv, err := b.resolveConversation(ctx, export.ConversationName)
		if err != nil {
			return err
		}
		b.conv = conv

		for _, rec := range export.Records {
			inserted, err := b.process(ctx, rec)
			if err != nil {
				return err
			}
			if inserted {
				result.Inserted++
			} else {
				result.Skipped++
			}
		}

		return tx.SaveIngestRun(ctx, &database.IngestRun{
			ID:               result.RunID,
			ConversationName: result.ConversationName,
			Source:           source,
			Since:            database.NullTime(since),
			Parsed:           result.Parsed,
			Inserted:         result.Inserted,
			Skipped:          result.Skipped,
			StartedAt:        started,
			FinishedAt:       e.opts.Now().UTC(),
		})
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			log.WarnContext(ctx, "Ingestion interrupted, batch rolled back", "error", err)
			return nil, err
		}
		log.ErrorContext(ctx, "Ingestion failed, batch rolled back", "error", err)
		return nil, errs.NewDatabaseError("ingestion of "+export.ConversationName+" failed", err)
	}

	log.InfoContext(ctx, "Ingestion completed",
		"inserted", result.Inserted, "skipped", result.Skipped)
	return result, nil
}

// batch holds the per-call dedup state.
type batch struct {
	tx     database.Tx
	opts   Options
	logger *slog.Logger
	since  *time.Time
	now    time.Time
	conv   *database.Conversation

	seenIDs    map[string]struct{}
	seenHashes map[string]struct{}
	canonical  map[string]*database.CanonicalMessage
}

func (b *batch) resolveConversation(ctx context.Context, name string) (*database.Conversation, error) {
	conv, err := b.tx.FindConversationByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		conv = &database.Conversation{
			ExternalID:  b.opts.ConversationIDPrefix + name,
			Name:        name,
			Category:    b.opts.DefaultCategory,
			LastScraped: database.NullTime(&b.now),
		}
		err = b.tx.CreateConversation(ctx, conv)
		if errors.Is(err, database.ErrDuplicate) {
			conv, err = b.tx.FindConversationByName(ctx, name)
			if err == nil && conv == nil {
				err = fmt.Errorf("conversation %q vanished after duplicate insert", name)
			}
		}
		if err != nil {
			return nil, err
		}
		if conv.LastScraped.Valid {
			return conv, nil
		}
	}
	if err := b.tx.TouchConversation(ctx, conv.ID, b.now); err != nil {
		return nil, err
	}
	conv.LastScraped = database.NullTime(&b.now)
	return conv, nil
}

// process runs one record through the dedup ladder. It reports whether a new
// message row was inserted; a non-nil error aborts the whole batch.
func (b *batch) process(ctx context.Context, rec chatexport.Record) (bool, error) {
	log := b.logger.With("message_id", rec.MessageID)

	if b.since != nil && rec.Timestamp != nil && !rec.Timestamp.After(*b.since) {
		return false, nil
	}

	if _, ok := b.seenIDs[rec.MessageID]; ok {
		return false, nil
	}
	b.seenIDs[rec.MessageID] = struct{}{}

	existing, err := b.tx.FindMessageByID(ctx, rec.MessageID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	participant, err := b.resolveParticipant(ctx, rec)
	if err != nil {
		return false, err
	}
	if participant == nil {
		log.WarnContext(ctx, "Skipping record without a resolvable sender")
		return false, nil
	}

	hash := fingerprint.ContentHashWith(rec.Body, fingerprint.NormalizeOptions{StripPhones: b.opts.StripPhones})

	// Repeats of content already inserted by this batch are dropped without
	// touching the first row's occurrence metadata.
	if _, ok := b.seenHashes[hash]; ok {
		return false, nil
	}

	seenAt := b.now
	if rec.Timestamp != nil {
		seenAt = rec.Timestamp.UTC()
	}

	dup, err := b.tx.FindMessageByContentHash(ctx, b.conv.ID, hash)
	if err != nil {
		return false, err
	}
	if dup != nil {
		return false, b.bumpMessage(ctx, dup, seenAt)
	}

	msg := &database.Message{
		MessageID:       rec.MessageID,
		ConversationID:  b.conv.ID,
		ParticipantID:   participant.ID,
		Content:         rec.Body,
		Timestamp:       database.NullTime(rec.Timestamp),
		Links:           database.StringList(rec.Links),
		ContentHash:     hash,
		FirstSeen:       database.NullTime(&seenAt),
		LastSeen:        database.NullTime(&seenAt),
		OccurrenceCount: 1,
	}
	if err := b.tx.CreateMessage(ctx, msg); err != nil {
		if !errors.Is(err, database.ErrDuplicate) {
			return false, err
		}
		// Another writer got there first: treat as a repeat of its row.
		log.DebugContext(ctx, "Message insert collided, converting to occurrence update", "error", err)
		dup, findErr := b.tx.FindMessageByContentHash(ctx, b.conv.ID, hash)
		if findErr != nil {
			return false, findErr
		}
		if dup == nil {
			return false, nil
		}
		return false, b.bumpMessage(ctx, dup, seenAt)
	}
	b.seenHashes[hash] = struct{}{}

	if err := b.upsertCanonical(ctx, hash, rec.Body, seenAt); err != nil {
		return false, err
	}
	return true, nil
}

func (b *batch) bumpMessage(ctx context.Context, m *database.Message, seenAt time.Time) error {
	m.LastSeen = database.NullTime(&seenAt)
	m.OccurrenceCount++
	return b.tx.UpdateMessageOccurrence(ctx, m)
}

// resolveParticipant finds the sender by phone, then by display name, and
// creates it otherwise. It returns nil for records without a sender.
func (b *batch) resolveParticipant(ctx context.Context, rec chatexport.Record) (*database.Participant, error) {
	if rec.Sender == "" {
		return nil, nil
	}

	find := func() (*database.Participant, error) {
		if rec.SenderPhone != "" {
			p, err := b.tx.FindParticipantByPhone(ctx, rec.SenderPhone)
			if err != nil || p != nil {
				return p, err
			}
		}
		return b.tx.FindParticipantByName(ctx, rec.Sender)
	}

	p, err := find()
	if err != nil || p != nil {
		return p, err
	}

	key := rec.Sender
	p = &database.Participant{DisplayName: rec.Sender}
	if rec.SenderPhone != "" {
		key = rec.SenderPhone
		p.Phone.String, p.Phone.Valid = rec.SenderPhone, true
	}
	p.UniqueID = b.opts.ParticipantIDPrefix + key

	err = b.tx.CreateParticipant(ctx, p)
	if errors.Is(err, database.ErrDuplicate) {
		return find()
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// upsertCanonical records content in the cross-conversation aggregate.
func (b *batch) upsertCanonical(ctx context.Context, hash, content string, seenAt time.Time) error {
	canon, ok := b.canonical[hash]
	if !ok {
		var err error
		canon, err = b.tx.FindCanonical(ctx, hash)
		if err != nil {
			return err
		}
	}

	if canon == nil {
		canon = &database.CanonicalMessage{
			ContentHash:     hash,
			Content:         content,
			FirstSeen:       database.NullTime(&seenAt),
			LastSeen:        database.NullTime(&seenAt),
			OccurrenceTotal: 1,
			GroupsSeen:      database.StringList{b.conv.Name},
		}
		err := b.tx.CreateCanonical(ctx, canon)
		if err == nil {
			b.canonical[hash] = canon
			return nil
		}
		if !errors.Is(err, database.ErrDuplicate) {
			return err
		}
		canon, err = b.tx.FindCanonical(ctx, hash)
		if err != nil {
			return err
		}
		if canon == nil {
			return fmt.Errorf("canonical message %s vanished after duplicate insert", hash)
		}
	}

	canon.LastSeen = database.NullTime(&seenAt)
	canon.OccurrenceTotal++
	canon.GroupsSeen.Add(b.conv.Name)
	if err := b.tx.UpdateCanonical(ctx, canon); err != nil {
		return err
	}
	b.canonical[hash] = canon
	return nil
}
