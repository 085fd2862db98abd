package database_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/chatdedup/internal/config"
	"github.com/edgard/chatdedup/internal/database"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.NewDB(config.DatabaseConfig{
		Driver: database.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("NewDB() error = %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })
	return db
}

func TestStoreConversationAndParticipant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := database.NewStore(newTestDB(t), nil)

	err := store.RunInTx(ctx, func(tx database.Tx) error {
		conv := &database.Conversation{ExternalID: "export::a", Name: "Housing", Category: "general"}
		if err := tx.CreateConversation(ctx, conv); err != nil {
			return err
		}
		if conv.ID == 0 {
			t.Error("conversation ID not populated")
		}

		dup := &database.Conversation{ExternalID: "export::b", Name: "Housing", Category: "general"}
		if err := tx.CreateConversation(ctx, dup); !errors.Is(err, database.ErrDuplicate) {
			t.Errorf("duplicate name error = %v, want ErrDuplicate", err)
		}

		// The transaction must remain usable after a duplicate.
		got, err := tx.FindConversationByName(ctx, "Housing")
		if err != nil {
			return err
		}
		if got == nil || got.ID != conv.ID {
			t.Errorf("FindConversationByName() = %+v, want id %d", got, conv.ID)
		}

		p := &database.Participant{UniqueID: "export_user::x", DisplayName: "Alice"}
		p.Phone.String, p.Phone.Valid = "+15551234567", true
		if err := tx.CreateParticipant(ctx, p); err != nil {
			return err
		}
		byPhone, err := tx.FindParticipantByPhone(ctx, "+15551234567")
		if err != nil {
			return err
		}
		if byPhone == nil || byPhone.DisplayName != "Alice" {
			t.Errorf("FindParticipantByPhone() = %+v", byPhone)
		}
		missing, err := tx.FindParticipantByName(ctx, "Nobody")
		if err != nil || missing != nil {
			t.Errorf("FindParticipantByName(missing) = %+v, %v; want nil, nil", missing, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
}

func TestStoreMessageUniqueness(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := database.NewStore(newTestDB(t), nil)
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	err := store.RunInTx(ctx, func(tx database.Tx) error {
		conv := &database.Conversation{ExternalID: "export::a", Name: "G", Category: "general"}
		if err := tx.CreateConversation(ctx, conv); err != nil {
			return err
		}
		p := &database.Participant{UniqueID: "export_user::a", DisplayName: "Alice"}
		if err := tx.CreateParticipant(ctx, p); err != nil {
			return err
		}

		m := &database.Message{
			MessageID:      "m1",
			ConversationID: conv.ID,
			ParticipantID:  p.ID,
			Content:        "Room for rent",
			Timestamp:      database.NullTime(&ts),
			Links:          database.StringList{"https://example.com"},
			ContentHash:    "h1",
			FirstSeen:      database.NullTime(&ts),
			LastSeen:       database.NullTime(&ts),
		}
		if err := tx.CreateMessage(ctx, m); err != nil {
			return err
		}

		sameHash := *m
		sameHash.ID, sameHash.MessageID = 0, "m2"
		if err := tx.CreateMessage(ctx, &sameHash); !errors.Is(err, database.ErrDuplicate) {
			t.Errorf("same (conversation, hash) error = %v, want ErrDuplicate", err)
		}
		sameID := *m
		sameID.ID, sameID.ContentHash = 0, "h2"
		if err := tx.CreateMessage(ctx, &sameID); !errors.Is(err, database.ErrDuplicate) {
			t.Errorf("same message_id error = %v, want ErrDuplicate", err)
		}

		later := ts.Add(time.Hour)
		m.LastSeen = database.NullTime(&later)
		m.OccurrenceCount = 2
		if err := tx.UpdateMessageOccurrence(ctx, m); err != nil {
			return err
		}

		got, err := tx.FindMessageByContentHash(ctx, conv.ID, "h1")
		if err != nil {
			return err
		}
		if got == nil || got.OccurrenceCount != 2 || !got.LastSeen.Time.Equal(later) {
			t.Errorf("message after bump = %+v", got)
		}
		if len(got.Links) != 1 || got.Links[0] != "https://example.com" {
			t.Errorf("links = %v", got.Links)
		}
		byID, err := tx.FindMessageByID(ctx, "m1")
		if err != nil || byID == nil {
			t.Errorf("FindMessageByID() = %v, %v", byID, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}
}

func TestStoreCanonicalAndRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := database.NewStore(newTestDB(t), nil)
	ts := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

	err := store.RunInTx(ctx, func(tx database.Tx) error {
		c := &database.CanonicalMessage{
			ContentHash: "h1",
			Content:     "Room for rent",
			FirstSeen:   database.NullTime(&ts),
			LastSeen:    database.NullTime(&ts),
			GroupsSeen:  database.StringList{"G1"},
		}
		if err := tx.CreateCanonical(ctx, c); err != nil {
			return err
		}
		if err := tx.CreateCanonical(ctx, c); !errors.Is(err, database.ErrDuplicate) {
			t.Errorf("duplicate canonical error = %v, want ErrDuplicate", err)
		}

		c.GroupsSeen.Add("G2")
		c.OccurrenceTotal = 2
		if err := tx.UpdateCanonical(ctx, c); err != nil {
			return err
		}
		got, err := tx.FindCanonical(ctx, "h1")
		if err != nil {
			return err
		}
		if got.OccurrenceTotal != 2 || len(got.GroupsSeen) != 2 {
			t.Errorf("canonical = %+v", got)
		}

		return tx.SaveIngestRun(ctx, &database.IngestRun{
			ID:               "run-1",
			ConversationName: "G1",
			Source:           "test",
			Parsed:           3,
			Inserted:         2,
			Skipped:          1,
			StartedAt:        ts,
			FinishedAt:       ts.Add(time.Second),
		})
	})
	if err != nil {
		t.Fatalf("RunInTx() error = %v", err)
	}

	runs, err := store.RecentIngestRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentIngestRuns() error = %v", err)
	}
	if len(runs) != 1 || runs[0].Inserted != 2 || runs[0].Since.Valid {
		t.Errorf("runs = %+v", runs)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.CanonicalMessages != 1 || stats.IngestRuns != 1 || stats.Messages != 0 {
		t.Errorf("stats = %+v", stats)
	}

	if err := store.RunSQLMaintenance(ctx); err != nil {
		t.Errorf("RunSQLMaintenance() error = %v", err)
	}
}

func TestRunInTxRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := database.NewStore(newTestDB(t), nil)
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(tx database.Tx) error {
		if err := tx.CreateConversation(ctx, &database.Conversation{ExternalID: "x", Name: "X", Category: "general"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx() error = %v, want boom", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Conversations != 0 {
		t.Errorf("conversations = %d after rollback, want 0", stats.Conversations)
	}
}

func TestStringList(t *testing.T) {
	t.Parallel()

	var l database.StringList
	if v, err := l.Value(); err != nil || v != "[]" {
		t.Errorf("nil Value() = %v, %v", v, err)
	}
	if !l.Add("a") || l.Add("a") || !l.Add("b") {
		t.Errorf("Add set semantics broken: %v", l)
	}

	var scanned database.StringList
	if err := scanned.Scan([]byte(`["x","y"]`)); err != nil || len(scanned) != 2 {
		t.Errorf("Scan() = %v, %v", scanned, err)
	}
	if err := scanned.Scan(42); err == nil {
		t.Error("Scan(int) error = nil")
	}
}

func TestRedactDSN(t *testing.T) {
	t.Parallel()

	got := database.RedactDSN("postgres://user:secret@db/chat")
	if got != "postgres://user:xxxxx@db/chat" {
		t.Errorf("RedactDSN() = %q", got)
	}
	if got := database.RedactDSN("/data/chat.db"); got != "/data/chat.db" {
		t.Errorf("RedactDSN(path) = %q", got)
	}
}
