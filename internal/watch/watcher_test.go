package watch

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Napageneral/msgbridge/imessage"
)

func newTestChatDB(t *testing.T) (*sql.DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chat.db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to create fixture db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(`
		CREATE TABLE message (
			ROWID INTEGER PRIMARY KEY,
			guid TEXT,
			text TEXT,
			attributedBody BLOB,
			handle_id INTEGER,
			type INTEGER DEFAULT 0,
			associated_message_guid TEXT,
			date INTEGER,
			is_from_me INTEGER DEFAULT 0
		);
		CREATE TABLE handle (ROWID INTEGER PRIMARY KEY, id TEXT);
		CREATE TABLE chat (ROWID INTEGER PRIMARY KEY, chat_identifier TEXT, display_name TEXT, style INTEGER);
		CREATE TABLE chat_message_join (chat_id INTEGER, message_id INTEGER);
		CREATE TABLE chat_handle_join (chat_id INTEGER, handle_id INTEGER);
	`); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return db, path
}

func insertMsg(t *testing.T, db *sql.DB, rowID int64, text string) {
	t.Helper()
	date, err := imessage.ToNative(time.Now())
	if err != nil {
		t.Fatalf("ToNative failed: %v", err)
	}
	if _, err := db.Exec(
		`INSERT INTO message (ROWID, text, handle_id, date) VALUES (?, ?, 1, ?)`,
		rowID, text, int64(date)); err != nil {
		t.Fatalf("failed to insert message: %v", err)
	}
}

func TestPrimeRecordsHighWater(t *testing.T) {
	db, path := newTestChatDB(t)
	insertMsg(t, db, 1, "old one")
	insertMsg(t, db, 2, "old two")

	w := New(path, 0, nil, nil)
	if err := w.prime(); err != nil {
		t.Fatalf("prime failed: %v", err)
	}
	if w.lastRowID != 2 {
		t.Errorf("lastRowID = %d, want 2", w.lastRowID)
	}
}

func TestPollDeliversOnlyArrivals(t *testing.T) {
	db, path := newTestChatDB(t)
	insertMsg(t, db, 1, "history")

	var got []imessage.Message
	w := New(path, 0, nil, func(msgs []imessage.Message) {
		got = append(got, msgs...)
	})
	if err := w.prime(); err != nil {
		t.Fatalf("prime failed: %v", err)
	}

	// Nothing new yet.
	w.poll()
	if len(got) != 0 {
		t.Fatalf("poll with no arrivals delivered %+v", got)
	}

	insertMsg(t, db, 2, "fresh arrival")
	w.poll()
	if len(got) != 1 || got[0].Text != "fresh arrival" {
		t.Fatalf("got %+v, want the fresh arrival only", got)
	}

	// The watermark advanced; a repeat poll is quiet.
	w.poll()
	if len(got) != 1 {
		t.Errorf("repeat poll re-delivered: %+v", got)
	}
}

func TestRunMissingStore(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "chat.db"), 0, nil, nil)
	if err := w.Run(context.Background()); err == nil {
		t.Error("expected error for missing chat.db")
	}
}

func TestRunDeliversOnWrite(t *testing.T) {
	db, path := newTestChatDB(t)
	insertMsg(t, db, 1, "history")

	delivered := make(chan []imessage.Message, 1)
	w := New(path, 50*time.Millisecond, nil, func(msgs []imessage.Message) {
		select {
		case delivered <- msgs:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	insertMsg(t, db, 2, "just arrived")

	select {
	case msgs := <-delivered:
		if len(msgs) != 1 || msgs[0].Text != "just arrived" {
			t.Errorf("delivered %+v", msgs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never delivered the new message")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
