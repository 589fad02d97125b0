package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustInsert(t *testing.T, db *DB, m NewMessage) int64 {
	t.Helper()
	id, err := db.Insert(context.Background(), m)
	if err != nil {
		t.Fatalf("Insert(%+v): %v", m, err)
	}
	return id
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 6 {
		t.Errorf("version = %d, want 6", result.Version)
	}
	if result.Dirty {
		t.Error("schema should not be dirty")
	}
}

// A store written by a build that predates schema bookkeeping already has
// some of the columns. Migration must treat those as applied.
func TestMigrateToleratesExistingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = raw.Exec(`
		CREATE TABLE messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			contact_id TEXT NOT NULL,
			body TEXT NOT NULL,
			direction TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			attachment_url TEXT,
			protocol_id TEXT
		);
		INSERT INTO messages (contact_id, body, direction, created_at, protocol_id)
		VALUES ('alice@example.org', 'legacy', 'received', 1000, 'p-legacy');`)
	if err != nil {
		t.Fatal(err)
	}
	_ = raw.Close()

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	result, err := db.Migrate()
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if result.Version != 6 || result.Dirty {
		t.Fatalf("result = %+v, want clean version 6", result)
	}
	if len(result.Tolerated) != 2 || result.Tolerated[0] != 2 || result.Tolerated[1] != 3 {
		t.Errorf("tolerated = %v, want [2 3]", result.Tolerated)
	}

	m, err := db.FindByProtocolID(context.Background(), "p-legacy")
	if err != nil {
		t.Fatal(err)
	}
	if m.Body != "legacy" || m.Read {
		t.Errorf("legacy row = %+v", m)
	}

	again, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if again.Changed {
		t.Error("re-running migration should be a no-op")
	}
}

func TestInsertNormalizesAndDerivesRead(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	sentID := mustInsert(t, db, NewMessage{ContactID: "bob@example.org/phone", Body: "hi", Direction: Sent, CreatedAt: 1000, ProtocolID: "p1"})
	recvID := mustInsert(t, db, NewMessage{ContactID: "bob@example.org/laptop", Body: "hey", Direction: Received, CreatedAt: 2000})

	sent, err := db.Get(ctx, sentID)
	if err != nil {
		t.Fatal(err)
	}
	if sent.ContactID != "bob@example.org" {
		t.Errorf("contact = %q, want normalized", sent.ContactID)
	}
	if !sent.Read || !sent.IsSent() {
		t.Errorf("sent message = %+v, want read", sent)
	}
	if !sent.CanRetract() || *sent.ProtocolID != "p1" {
		t.Errorf("protocol id = %v", sent.ProtocolID)
	}

	recv, err := db.Get(ctx, recvID)
	if err != nil {
		t.Fatal(err)
	}
	if recv.Read {
		t.Error("received message should start unread")
	}
	if recv.AttachmentURL != nil || recv.ProtocolID != nil {
		t.Errorf("optional fields should be absent: %+v", recv)
	}
	if recvID <= sentID {
		t.Errorf("ids not increasing: %d then %d", sentID, recvID)
	}
}

func TestInsertRejectsInvalid(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  NewMessage
		want error
	}{
		{"empty body", NewMessage{ContactID: "a@x", Body: "  ", Direction: Received}, ErrEmptyBody},
		{"empty contact", NewMessage{ContactID: "/res", Body: "hi", Direction: Received}, ErrEmptyContact},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := db.Insert(ctx, tt.msg)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var se *Error
			if !errors.As(err, &se) {
				t.Errorf("err should be *store.Error, got %T", err)
			}
		})
	}
}

func TestListByContactOrderAndLimit(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "third", Direction: Received, CreatedAt: 3000})
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "first", Direction: Sent, CreatedAt: 1000})
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "second", Direction: Received, CreatedAt: 2000})
	mustInsert(t, db, NewMessage{ContactID: "b@x", Body: "other", Direction: Received, CreatedAt: 1500})

	all, err := db.ListByContact(ctx, "a@x/res", 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"first", "second", "third"}
	if len(all) != len(want) {
		t.Fatalf("got %d messages, want %d", len(all), len(want))
	}
	for i, w := range want {
		if all[i].Body != w {
			t.Errorf("all[%d] = %q, want %q", i, all[i].Body, w)
		}
	}

	latest, err := db.ListByContact(ctx, "a@x", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(latest) != 2 || latest[0].Body != "second" || latest[1].Body != "third" {
		t.Errorf("limit 2 = %v", bodies(latest))
	}
}

func TestListByContactTiesBreakByID(t *testing.T) {
	db := testDB(t)
	first := mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "one", Direction: Received, CreatedAt: 5000})
	second := mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "two", Direction: Received, CreatedAt: 5000})

	msgs, err := db.ListByContact(context.Background(), "a@x", 0)
	if err != nil {
		t.Fatal(err)
	}
	if msgs[0].ID != first || msgs[1].ID != second {
		t.Errorf("order = [%d %d], want [%d %d]", msgs[0].ID, msgs[1].ID, first, second)
	}
}

func TestLastPerContactMatchesNaiveScan(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	contacts := []string{"alice@x", "bob@x", "carol@x", "dave@x"}
	for i := 0; i < 60; i++ {
		c := contacts[(i*7)%len(contacts)]
		dir := Received
		if i%3 == 0 {
			dir = Sent
		}
		// Repeating timestamps exercise the id tie-break.
		mustInsert(t, db, NewMessage{ContactID: c, Body: fmt.Sprintf("m%d", i), Direction: dir, CreatedAt: int64(1000 + (i%10)*100)})
	}

	got, err := db.LastPerContact(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(contacts) {
		t.Fatalf("got %d contacts, want %d", len(got), len(contacts))
	}
	for _, c := range contacts {
		msgs, err := db.ListByContact(ctx, c, 0)
		if err != nil {
			t.Fatal(err)
		}
		want := msgs[len(msgs)-1]
		if got[c].ID != want.ID {
			t.Errorf("%s: last id = %d, want %d", c, got[c].ID, want.ID)
		}
	}
}

func TestDeleteAndUpdate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	id := mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "typo", Direction: Sent, CreatedAt: 1000})

	ok, err := db.Update(ctx, id, "fixed")
	if err != nil || !ok {
		t.Fatalf("Update = %v, %v", ok, err)
	}
	m, err := db.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if m.Body != "fixed" || m.EditedAt == nil {
		t.Errorf("after update = %+v", m)
	}

	ok, err = db.Delete(ctx, id)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	if _, err := db.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v, want ErrNotFound", err)
	}

	ok, err = db.Delete(ctx, id)
	if err != nil || ok {
		t.Errorf("second Delete = %v, %v, want false, nil", ok, err)
	}
	ok, err = db.Update(ctx, id, "ghost")
	if err != nil || ok {
		t.Errorf("Update missing = %v, %v, want false, nil", ok, err)
	}
}

func TestDeleteByProtocolID(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "keep", Direction: Received, CreatedAt: 1000, ProtocolID: "keep-1"})
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "gone", Direction: Received, CreatedAt: 2000, ProtocolID: "gone-1"})

	m, err := db.DeleteByProtocolID(ctx, "gone-1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Body != "gone" {
		t.Errorf("deleted = %+v", m)
	}
	if _, err := db.FindByProtocolID(ctx, "gone-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("lookup after delete err = %v", err)
	}

	if _, err := db.DeleteByProtocolID(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown protocol id err = %v, want ErrNotFound", err)
	}
	n, _ := db.MessageCount(ctx)
	if n != 1 {
		t.Errorf("message count = %d, want 1", n)
	}
}

func TestDeleteAll(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "1", Direction: Received, CreatedAt: 1})
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "2", Direction: Sent, CreatedAt: 2})
	mustInsert(t, db, NewMessage{ContactID: "b@x", Body: "3", Direction: Received, CreatedAt: 3})

	n, err := db.DeleteAll(ctx, "a@x/any")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	contacts, _ := db.ContactCount(ctx)
	if contacts != 1 {
		t.Errorf("contacts = %d, want 1", contacts)
	}
}

func TestUnreadLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	mustInsert(t, db, NewMessage{ContactID: "alice@x", Body: "one", Direction: Received, CreatedAt: 1000})
	mustInsert(t, db, NewMessage{ContactID: "alice@x", Body: "two", Direction: Received, CreatedAt: 2000})
	mustInsert(t, db, NewMessage{ContactID: "alice@x", Body: "reply", Direction: Sent, CreatedAt: 3000})
	mustInsert(t, db, NewMessage{ContactID: "bob@x", Body: "yo", Direction: Received, CreatedAt: 1500})

	n, err := db.UnreadCount(ctx, "alice@x")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("alice unread = %d, want 2", n)
	}

	counts, err := db.UnreadCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["alice@x"] != 2 || counts["bob@x"] != 1 {
		t.Errorf("counts = %v", counts)
	}

	changed, err := db.MarkRead(ctx, "alice@x")
	if err != nil {
		t.Fatal(err)
	}
	if changed != 2 {
		t.Errorf("MarkRead changed %d, want 2", changed)
	}
	if n, _ := db.UnreadCount(ctx, "alice@x"); n != 0 {
		t.Errorf("alice unread after MarkRead = %d", n)
	}
	if changed, _ := db.MarkRead(ctx, "alice@x"); changed != 0 {
		t.Errorf("second MarkRead changed %d, want 0", changed)
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Messages != 4 || stats.Contacts != 2 || stats.Unread != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSearchNewestFirstAndCapped(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		mustInsert(t, db, NewMessage{ContactID: "a@x", Body: fmt.Sprintf("Hello %d", i), Direction: Received, CreatedAt: int64(1000 + i)})
	}
	mustInsert(t, db, NewMessage{ContactID: "b@x", Body: "hello from b", Direction: Received, CreatedAt: 500})
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "unrelated", Direction: Received, CreatedAt: 9999})

	got, err := db.Search(ctx, "hello", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 10 {
		t.Fatalf("got %d results, want 10", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt > got[i-1].CreatedAt {
			t.Errorf("results not newest first at %d", i)
		}
	}
	if got[0].Body != "Hello 14" {
		t.Errorf("first = %q, want newest match", got[0].Body)
	}

	scoped, err := db.Search(ctx, "hello", "b@x", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(scoped) != 1 || scoped[0].ContactID != "b@x" {
		t.Errorf("scoped = %v", bodies(scoped))
	}

	empty, err := db.Search(ctx, "   ", "", 10)
	if err != nil || len(empty) != 0 {
		t.Errorf("blank query = %v, %v", empty, err)
	}
}

func TestSearchEscapesWildcards(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "100% done", Direction: Received, CreatedAt: 1})
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "1000 done", Direction: Received, CreatedAt: 2})

	got, err := db.Search(ctx, "0%", "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Body != "100% done" {
		t.Errorf("got %v, want only the literal match", bodies(got))
	}
}

func TestSearchKeepsSurroundingSpaces(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "okay then", Direction: Received, CreatedAt: 1})
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "that is ok", Direction: Received, CreatedAt: 2})
	mustInsert(t, db, NewMessage{ContactID: "a@x", Body: "ok ", Direction: Received, CreatedAt: 3})

	tests := []struct {
		query string
		want  []string
	}{
		{" ok", []string{"that is ok"}},
		{"ok ", []string{"ok "}},
		{"ok", []string{"ok ", "that is ok", "okay then"}},
	}
	for _, tt := range tests {
		got, err := db.Search(ctx, tt.query, "", 0)
		if err != nil {
			t.Fatal(err)
		}
		if fmt.Sprint(bodies(got)) != fmt.Sprint(tt.want) {
			t.Errorf("Search(%q) = %q, want %q", tt.query, bodies(got), tt.want)
		}
	}
}

func bodies(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Body
	}
	return out
}
