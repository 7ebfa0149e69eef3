package db

import (
	"path/filepath"
	"testing"
)

func TestInitDBCreatesSchema(t *testing.T) {
	ResetDB()
	defer ResetDB()

	path := filepath.Join(t.TempDir(), "nested", "transcripts.db")
	conn, err := InitDB(path)
	if err != nil {
		t.Fatalf("init db: %v", err)
	}

	again, err := InitDB(filepath.Join(t.TempDir(), "other.db"))
	if err != nil || again != conn {
		t.Fatalf("expected the singleton connection, got %v %v", again, err)
	}
	if GetDB() != conn {
		t.Fatalf("GetDB should return the initialized connection")
	}

	var name string
	err = conn.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'transcripts'`).Scan(&name)
	if err != nil {
		t.Fatalf("transcripts table missing: %v", err)
	}
}

func TestNewTestDBIsIsolated(t *testing.T) {
	a, err := NewTestDB()
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	defer a.Close()
	b, err := NewTestDB()
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	defer b.Close()

	if _, err := a.Exec(`INSERT INTO transcripts (request_id, user_id, prompt) VALUES ('req1', 'u1', 'hi')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var count int
	if err := b.QueryRow(`SELECT COUNT(*) FROM transcripts`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected isolated databases, got %d rows", count)
	}
}
