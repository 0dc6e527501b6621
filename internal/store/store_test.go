package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "fitflow.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := openTestStore(t)

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	want := record{Name: "water", Count: 3}
	if err := s.Put("testns", "r1", want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var got record
	found, err := s.Get("testns", "r1", &got)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("expected key to be found")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestStore_GetAbsentKey(t *testing.T) {
	s := openTestStore(t)

	var out map[string]any
	found, err := s.Get("testns", "missing", &out)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("expected absent key")
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("testns", "k", 1); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put("testns", "k", 2); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var got int
	if _, err := s.Get("testns", "k", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}

func TestStore_Delete(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("testns", "k", "v"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete("testns", "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	var out string
	found, err := s.Get("testns", "k", &out)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("expected key to be deleted")
	}

	// Deleting an absent key is fine
	if err := s.Delete("testns", "k"); err != nil {
		t.Errorf("Delete of absent key failed: %v", err)
	}
}

func TestStore_NamespaceIsolation(t *testing.T) {
	s := openTestStore(t)

	if err := s.Put("ns-a", "k", "alpha"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put("ns-b", "k", "beta"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	var got string
	if _, err := s.Get("ns-a", "k", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "alpha" {
		t.Errorf("ns-a: got %q, want %q", got, "alpha")
	}
	if _, err := s.Get("ns-b", "k", &got); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "beta" {
		t.Errorf("ns-b: got %q, want %q", got, "beta")
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fitflow.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := s.Put("testns", "k", "durable"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	var got string
	found, err := reopened.Get("testns", "k", &got)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found || got != "durable" {
		t.Errorf("got (%v, %q), want (true, %q)", found, got, "durable")
	}
}

func TestStore_CorruptBlobTreatedAsAbsent(t *testing.T) {
	s := openTestStore(t)

	// Write garbage directly, bypassing Put's marshaling
	_, err := s.db.Exec(`
		INSERT INTO kv (namespace, key, value, updated_at)
		VALUES ('testns', 'bad', '{not json', '2026-01-01T00:00:00Z')
	`)
	if err != nil {
		t.Fatalf("raw insert failed: %v", err)
	}

	var out map[string]any
	found, err := s.Get("testns", "bad", &out)
	if err != nil {
		t.Fatalf("Get returned error for corrupt blob: %v", err)
	}
	if found {
		t.Error("corrupt blob should be reported as absent")
	}
}
