package storage

import "testing"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndLoadAll(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("users/a", []byte(`{"rating":1500}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put("rooms/r1", []byte(`{"status":"playing"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(got))
	}
	if string(got["users/a"]) != `{"rating":1500}` {
		t.Fatalf("unexpected value %q", got["users/a"])
	}
}

func TestPutUpserts(t *testing.T) {
	s := newTestStore(t)
	s.Put("k", []byte(`{"v":1}`))
	if err := s.Put("k", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := s.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if string(got["k"]) != `{"v":2}` {
		t.Fatalf("expected upserted value, got %q", got["k"])
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	s.Put("k", []byte(`{}`))
	if err := s.Delete("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := s.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty store, got %d keys", len(got))
	}
}

func TestDeleteMissingKey(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete("nonexistent"); err != nil {
		t.Fatalf("delete of missing key should be a no-op, got %v", err)
	}
}

func TestLoadAllEmpty(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadAll()
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty store, got %d keys", len(got))
	}
}
