package store

import (
	"context"
	"path/filepath"
	"testing"

	"chatline/internal/api"
	"chatline/internal/logging"
)

func openTestStore(t *testing.T, ephemeral bool) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.sqlite")
	s, err := Open(path, ephemeral, logging.Discard())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s, path
}

func TestSessionStorageRoundTrip(t *testing.T) {
	s, _ := openTestStore(t, false)
	defer s.Close()

	if err := s.Set("0-client", `{"authnResult":{}}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("other", "x"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set("0-client", `{"authnResult":{"id_token":"t"}}`); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "0-client" || keys[1] != "other" {
		t.Fatalf("unexpected keys: %#v", keys)
	}
	v, ok, err := s.Get("0-client")
	if err != nil || !ok || v != `{"authnResult":{"id_token":"t"}}` {
		t.Fatalf("unexpected get: %q %v %v", v, ok, err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := s.Get("0-client"); ok {
		t.Fatalf("expected key removed after clear")
	}
}

func TestEphemeralStoreClearsOnClose(t *testing.T) {
	s, path := openTestStore(t, true)
	if err := s.Set("0-client", "blob"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.CacheMessages(context.Background(), 42, []api.Message{{ID: 1, Content: "secret lunch"}}); err != nil {
		t.Fatalf("cache: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, false, logging.Discard())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	keys, err := reopened.Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected ephemeral session storage to be empty, got %#v", keys)
	}
	hits, err := reopened.SearchMessages("lunch", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected ephemeral message cache to be empty, got %#v", hits)
	}
}

func TestClearDropsMessageCache(t *testing.T) {
	s, _ := openTestStore(t, false)
	defer s.Close()
	ctx := context.Background()

	if err := s.Set("0-client", "blob"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.CacheMessages(ctx, 42, []api.Message{{ID: 1, Content: "lunch tomorrow?"}}); err != nil {
		t.Fatalf("cache: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}

	hits, err := s.SearchMessages("lunch", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("previous user's messages still searchable: %#v", hits)
	}
	cached, err := s.CachedMessages(42)
	if err != nil {
		t.Fatalf("cached: %v", err)
	}
	if len(cached) != 0 {
		t.Fatalf("expected empty cache, got %#v", cached)
	}

	// The cache keeps working for the next user.
	if err := s.CacheMessages(ctx, 7, []api.Message{{ID: 1, Content: "lunch again"}}); err != nil {
		t.Fatalf("recache: %v", err)
	}
	hits, err = s.SearchMessages("lunch", 10)
	if err != nil {
		t.Fatalf("search after recache: %v", err)
	}
	if len(hits) != 1 || hits[0].ConversationID != 7 {
		t.Fatalf("unexpected hits after recache: %#v", hits)
	}
}

func TestCacheAndSearchMessages(t *testing.T) {
	s, _ := openTestStore(t, false)
	defer s.Close()
	ctx := context.Background()

	if err := s.CacheMessages(ctx, 42, []api.Message{
		{ID: 1, Content: "lunch tomorrow?"},
		{ID: 2, Content: "Lunch sounds great"},
		{ID: 3, MediaURL: "x.png"},
	}); err != nil {
		t.Fatalf("cache 42: %v", err)
	}
	if err := s.CacheMessages(ctx, 43, []api.Message{
		{ID: 10, ConversationID: 43, Content: "lunch"},
		{ID: 11, ConversationID: 43, Content: "dinner"},
	}); err != nil {
		t.Fatalf("cache 43: %v", err)
	}
	// Re-caching must not duplicate FTS rows.
	if err := s.CacheMessages(ctx, 42, []api.Message{{ID: 1, Content: "lunch tomorrow?"}}); err != nil {
		t.Fatalf("recache: %v", err)
	}

	hits, err := s.SearchMessages("LUNCH", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 conversations, got %#v", hits)
	}
	if hits[0].ConversationID != 42 || hits[0].Hits != 2 || hits[1].ConversationID != 43 || hits[1].Hits != 1 {
		t.Fatalf("unexpected ranking: %#v", hits)
	}

	cached, err := s.CachedMessages(42)
	if err != nil {
		t.Fatalf("cached: %v", err)
	}
	if len(cached) != 3 || cached[2].MediaURL != "x.png" || cached[0].ConversationID != 42 {
		t.Fatalf("unexpected cached messages: %#v", cached)
	}
}

func TestSearchBlankQuery(t *testing.T) {
	s, _ := openTestStore(t, false)
	defer s.Close()
	hits, err := s.SearchMessages("   ", 10)
	if err != nil || hits != nil {
		t.Fatalf("blank query should return nothing: %#v %v", hits, err)
	}
}

func TestBuildFTSQuery(t *testing.T) {
	got := buildFTSQuery(`hello "world" (lunch)`)
	want := `"hello"* AND "world"* AND "lunch"*`
	if got != want {
		t.Fatalf("unexpected fts query\nwant: %s\ngot:  %s", want, got)
	}
}
