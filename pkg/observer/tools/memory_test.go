package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s, err := OpenMemoryStore(filepath.Join(t.TempDir(), "data", "memory.db"))
	if err != nil {
		t.Fatalf("OpenMemoryStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMemoryStore_SaveSearchDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)

	for _, c := range []string{"alice likes green tea", "bob prefers coffee", "100% sure about_this"} {
		if _, err := s.Save(ctx, c); err != nil {
			t.Fatalf("Save(%q): %v", c, err)
		}
	}

	tests := []struct {
		query string
		want  int
	}{
		{"tea", 1},
		{"alice tea", 1},
		{"alice coffee", 0},
		{"100%", 1},
		{"_", 1},
		{"", 3},
	}
	for _, tt := range tests {
		notes, err := s.Search(ctx, tt.query, 0)
		if err != nil {
			t.Fatalf("Search(%q): %v", tt.query, err)
		}
		if len(notes) != tt.want {
			t.Errorf("Search(%q) = %d notes, want %d", tt.query, len(notes), tt.want)
		}
	}

	notes, err := s.List(ctx, 2)
	if err != nil || len(notes) != 2 {
		t.Fatalf("List: %v %v", notes, err)
	}
	if notes[0].Content != "100% sure about_this" {
		t.Errorf("newest first, got %q", notes[0].Content)
	}

	ok, err := s.Delete(ctx, notes[0].ID)
	if err != nil || !ok {
		t.Errorf("Delete = %v, %v", ok, err)
	}
	ok, _ = s.Delete(ctx, notes[0].ID)
	if ok {
		t.Error("second delete should report false")
	}
}

func TestMemoryStore_Prune(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t)
	if _, err := s.Save(ctx, "old"); err != nil {
		t.Fatal(err)
	}

	n, err := s.Prune(ctx, time.Now().Add(-time.Hour))
	if err != nil || n != 0 {
		t.Errorf("Prune(past) = %d, %v", n, err)
	}
	n, err = s.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 1 {
		t.Errorf("Prune(future) = %d, %v", n, err)
	}
}

func TestMemory_Execute(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory(openTestStore(t))

	out, err := m.Execute(ctx, json.RawMessage(`{"action":"save","content":"server is in Tokyo"}`))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	var saved struct {
		Saved bool  `json:"saved"`
		ID    int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(out), &saved); err != nil || !saved.Saved || saved.ID == 0 {
		t.Fatalf("save result = %s", out)
	}

	out, err = m.Execute(ctx, json.RawMessage(`{"action":"search","query":"tokyo"}`))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var found struct {
		Notes []MemoryNote `json:"notes"`
	}
	if err := json.Unmarshal([]byte(out), &found); err != nil || len(found.Notes) != 1 {
		t.Errorf("search result = %s", out)
	}

	out, err = m.Execute(ctx, json.RawMessage(`{"action":"delete","id":`+jsonInt(saved.ID)+`}`))
	if err != nil || out != `{"deleted":true}` {
		t.Errorf("delete = %s, %v", out, err)
	}

	for _, bad := range []string{`{"action":"save"}`, `{"action":"forget"}`} {
		if _, err := m.Execute(ctx, json.RawMessage(bad)); err == nil {
			t.Errorf("%s should fail", bad)
		}
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
