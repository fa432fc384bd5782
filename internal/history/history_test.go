package history

import (
	"context"
	"errors"
	"testing"

	"github.com/carelinehq/realtime/internal/domain"
)

func TestMemoryStoreLoadUnknown(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Load(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreRecordAndLoad(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	msgs := []domain.Message{
		{ID: "m1", Role: domain.RoleUser, Content: "What is the first-line treatment for hypertension?"},
		{ID: "m2", Role: domain.RoleAssistant, Content: "Treatment includes lifestyle changes and medication."},
	}
	for _, m := range msgs {
		if err := s.Record(ctx, "sess-1", m); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	got, err := s.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Load) = %d, want 2", len(got))
	}
	for i := range msgs {
		if got[i].ID != msgs[i].ID || got[i].Content != msgs[i].Content {
			t.Fatalf("message %d mismatch: %+v", i, got[i])
		}
	}

	// The returned slice is a copy; mutating it must not corrupt the store.
	got[0].Content = "mutated"
	reloaded, _ := s.Load(ctx, "sess-1")
	if reloaded[0].Content != msgs[0].Content {
		t.Fatal("Load returned a shared slice")
	}
}

func TestMemoryStoreSessionsIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	s.Record(ctx, "sess-a", domain.Message{ID: "m1", Role: domain.RoleUser, Content: "a"})
	s.Record(ctx, "sess-b", domain.Message{ID: "m2", Role: domain.RoleUser, Content: "b"})

	a, err := s.Load(ctx, "sess-a")
	if err != nil {
		t.Fatalf("Load(sess-a) failed: %v", err)
	}
	if len(a) != 1 || a[0].ID != "m1" {
		t.Fatalf("sess-a history = %+v", a)
	}
}
