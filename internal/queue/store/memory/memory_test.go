package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/snehjoshi/relayq/internal/queue/store"
	"github.com/snehjoshi/relayq/internal/queue/store/memory"
	"github.com/snehjoshi/relayq/internal/types"
)

func TestStore_PutGetDelete(t *testing.T) {
	s := memory.New[string]()

	rec := &types.Record[string]{ID: "01A", Payload: "hello", CreatedAt: time.Now()}
	if err := s.Put(rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get("01A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Payload != "hello" {
		t.Errorf("Get payload: want %q, got %q", "hello", got.Payload)
	}

	if err := s.Delete("01A"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("01A"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get after delete: want ErrNotFound, got %v", err)
	}
}

func TestStore_GetUnknown(t *testing.T) {
	s := memory.New[string]()
	if _, err := s.Get("missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
}

func TestStore_DeleteUnknown_IsIdempotent(t *testing.T) {
	s := memory.New[string]()
	if err := s.Delete("missing"); err != nil {
		t.Errorf("Delete of unknown id: %v", err)
	}
}

func TestStore_PutOverwrites(t *testing.T) {
	s := memory.New[string]()

	if err := s.Put(&types.Record[string]{ID: "01A", Payload: "v1"}); err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	if err := s.Put(&types.Record[string]{ID: "01A", Payload: "v2", ReceiveCount: 3}); err != nil {
		t.Fatalf("Put v2: %v", err)
	}

	got, err := s.Get("01A")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Payload != "v2" || got.ReceiveCount != 3 {
		t.Errorf("overwrite not applied: %+v", got)
	}
	if n, _ := s.Len(); n != 1 {
		t.Errorf("Len after overwrite: want 1, got %d", n)
	}
}

func TestStore_EachVisitsAll(t *testing.T) {
	s := memory.New[string]()
	for _, id := range []string{"01A", "01B", "01C"} {
		if err := s.Put(&types.Record[string]{ID: id}); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}

	seen := map[string]bool{}
	err := s.Each(func(r *types.Record[string]) bool {
		seen[r.ID] = true
		return true
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if len(seen) != 3 {
		t.Errorf("Each visited %d records, want 3", len(seen))
	}
}

func TestStore_EachStopsEarly(t *testing.T) {
	s := memory.New[string]()
	for _, id := range []string{"01A", "01B", "01C"} {
		if err := s.Put(&types.Record[string]{ID: id}); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}

	var visited int
	err := s.Each(func(r *types.Record[string]) bool {
		visited++
		return false
	})
	if err != nil {
		t.Fatalf("Each: %v", err)
	}
	if visited != 1 {
		t.Errorf("Each kept iterating after false: visited %d", visited)
	}
}
