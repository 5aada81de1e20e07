package registry_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/snehjoshi/relayq/internal/queue"
	"github.com/snehjoshi/relayq/internal/queue/store"
	"github.com/snehjoshi/relayq/internal/queue/store/memory"
	"github.com/snehjoshi/relayq/internal/registry"
)

func memFactory(name string) (store.Store[string], error) {
	return memory.New[string](), nil
}

func newRegistry(t *testing.T) *registry.Registry[string] {
	t.Helper()
	r := registry.New[string](memFactory, queue.DefaultConfig())
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRegistry_CreateAndGet_SameInstance(t *testing.T) {
	r := newRegistry(t)

	created, err := r.Create("orders", nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := r.Get("orders")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != created {
		t.Error("Get returned a different engine instance than Create")
	}
	if again, _ := r.Get("orders"); again != got {
		t.Error("repeated Get returned a different instance")
	}
}

func TestRegistry_CreateDuplicate(t *testing.T) {
	r := newRegistry(t)

	if _, err := r.Create("orders", nil, nil); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := r.Create("orders", nil, nil)
	if !errors.Is(err, registry.ErrQueueExists) {
		t.Errorf("duplicate Create: want ErrQueueExists, got %v", err)
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := newRegistry(t)
	if _, err := r.Get("nope"); !errors.Is(err, registry.ErrQueueNotFound) {
		t.Errorf("want ErrQueueNotFound, got %v", err)
	}
}

func TestRegistry_CustomConfigAndDefault(t *testing.T) {
	r := newRegistry(t)

	custom := queue.Config{VisibilityTimeout: 5 * time.Second, RetentionPeriod: time.Hour, MaxReceiveCount: 1}
	e, err := r.Create("custom", &custom, nil)
	if err != nil {
		t.Fatalf("Create custom: %v", err)
	}
	if e.Config() != custom {
		t.Errorf("custom config not applied: %+v", e.Config())
	}

	d, err := r.Create("defaulted", nil, nil)
	if err != nil {
		t.Fatalf("Create defaulted: %v", err)
	}
	if d.Config() != queue.DefaultConfig() {
		t.Errorf("registry default not applied: %+v", d.Config())
	}
}

func TestRegistry_CreateWithDeadLetter(t *testing.T) {
	r := newRegistry(t)

	dlq, err := r.Create("orders-dead", nil, nil)
	if err != nil {
		t.Fatalf("Create dlq: %v", err)
	}
	e, err := r.Create("orders", nil, dlq)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if e.DeadLetter() != dlq {
		t.Error("dead-letter target not wired")
	}

	// End to end: a permanent reject lands on the registered DLQ engine.
	if err := e.EnqueuePayload("poison"); err != nil {
		t.Fatalf("EnqueuePayload: %v", err)
	}
	rec, err := e.Dequeue()
	if err != nil || rec == nil {
		t.Fatalf("Dequeue: rec=%v err=%v", rec, err)
	}
	if err := e.Reject(rec.ID, false); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if dlq.Len() != 1 {
		t.Errorf("DLQ Len after reject: want 1, got %d", dlq.Len())
	}
}

func TestRegistry_DeleteThenRecreate(t *testing.T) {
	r := newRegistry(t)

	e, err := r.Create("orders", nil, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := e.EnqueuePayload("leftover"); err != nil {
		t.Fatalf("EnqueuePayload: %v", err)
	}

	if err := r.Delete("orders"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := r.Get("orders"); !errors.Is(err, registry.ErrQueueNotFound) {
		t.Errorf("Get after Delete: want ErrQueueNotFound, got %v", err)
	}
	if err := r.Delete("orders"); !errors.Is(err, registry.ErrQueueNotFound) {
		t.Errorf("double Delete: want ErrQueueNotFound, got %v", err)
	}

	// A fresh Create under the same name starts empty.
	e2, err := r.Create("orders", nil, nil)
	if err != nil {
		t.Fatalf("re-Create: %v", err)
	}
	if e2 == e {
		t.Error("re-Create returned the deleted instance")
	}
	if e2.TotalCount() != 0 {
		t.Errorf("recreated queue not empty: %d", e2.TotalCount())
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := newRegistry(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := r.Create(name, nil, nil); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}

	got := r.List()
	want := []string{"alpha", "mid", "zeta"}
	if len(got) != len(want) {
		t.Fatalf("List: want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("List: want %v, got %v", want, got)
		}
	}
}

func TestRegistry_ConcurrentCreate_OneWinner(t *testing.T) {
	r := newRegistry(t)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Create("contested", nil, nil)
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, registry.ErrQueueExists):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != n-1 {
		t.Errorf("want exactly one winner, got %d winners / %d duplicates", ok, dup)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	boom := fmt.Errorf("disk full")
	r := registry.New[string](func(name string) (store.Store[string], error) {
		return nil, boom
	}, queue.DefaultConfig())

	if _, err := r.Create("orders", nil, nil); !errors.Is(err, boom) {
		t.Errorf("factory error not propagated: %v", err)
	}
	// The failed name must remain free.
	if _, err := r.Get("orders"); !errors.Is(err, registry.ErrQueueNotFound) {
		t.Errorf("failed Create left a registration behind: %v", err)
	}
}
