package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type stubHandle struct{ id string }

func (h *stubHandle) Pause(context.Context) error                 { return nil }
func (h *stubHandle) Resume(context.Context, time.Duration) error { return nil }
func (h *stubHandle) Stop(context.Context) error                  { return nil }
func (h *stubHandle) Snapshot() Session                           { return Session{ID: h.id} }

func (h *stubHandle) UpdateStatus(context.Context, string, time.Duration) error { return nil }

func TestRegistryRegisterGetUnregister(t *testing.T) {
	r := NewRegistry()
	h := &stubHandle{id: "s1"}
	if err := r.Register("s1", h); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, err := r.Get("s1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Snapshot().ID != "s1" {
		t.Fatalf("Snapshot().ID = %q, want %q", got.Snapshot().ID, "s1")
	}

	r.Unregister("s1")
	if _, err := r.Get("s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after Unregister error = %v, want ErrNotFound", err)
	}
	r.Unregister("s1")
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("s1", &stubHandle{id: "s1"}); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	if err := r.Register("s1", &stubHandle{id: "s1"}); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("second Register() error = %v, want ErrDuplicateSession", err)
	}
	if got := r.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
}

func TestRegistryConcurrentRegisterSameID(t *testing.T) {
	r := NewRegistry()
	const attempts = 16

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.Register("s1", &stubHandle{id: "s1"})
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, ErrDuplicateSession) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("successful registrations = %d, want exactly 1", ok)
	}
	if got := r.Count(); got != 1 {
		t.Fatalf("Count() = %d, want 1", got)
	}
}

func TestRegistryContainsAndList(t *testing.T) {
	r := NewRegistry()
	_ = r.Register("a", &stubHandle{id: "a"})
	_ = r.Register("b", &stubHandle{id: "b"})

	if !r.Contains("a") || !r.Contains("b") {
		t.Fatalf("Contains() should report registered ids")
	}
	if r.Contains("c") {
		t.Fatalf("Contains() reported unknown id")
	}
	if got := len(r.List()); got != 2 {
		t.Fatalf("List() length = %d, want 2", got)
	}
}
