package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRegistryCreateGetRemove(t *testing.T) {
	r := NewRegistry(10, time.Minute)
	s, err := r.Create("CA1", DirectionInbound, "+15550001", "+15550002")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.ID() != "CA1" || s.State() != StateIdle {
		t.Fatalf("unexpected session: id=%q state=%q", s.ID(), s.State())
	}

	got, ok := r.Get("CA1")
	if !ok || got != s {
		t.Fatalf("Get() = %v, %v; want created session", got, ok)
	}
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("Get(missing) ok = true, want false")
	}

	if _, ok := r.Remove("CA1"); !ok {
		t.Fatalf("Remove() ok = false, want true")
	}
	if _, ok := r.Remove("CA1"); ok {
		t.Fatalf("second Remove() ok = true, want false")
	}
	if r.Count() != 0 {
		t.Fatalf("Count() = %d, want 0", r.Count())
	}
}

func TestRegistryGeneratesCallID(t *testing.T) {
	r := NewRegistry(1, time.Minute)
	s, err := r.Create("", DirectionOutbound, "", "")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.ID() == "" {
		t.Fatalf("generated call id should not be empty")
	}
}

func TestRegistryRejectsDuplicateAndBadDirection(t *testing.T) {
	r := NewRegistry(10, time.Minute)
	if _, err := r.Create("CA1", DirectionInbound, "", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := r.Create("CA1", DirectionInbound, "", ""); !errors.Is(err, ErrDuplicateCall) {
		t.Fatalf("duplicate Create() error = %v, want ErrDuplicateCall", err)
	}
	if _, err := r.Create("CA2", Direction("sideways"), "", ""); !errors.Is(err, ErrInvalidDirection) {
		t.Fatalf("Create() error = %v, want ErrInvalidDirection", err)
	}
}

func TestRegistryEleventhCallExceedsCapacity(t *testing.T) {
	r := NewRegistry(10, time.Minute)
	for i := 0; i < 10; i++ {
		if _, err := r.Create(fmt.Sprintf("CA%d", i), DirectionInbound, "", ""); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}
	if _, err := r.Create("CA10", DirectionInbound, "", ""); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("11th Create() error = %v, want ErrCapacityExceeded", err)
	}
	if r.Count() != 10 {
		t.Fatalf("Count() = %d, want 10", r.Count())
	}
	for i := 0; i < 10; i++ {
		s, ok := r.Get(fmt.Sprintf("CA%d", i))
		if !ok || s.State() != StateIdle {
			t.Fatalf("existing session %d disturbed", i)
		}
	}
}

func TestRegistryConcurrentCreateNeverExceedsCeiling(t *testing.T) {
	r := NewRegistry(5, time.Minute)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := r.Create(fmt.Sprintf("CA%d", i), DirectionInbound, "", ""); err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if admitted != 5 || r.Count() != 5 {
		t.Fatalf("admitted = %d, Count() = %d, want 5", admitted, r.Count())
	}
}

func TestRegistryJanitorExpiresInactive(t *testing.T) {
	r := NewRegistry(10, 30*time.Millisecond)
	if _, err := r.Create("CA1", DirectionInbound, "", ""); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	expired := make(chan string, 1)
	r.SetExpireHook(func(s *Session) {
		r.Remove(s.ID())
		select {
		case expired <- s.ID():
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case id := <-expired:
		if id != "CA1" {
			t.Fatalf("expired id = %q, want CA1", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("janitor did not expire inactive session")
	}
	if _, ok := r.Get("CA1"); ok {
		t.Fatalf("expired session still registered")
	}
}
