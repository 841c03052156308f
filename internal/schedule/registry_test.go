package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/torgash1221/ig-autoposter/internal/store"
	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

type fakeSource struct {
	entries []store.ScheduleEntry
}

func (f *fakeSource) LoadSchedule(context.Context) ([]store.ScheduleEntry, error) {
	return f.entries, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New("UTC", logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRegisterIsIdempotentPerKey(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	noop := func(context.Context) {}

	if err := r.Register("a", "18:00", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("a", "18:00", noop); err != nil {
		t.Fatalf("Register again: %v", err)
	}

	triggers := r.Triggers()
	if len(triggers) != 1 {
		t.Fatalf("triggers = %d, want 1", len(triggers))
	}
	if triggers[0].Spec != "0 18 * * *" {
		t.Fatalf("spec = %q, want %q", triggers[0].Spec, "0 18 * * *")
	}
}

func TestRegisterDifferentTimesCoexist(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	noop := func(context.Context) {}

	if err := r.Register("a", "18:00", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("a", "12:00", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("b", "18:00", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if got := len(r.Triggers()); got != 3 {
		t.Fatalf("triggers = %d, want 3", got)
	}
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	err := r.Register("a", "not a spec at all!", func(context.Context) {})
	if err == nil {
		t.Fatal("expected error for bad spec")
	}
	if got := len(r.Triggers()); got != 0 {
		t.Fatalf("triggers = %d, want 0", got)
	}
}

func TestLoadAllSkipsBadEntries(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)
	src := &fakeSource{entries: []store.ScheduleEntry{
		{Business: "a", TimeSpec: "18:00"},
		{Business: "a", TimeSpec: "99:99"}, // bad spec
		{Business: "ghost", TimeSpec: "12:00"},
		{Business: "b", TimeSpec: "30 18 * * *"},
	}}
	known := map[string]bool{"a": true, "b": true}

	err := r.LoadAll(context.Background(), src, func(e store.ScheduleEntry) Job {
		if !known[e.Business] {
			return nil
		}
		return func(context.Context) {}
	})
	if err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if got := len(r.Triggers()); got != 2 {
		t.Fatalf("triggers = %d, want 2 (bad entries skipped)", got)
	}
}

func TestFireSkipsWhenInFlight(t *testing.T) {
	t.Parallel()
	r := newTestRegistry(t)

	var (
		mu    sync.Mutex
		runs  int
		block = make(chan struct{})
		began = make(chan struct{})
	)
	job := func(context.Context) {
		mu.Lock()
		runs++
		mu.Unlock()
		close(began)
		<-block
	}
	e := &entry{business: "a", timeSpec: "18:00", spec: "0 18 * * *"}

	go r.fire(e, job)
	<-began

	// Second tick while the first is still running must be a no-op.
	done := make(chan struct{})
	go func() {
		r.fire(e, job)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("overlapping fire did not return promptly")
	}

	close(block)
	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Fatalf("job ran %d times, want 1", runs)
	}
}
