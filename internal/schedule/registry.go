package schedule

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/torgash1221/ig-autoposter/internal/store"
	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

// Job is one firing. The context is cancelled when the registry stops.
type Job func(ctx context.Context)

// JobFactory builds the job for a persisted schedule entry during
// LoadAll. Returning nil skips the entry (unknown brand).
type JobFactory func(e store.ScheduleEntry) Job

// ScheduleSource is the read surface LoadAll needs.
type ScheduleSource interface {
	LoadSchedule(ctx context.Context) ([]store.ScheduleEntry, error)
}

type entry struct {
	business string
	timeSpec string // raw, as registered
	spec     string // normalized 5-field cron
	entryID  cron.EntryID

	mu      sync.Mutex
	running bool
}

// Registry owns the live cron triggers. Each trigger is identified by
// the composite key business+time_spec: re-registering the same pair
// replaces the previous trigger instead of duplicating it.
type Registry struct {
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	entries map[string]*entry

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(timezone string, log logx.Logger) (*Registry, error) {
	loc := time.Local
	if tz := strings.TrimSpace(timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", tz, err)
		}
		loc = l
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	r := &Registry{
		log:     log,
		loc:     loc,
		parser:  parser,
		entries: map[string]*entry{},
	}
	r.c = cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	return r, nil
}

func key(business, timeSpec string) string {
	return business + "\x00" + strings.TrimSpace(timeSpec)
}

// Register adds (or replaces) the trigger for (business, timeSpec).
// Invalid specs return an error; the registry itself is unaffected.
func (r *Registry) Register(business, timeSpec string, job Job) error {
	if strings.TrimSpace(business) == "" {
		return fmt.Errorf("business required")
	}
	if job == nil {
		return fmt.Errorf("job required")
	}
	spec, err := Normalize(timeSpec)
	if err != nil {
		return err
	}
	if _, err := r.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", timeSpec, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(business, timeSpec)
	if old, ok := r.entries[k]; ok {
		r.c.Remove(old.entryID)
		delete(r.entries, k)
	}

	e := &entry{business: business, timeSpec: timeSpec, spec: spec}
	id, err := r.c.AddFunc(spec, func() { r.fire(e, job) })
	if err != nil {
		return err
	}
	e.entryID = id
	r.entries[k] = e

	r.log.Info("trigger registered",
		logx.String("business", business),
		logx.String("spec", spec),
		logx.Time("next", r.c.Entry(id).Next))
	return nil
}

// fire runs one firing with the at-most-one-in-flight-per-key guard.
// A tick that lands while the previous firing is still running is
// skipped; the next tick is the retry boundary anyway.
func (r *Registry) fire(e *entry, job Job) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		r.log.Warn("firing skipped: previous run still in flight",
			logx.String("business", e.business),
			logx.String("spec", e.spec))
		return
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in firing",
				logx.String("business", e.business),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	r.mu.Lock()
	ctx := r.runCtx
	r.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	job(ctx)
}

// LoadAll restores persisted schedule entries into live triggers.
// A bad entry is logged and skipped; it never blocks the others.
func (r *Registry) LoadAll(ctx context.Context, src ScheduleSource, factory JobFactory) error {
	entries, err := src.LoadSchedule(ctx)
	if err != nil {
		return err
	}
	var loaded, skipped int
	for _, e := range entries {
		job := factory(e)
		if job == nil {
			skipped++
			r.log.Warn("schedule entry skipped: unknown brand",
				logx.String("business", e.Business),
				logx.String("spec", e.TimeSpec))
			continue
		}
		if err := r.Register(e.Business, e.TimeSpec, job); err != nil {
			skipped++
			r.log.Warn("schedule entry skipped: bad spec",
				logx.String("business", e.Business),
				logx.String("spec", e.TimeSpec),
				logx.Err(err))
			continue
		}
		loaded++
	}
	r.log.Info("schedule loaded", logx.Int("triggers", loaded), logx.Int("skipped", skipped))
	return nil
}

// Start begins firing triggers. Jobs receive a context cancelled by Stop.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runCancel != nil {
		return
	}
	r.runCtx, r.runCancel = context.WithCancel(ctx)
	r.c.Start()
	r.log.Info("registry started",
		logx.String("tz", r.loc.String()),
		logx.Int("triggers", len(r.entries)))
}

// Stop halts the cron loop and waits for in-flight firings to return,
// bounded by ctx.
func (r *Registry) Stop(ctx context.Context) {
	r.mu.Lock()
	cancel := r.runCancel
	r.runCancel = nil
	r.runCtx = nil
	c := r.c
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
		r.log.Info("registry stopped")
	case <-ctx.Done():
		r.log.Warn("registry stop timed out; firings continue in background")
	}
}

// TriggerInfo is a snapshot row for operator visibility.
type TriggerInfo struct {
	Business string
	TimeSpec string
	Spec     string
	Next     time.Time
}

// Triggers returns a snapshot of live triggers.
func (r *Registry) Triggers() []TriggerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TriggerInfo, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, TriggerInfo{
			Business: e.business,
			TimeSpec: e.timeSpec,
			Spec:     e.spec,
			Next:     r.c.Entry(e.entryID).Next,
		})
	}
	return out
}

// Location returns the registry timezone.
func (r *Registry) Location() *time.Location { return r.loc }
