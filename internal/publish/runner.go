// Package publish runs one scheduled firing end to end:
// pick an item, deliver it through the sink, then durably record usage.
//
// The pass is terminal: no retries inside a firing. A failed delivery
// leaves rotation state untouched; the next cron tick is the retry
// boundary. The only admissible inconsistency is a crash or write
// failure between delivery and commit, which is logged as a
// reconciliation condition instead of being papered over.
package publish

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/torgash1221/ig-autoposter/internal/caption"
	"github.com/torgash1221/ig-autoposter/internal/cloud"
	"github.com/torgash1221/ig-autoposter/internal/picker"
	"github.com/torgash1221/ig-autoposter/internal/sink"
	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

// Committer records a successful delivery: one used_count increment
// plus one log row, atomically.
type Committer interface {
	CommitPublish(ctx context.Context, business string, contentID int64, at time.Time) error
}

// Lister is the external listing source for listing-policy brands.
type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Presign(ctx context.Context, key string) (string, error)
	ReadState(ctx context.Context) (cloud.State, error)
	WriteState(ctx context.Context, st cloud.State) error
}

// Job describes one registered trigger's work.
type Job struct {
	Business string
	Policy   picker.Policy
	Tag      string // LRU-only optional tag filter

	Sink     sink.Sink
	Story    bool
	Count    int // items per firing; stories_per_run for story jobs
	Prefix   string // listing policy: brand-scoped object prefix
	NeedURL  bool   // sink requires a fetchable URL (Instagram)
	Brand    caption.Brand
	Captions bool // generate a caption for each delivered item
}

type Runner struct {
	commit   Committer
	picker   *picker.Picker
	captions caption.Generator
	notifier sink.Notifier
	lister   Lister // nil unless listing brands are configured
	log      logx.Logger

	// sleep is injectable so tests do not wait out story jitter.
	sleep func(ctx context.Context, d time.Duration)

	mu  sync.Mutex
	rng *rand.Rand
}

func NewRunner(commit Committer, pk *picker.Picker, gen caption.Generator, notifier sink.Notifier, lister Lister, log logx.Logger) *Runner {
	if gen == nil {
		gen = caption.Static(caption.Placeholder)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		commit:   commit,
		picker:   pk,
		captions: gen,
		notifier: notifier,
		lister:   lister,
		log:      log,
		sleep:    sleepCtx,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// interDeliveryDelay spaces successive deliveries in a multi-item run
// to avoid bursty external-API calls.
func (r *Runner) interDeliveryDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return 3*time.Second + time.Duration(r.rng.Int63n(int64(3*time.Second)))
}

// Run executes one firing of job. Errors are handled and logged here;
// the scheduler does not retry within the firing.
func (r *Runner) Run(ctx context.Context, job Job) {
	log := r.log.With(logx.String("business", job.Business), logx.Bool("story", job.Story))
	if job.Count <= 0 {
		job.Count = 1
	}
	if job.Policy == picker.PolicyListing {
		r.runListing(ctx, job, log)
		return
	}
	r.runStore(ctx, job, log)
}

// runStore serves the LRU and weighted policies against the content
// store.
func (r *Runner) runStore(ctx context.Context, job Job, log logx.Logger) {
	usedThisRun := map[int64]struct{}{}
	delivered := 0

	for i := 0; i < job.Count; i++ {
		if i > 0 {
			r.sleep(ctx, r.interDeliveryDelay())
			if ctx.Err() != nil {
				return
			}
		}

		item, err := r.picker.Pick(ctx, job.Business, job.Policy, job.Tag, usedThisRun)
		if errors.Is(err, picker.ErrNoContent) {
			if delivered == 0 {
				log.Info("no content available for firing")
				r.notify(ctx, fmt.Sprintf("❌ No content left for %s", job.Business))
			}
			return
		}
		if err != nil {
			// Read-path persistence failure: abort before any side effect.
			log.Error("pick failed; firing aborted", logx.Err(err))
			return
		}

		si := sink.Item{
			Business:  job.Business,
			ContentID: item.ID,
			MediaRef:  item.MediaRef,
			Video:     picker.IsVideo(item.MediaRef),
			Story:     job.Story,
		}
		if job.Captions {
			si.Caption = r.captions.Generate(ctx, job.Brand, "")
		}

		deliveryID, err := job.Sink.Deliver(ctx, si)
		if err != nil {
			// No usage mutation on a failed delivery; the next tick retries.
			log.Error("delivery failed", logx.Int64("content_id", item.ID), logx.Err(err))
			return
		}
		log.Info("delivered", logx.Int64("content_id", item.ID), logx.String("delivery_id", deliveryID))

		if err := r.commit.CommitPublish(ctx, job.Business, item.ID, time.Now()); err != nil {
			// Delivered but not recorded: the one admissible inconsistency.
			log.Error("publish commit failed after delivery",
				logx.Reconcile(),
				logx.Int64("content_id", item.ID),
				logx.String("delivery_id", deliveryID),
				logx.Err(err))
			return
		}
		usedThisRun[item.ID] = struct{}{}
		delivered++
	}
}

// runListing serves the external-listing policy: object keys under a
// brand prefix, deduplicated by the shared state blob.
func (r *Runner) runListing(ctx context.Context, job Job, log logx.Logger) {
	if r.lister == nil {
		log.Error("listing policy configured but no listing source available")
		return
	}

	state, err := r.lister.ReadState(ctx)
	if err != nil {
		log.Error("state read failed; firing aborted", logx.Err(err))
		return
	}
	keys, err := r.lister.List(ctx, job.Prefix)
	if err != nil {
		log.Error("listing failed; firing aborted", logx.Err(err))
		return
	}

	used := state.UsedSet(job.Business, job.Story)
	progress := 0

	for i := 0; i < job.Count; i++ {
		if i > 0 {
			r.sleep(ctx, r.interDeliveryDelay())
			if ctx.Err() != nil {
				break
			}
		}

		key, err := r.picker.PickFromListing(keys, used)
		if errors.Is(err, picker.ErrNoContent) {
			if progress == 0 {
				log.Info("no unused objects under prefix", logx.String("prefix", job.Prefix))
				r.notify(ctx, fmt.Sprintf("❌ No new media left for %s", job.Business))
			}
			break
		}
		if err != nil {
			log.Error("listing pick failed", logx.Err(err))
			break
		}

		si := sink.Item{
			Business: job.Business,
			MediaRef: key,
			Video:    picker.IsVideo(key),
			Story:    job.Story,
		}
		if job.NeedURL {
			url, err := r.lister.Presign(ctx, key)
			if err != nil {
				log.Error("presign failed", logx.String("key", key), logx.Err(err))
				break
			}
			si.MediaURL = url
		}
		if job.Captions {
			si.Caption = r.captions.Generate(ctx, job.Brand, si.MediaURL)
		}

		deliveryID, err := job.Sink.Deliver(ctx, si)
		if err != nil {
			log.Error("delivery failed", logx.String("key", key), logx.Err(err))
			break
		}
		log.Info("delivered", logx.String("key", key), logx.String("delivery_id", deliveryID))

		state.MarkUsed(job.Business, key, job.Story)
		used[key] = struct{}{}
		progress++
	}

	// Write the state blob only when a delivery happened; a fruitless
	// firing must not touch external state.
	if progress > 0 {
		if err := r.lister.WriteState(ctx, state); err != nil {
			log.Error("state write failed after delivery",
				logx.Reconcile(),
				logx.Int("delivered", progress),
				logx.Err(err))
			return
		}
		log.Info("firing committed", logx.Int("delivered", progress))
	}
}

func (r *Runner) notify(ctx context.Context, text string) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, text); err != nil {
		r.log.Warn("operator notification failed", logx.Err(err))
	}
}
