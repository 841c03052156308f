package publish

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/torgash1221/ig-autoposter/internal/cloud"
	"github.com/torgash1221/ig-autoposter/internal/picker"
	"github.com/torgash1221/ig-autoposter/internal/sink"
	"github.com/torgash1221/ig-autoposter/internal/store"
	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

// ---- fakes ----

type fakeSource struct {
	items []store.ContentItem
}

func (f *fakeSource) GetCandidates(_ context.Context, business, tag string) ([]store.ContentItem, error) {
	var out []store.ContentItem
	for _, it := range f.items {
		if it.Business == business {
			out = append(out, it)
		}
	}
	return out, nil
}

type commitCall struct {
	business string
	id       int64
}

type fakeCommit struct {
	calls []commitCall
	err   error
}

func (f *fakeCommit) CommitPublish(_ context.Context, business string, id int64, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, commitCall{business, id})
	return nil
}

type fakeSink struct {
	delivered []sink.Item
	failAfter int // fail when len(delivered) == failAfter; -1 never
}

func (f *fakeSink) Deliver(_ context.Context, item sink.Item) (string, error) {
	if f.failAfter >= 0 && len(f.delivered) == f.failAfter {
		return "", errors.New("sink down")
	}
	f.delivered = append(f.delivered, item)
	return "d-1", nil
}

type fakeNotifier struct {
	texts []string
}

func (f *fakeNotifier) Notify(_ context.Context, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

type fakeLister struct {
	keys       []string
	state      cloud.State
	writes     int
	readErr    error
	presignErr error
}

func (f *fakeLister) List(context.Context, string) ([]string, error) { return f.keys, nil }
func (f *fakeLister) Presign(_ context.Context, key string) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return "https://signed.example/" + key, nil
}
func (f *fakeLister) ReadState(context.Context) (cloud.State, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.state == nil {
		f.state = cloud.State{}
	}
	return f.state, nil
}
func (f *fakeLister) WriteState(_ context.Context, st cloud.State) error {
	f.writes++
	f.state = st
	return nil
}

func newRunner(t *testing.T, commit Committer, src picker.Candidates, notifier sink.Notifier, lister Lister) *Runner {
	t.Helper()
	pk := picker.New(src, rand.New(rand.NewSource(1)))
	r := NewRunner(commit, pk, nil, notifier, lister, logx.Nop())
	r.sleep = func(context.Context, time.Duration) {}
	return r
}

// ---- store-backed firings ----

func TestRunDeliversAndCommitsOnce(t *testing.T) {
	t.Parallel()
	src := &fakeSource{items: []store.ContentItem{
		{ID: 1, Business: "b", MediaRef: "file-1", Priority: 1},
	}}
	commit := &fakeCommit{}
	snk := &fakeSink{failAfter: -1}
	r := newRunner(t, commit, src, nil, nil)

	r.Run(context.Background(), Job{Business: "b", Policy: picker.PolicyLRU, Sink: snk})

	if len(snk.delivered) != 1 {
		t.Fatalf("delivered = %d, want 1", len(snk.delivered))
	}
	if len(commit.calls) != 1 || commit.calls[0].id != 1 {
		t.Fatalf("commits = %+v, want exactly one for id 1", commit.calls)
	}
}

func TestRunDeliveryFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()
	src := &fakeSource{items: []store.ContentItem{
		{ID: 1, Business: "b", MediaRef: "file-1", Priority: 1},
	}}
	commit := &fakeCommit{}
	snk := &fakeSink{failAfter: 0}
	r := newRunner(t, commit, src, nil, nil)

	r.Run(context.Background(), Job{Business: "b", Policy: picker.PolicyLRU, Sink: snk})

	if len(commit.calls) != 0 {
		t.Fatalf("commits = %+v, want none after delivery failure", commit.calls)
	}
}

func TestRunNoContentNotifies(t *testing.T) {
	t.Parallel()
	commit := &fakeCommit{}
	snk := &fakeSink{failAfter: -1}
	notifier := &fakeNotifier{}
	r := newRunner(t, commit, &fakeSource{}, notifier, nil)

	r.Run(context.Background(), Job{Business: "b", Policy: picker.PolicyLRU, Sink: snk})

	if len(snk.delivered) != 0 {
		t.Fatalf("delivered = %d, want 0", len(snk.delivered))
	}
	if len(notifier.texts) != 1 {
		t.Fatalf("notifications = %v, want one", notifier.texts)
	}
}

func TestRunCommitFailureStopsRun(t *testing.T) {
	t.Parallel()
	src := &fakeSource{items: []store.ContentItem{
		{ID: 1, Business: "b", MediaRef: "file-1", Priority: 1},
		{ID: 2, Business: "b", MediaRef: "file-2", Priority: 1},
	}}
	commit := &fakeCommit{err: errors.New("db gone")}
	snk := &fakeSink{failAfter: -1}
	r := newRunner(t, commit, src, nil, nil)

	r.Run(context.Background(), Job{Business: "b", Policy: picker.PolicyLRU, Sink: snk, Count: 2})

	// Delivered once, then the reconcile condition ends the firing.
	if len(snk.delivered) != 1 {
		t.Fatalf("delivered = %d, want 1", len(snk.delivered))
	}
}

func TestMultiItemRunDoesNotRepeatWithinRun(t *testing.T) {
	t.Parallel()
	src := &fakeSource{items: []store.ContentItem{
		{ID: 1, Business: "b", MediaRef: "file-1", Priority: 1},
		{ID: 2, Business: "b", MediaRef: "file-2", Priority: 1},
	}}
	commit := &fakeCommit{}
	snk := &fakeSink{failAfter: -1}
	r := newRunner(t, commit, src, nil, nil)

	r.Run(context.Background(), Job{Business: "b", Policy: picker.PolicyLRU, Sink: snk, Count: 3})

	if len(snk.delivered) != 2 {
		t.Fatalf("delivered = %d, want 2 (pool exhausted)", len(snk.delivered))
	}
	if snk.delivered[0].ContentID == snk.delivered[1].ContentID {
		t.Fatalf("same item delivered twice in one run: %d", snk.delivered[0].ContentID)
	}
}

// TestTwoFiringsRotate drives two firings against the real store:
// the second firing must pick the other item because last_used moved.
func TestTwoFiringsRotate(t *testing.T) {
	t.Parallel()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "content.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	id1, _ := st.AddContent(ctx, store.ContentItem{Business: "x", MediaRef: "f1", Priority: 1})
	id2, _ := st.AddContent(ctx, store.ContentItem{Business: "x", MediaRef: "f2", Priority: 1})

	snk := &fakeSink{failAfter: -1}
	pk := picker.New(st, rand.New(rand.NewSource(1)))
	r := NewRunner(st, pk, nil, nil, nil, logx.Nop())
	r.sleep = func(context.Context, time.Duration) {}

	job := Job{Business: "x", Policy: picker.PolicyLRU, Sink: snk}
	r.Run(ctx, job)
	r.Run(ctx, job)

	if len(snk.delivered) != 2 {
		t.Fatalf("delivered = %d, want 2", len(snk.delivered))
	}
	got := map[int64]bool{snk.delivered[0].ContentID: true, snk.delivered[1].ContentID: true}
	if !got[id1] || !got[id2] {
		t.Fatalf("firings did not rotate: %v", got)
	}
}

// ---- listing firings ----

func TestListingRunMarksStateAndWritesOnce(t *testing.T) {
	t.Parallel()
	lister := &fakeLister{keys: []string{
		"b/stories/a.jpg",
		"b/stories/b.jpg",
		"b/stories/c.mp4",
	}}
	snk := &fakeSink{failAfter: -1}
	r := newRunner(t, &fakeCommit{}, &fakeSource{}, nil, lister)

	r.Run(context.Background(), Job{
		Business: "b",
		Policy:   picker.PolicyListing,
		Prefix:   "b/stories",
		Sink:     snk,
		Story:    true,
		Count:    2,
		NeedURL:  true,
	})

	if len(snk.delivered) != 2 {
		t.Fatalf("delivered = %d, want 2", len(snk.delivered))
	}
	for _, it := range snk.delivered {
		if it.MediaURL == "" {
			t.Fatalf("delivered item missing presigned url: %+v", it)
		}
		if !it.Story {
			t.Fatal("item not marked as story")
		}
	}
	if lister.writes != 1 {
		t.Fatalf("state writes = %d, want 1", lister.writes)
	}
	if got := len(lister.state.UsedSet("b", true)); got != 2 {
		t.Fatalf("used set = %d keys, want 2", got)
	}
}

func TestListingRunNoProgressSkipsStateWrite(t *testing.T) {
	t.Parallel()
	lister := &fakeLister{
		keys:  []string{"b/posts/a.jpg"},
		state: cloud.State{},
	}
	lister.state.MarkUsed("b", "b/posts/a.jpg", false)
	notifier := &fakeNotifier{}
	snk := &fakeSink{failAfter: -1}
	r := newRunner(t, &fakeCommit{}, &fakeSource{}, notifier, lister)

	r.Run(context.Background(), Job{Business: "b", Policy: picker.PolicyListing, Prefix: "b/posts", Sink: snk})

	if len(snk.delivered) != 0 {
		t.Fatalf("delivered = %d, want 0", len(snk.delivered))
	}
	if lister.writes != 0 {
		t.Fatalf("state writes = %d, want 0 for a fruitless firing", lister.writes)
	}
	if len(notifier.texts) != 1 {
		t.Fatalf("notifications = %v, want one", notifier.texts)
	}
}

func TestListingRunPartialProgressStillCommits(t *testing.T) {
	t.Parallel()
	lister := &fakeLister{keys: []string{"b/stories/a.jpg", "b/stories/b.jpg"}}
	snk := &fakeSink{failAfter: 1} // second delivery fails
	r := newRunner(t, &fakeCommit{}, &fakeSource{}, nil, lister)

	r.Run(context.Background(), Job{
		Business: "b",
		Policy:   picker.PolicyListing,
		Prefix:   "b/stories",
		Sink:     snk,
		Story:    true,
		Count:    2,
	})

	if len(snk.delivered) != 1 {
		t.Fatalf("delivered = %d, want 1", len(snk.delivered))
	}
	// The one successful delivery must still be recorded.
	if lister.writes != 1 {
		t.Fatalf("state writes = %d, want 1", lister.writes)
	}
	if got := len(lister.state.UsedSet("b", true)); got != 1 {
		t.Fatalf("used set = %d keys, want 1", got)
	}
}

func TestListingRunReadFailureAborts(t *testing.T) {
	t.Parallel()
	lister := &fakeLister{readErr: errors.New("s3 down")}
	snk := &fakeSink{failAfter: -1}
	r := newRunner(t, &fakeCommit{}, &fakeSource{}, nil, lister)

	r.Run(context.Background(), Job{Business: "b", Policy: picker.PolicyListing, Prefix: "b/posts", Sink: snk})

	if len(snk.delivered) != 0 {
		t.Fatalf("delivered = %d, want 0 after state read failure", len(snk.delivered))
	}
	if lister.writes != 0 {
		t.Fatalf("state writes = %d, want 0", lister.writes)
	}
}
