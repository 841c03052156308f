package picker

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"

	"github.com/torgash1221/ig-autoposter/internal/store"
)

// ErrNoContent means the candidate set is empty. It is an expected
// outcome, not a failure: the next scheduled firing tries again.
var ErrNoContent = errors.New("no content available")

// Policy is the selection algorithm. One is chosen per brand by config;
// there is no fallback between them.
type Policy string

const (
	PolicyLRU      Policy = "lru"
	PolicyWeighted Policy = "weighted"
	PolicyListing  Policy = "listing"
)

// Candidates is the minimal read surface the picker needs.
type Candidates interface {
	GetCandidates(ctx context.Context, business, tag string) ([]store.ContentItem, error)
}

// Picker selects the next item for a brand. Selection never mutates
// state; recording usage is the caller's job after a successful delivery.
type Picker struct {
	src Candidates

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a Picker. rng may be nil; tests pass a seeded source to
// assert distributional properties.
func New(src Candidates, rng *rand.Rand) *Picker {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Picker{src: src, rng: rng}
}

// Pick returns the next item for business under the given policy.
// exclude holds ids already taken during the current run (multi-item
// firings layer it on top of persisted usage state).
func (p *Picker) Pick(ctx context.Context, business string, policy Policy, tag string, exclude map[int64]struct{}) (store.ContentItem, error) {
	items, err := p.src.GetCandidates(ctx, business, tag)
	if err != nil {
		return store.ContentItem{}, err
	}
	if len(exclude) > 0 {
		filtered := items[:0]
		for _, it := range items {
			if _, skip := exclude[it.ID]; !skip {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	switch policy {
	case PolicyWeighted:
		return p.weighted(items)
	case PolicyLRU, "":
		return leastRecentlyUsed(items)
	default:
		return store.ContentItem{}, errors.New("unsupported policy for store-backed pick: " + string(policy))
	}
}

// leastRecentlyUsed returns the item with the smallest last_used.
// Never-used items (nil last_used) sort first; ties break by smallest id.
// Deterministic given the store's state.
func leastRecentlyUsed(items []store.ContentItem) (store.ContentItem, error) {
	if len(items) == 0 {
		return store.ContentItem{}, ErrNoContent
	}
	best := items[0]
	for _, it := range items[1:] {
		if olderThan(it, best) {
			best = it
		}
	}
	return best, nil
}

func olderThan(a, b store.ContentItem) bool {
	switch {
	case a.LastUsed == nil && b.LastUsed == nil:
		return a.ID < b.ID
	case a.LastUsed == nil:
		return true
	case b.LastUsed == nil:
		return false
	case a.LastUsed.Equal(*b.LastUsed):
		return a.ID < b.ID
	default:
		return a.LastUsed.Before(*b.LastUsed)
	}
}

// weighted draws one item with probability proportional to
// priority / (1 + used_count). Usage decays an item's weight without
// ever removing it from rotation.
func (p *Picker) weighted(items []store.ContentItem) (store.ContentItem, error) {
	if len(items) == 0 {
		return store.ContentItem{}, ErrNoContent
	}
	weights := make([]float64, len(items))
	var total float64
	for i, it := range items {
		w := float64(it.Priority) / float64(1+it.UsedCount)
		if w < 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return store.ContentItem{}, ErrNoContent
	}

	p.mu.Lock()
	r := p.rng.Float64() * total
	p.mu.Unlock()

	for i, w := range weights {
		r -= w
		if r < 0 {
			return items[i], nil
		}
	}
	// Float accumulation can leave r at ~0 past the last bucket.
	return items[len(items)-1], nil
}

// media extensions accepted by the listing policy.
var (
	imageExt = []string{".jpg", ".jpeg", ".png"}
	videoExt = []string{".mp4", ".mov"}
)

// IsVideo reports whether key refers to a video by extension.
func IsVideo(key string) bool {
	return hasAnySuffix(strings.ToLower(key), videoExt)
}

func isMedia(key string) bool {
	low := strings.ToLower(key)
	return hasAnySuffix(low, imageExt) || hasAnySuffix(low, videoExt)
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// PickFromListing uniformly picks a media key not in the used set.
// Directory markers and non-media keys are ignored. The used set lives
// in an external state blob owned by the caller.
func (p *Picker) PickFromListing(keys []string, used map[string]struct{}) (string, error) {
	var candidates []string
	for _, k := range keys {
		if k == "" || strings.HasSuffix(k, "/") {
			continue
		}
		if !isMedia(k) {
			continue
		}
		if _, done := used[k]; done {
			continue
		}
		candidates = append(candidates, k)
	}
	if len(candidates) == 0 {
		return "", ErrNoContent
	}
	p.mu.Lock()
	idx := p.rng.Intn(len(candidates))
	p.mu.Unlock()
	return candidates[idx], nil
}
