package store

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a content id does not exist.
	ErrNotFound = errors.New("content not found")
)

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means sqlite default
}

// Kind classifies a content item.
type Kind string

const (
	KindGeneric    Kind = "generic"
	KindAtmosphere Kind = "atmosphere"
	KindPromo      Kind = "promo"
	KindMenu       Kind = "menu"
)

// ContentItem is one media item in a brand's rotation pool.
//
// UsedCount only increases; LastUsed is set exactly when UsedCount
// increments (both happen in a single UPDATE inside the publish commit).
type ContentItem struct {
	ID       int64
	Business string
	MediaRef string // opaque locator: Telegram file_id or storage key
	Kind     Kind
	Tags     []string
	Priority int // 1..5

	UsedCount int
	LastUsed  *time.Time
}

// ScheduleEntry is a persisted recurring trigger definition.
type ScheduleEntry struct {
	Business string
	TimeSpec string // "HH:MM" or cron expression
}

// PublishLogEntry records one successful delivery. Append-only.
type PublishLogEntry struct {
	Business    string
	ContentID   int64
	PublishedAt time.Time
}
