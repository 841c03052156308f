package config

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// S3 is required only when a brand uses the "listing" picker
	// or publishes to Instagram (media must be reachable by URL).
	S3 *S3Config `json:"s3,omitempty"`

	// Caption controls the optional caption generator.
	// When omitted or disabled, deliveries fall back to PlaceholderCaption.
	Caption *CaptionConfig `json:"caption,omitempty"`

	Brands []BrandConfig `json:"brands"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	OwnerChatID int64  `json:"owner_chat_id"`

	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console *bool  `json:"console,omitempty"` // default true
	File    struct {
		Enabled bool   `json:"enabled,omitempty"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

type StorageConfig struct {
	Path string `json:"path"`

	// BusyTimeout is a Go duration string; 0 means the sqlite default.
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type SchedulerConfig struct {
	// Timezone is an IANA TZ name, e.g. "Europe/Kyiv".
	// Empty means the host local zone.
	Timezone string `json:"timezone,omitempty"`
}

type S3Config struct {
	EndpointURL     string `json:"endpoint_url,omitempty"`
	Region          string `json:"region"`
	Bucket          string `json:"bucket"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`

	// StateKey is the object key of the shared used-media state blob.
	StateKey string `json:"state_key"`

	// PresignExpiry is a Go duration string (default "1h").
	PresignExpiry string `json:"presign_expiry,omitempty"`
}

type CaptionConfig struct {
	Enabled bool   `json:"enabled"`
	APIKey  string `json:"api_key,omitempty"`
	APIURL  string `json:"api_url,omitempty"`
	Model   string `json:"model,omitempty"`

	// MaxChars caps generated captions; 0 means the default (1800).
	MaxChars int `json:"max_chars,omitempty"`
}

// PickerPolicy selects the content-selection algorithm for a brand.
// Exactly one of the three is in effect; there is no silent fallback.
type PickerPolicy string

const (
	PickerLRU      PickerPolicy = "lru"
	PickerWeighted PickerPolicy = "weighted"
	PickerListing  PickerPolicy = "listing"
)

// SinkKind selects where a brand's firings deliver to.
type SinkKind string

const (
	SinkTelegram  SinkKind = "telegram"
	SinkInstagram SinkKind = "instagram"
)

type InstagramAccount struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	APIVersion  string `json:"api_version,omitempty"` // default "v20.0"
}

type BrandConfig struct {
	Key   string `json:"key"`
	Title string `json:"title,omitempty"`

	Picker PickerPolicy `json:"picker,omitempty"` // default "lru"
	Sink   SinkKind     `json:"sink,omitempty"`   // default "telegram"

	// Tag optionally restricts LRU picks to items carrying this tag.
	Tag string `json:"tag,omitempty"`

	// Schedule entries: "HH:MM" daily, or 4/5-field cron expressions.
	SchedulePosts   []string `json:"schedule_posts,omitempty"`
	ScheduleStories []string `json:"schedule_stories,omitempty"`

	StoriesPerRun int `json:"stories_per_run,omitempty"` // default 1

	Instagram *InstagramAccount `json:"instagram,omitempty"`

	// Listing-picker object prefixes (without trailing slash).
	S3PrefixPosts   string `json:"s3_prefix_posts,omitempty"`
	S3PrefixStories string `json:"s3_prefix_stories,omitempty"`

	// Caption context.
	Language string   `json:"language,omitempty"`
	Tone     string   `json:"tone,omitempty"`
	Hashtags []string `json:"hashtags,omitempty"`
}

// Validate checks cross-field consistency. Per-entry schedule expressions
// are validated later at registration time so one bad entry cannot block
// the rest (see the schedule registry).
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.Telegram.OwnerChatID == 0 {
		return fmt.Errorf("telegram.owner_chat_id is required")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if len(c.Brands) == 0 {
		return fmt.Errorf("at least one brand is required")
	}
	seen := map[string]bool{}
	for i := range c.Brands {
		b := &c.Brands[i]
		key := strings.TrimSpace(b.Key)
		if key == "" {
			return fmt.Errorf("brands[%d]: key is required", i)
		}
		if seen[key] {
			return fmt.Errorf("brands[%d]: duplicate key %q", i, key)
		}
		seen[key] = true
		switch b.Picker {
		case "", PickerLRU, PickerWeighted, PickerListing:
		default:
			return fmt.Errorf("brand %q: unknown picker %q", key, b.Picker)
		}
		switch b.Sink {
		case "", SinkTelegram, SinkInstagram:
		default:
			return fmt.Errorf("brand %q: unknown sink %q", key, b.Sink)
		}
		if b.Sink == SinkInstagram && (b.Instagram == nil || b.Instagram.UserID == "" || b.Instagram.AccessToken == "") {
			return fmt.Errorf("brand %q: instagram sink requires user_id and access_token", key)
		}
		if b.Picker == PickerListing {
			if c.S3 == nil {
				return fmt.Errorf("brand %q: listing picker requires the s3 section", key)
			}
			if b.S3PrefixPosts == "" && b.S3PrefixStories == "" {
				return fmt.Errorf("brand %q: listing picker requires an s3 prefix", key)
			}
		}
	}
	if c.S3 != nil {
		if c.S3.Bucket == "" || c.S3.StateKey == "" {
			return fmt.Errorf("s3: bucket and state_key are required")
		}
	}
	return nil
}

func (b *BrandConfig) PickerOrDefault() PickerPolicy {
	if b.Picker == "" {
		return PickerLRU
	}
	return b.Picker
}

func (b *BrandConfig) SinkOrDefault() SinkKind {
	if b.Sink == "" {
		return SinkTelegram
	}
	return b.Sink
}

func (b *BrandConfig) StoriesPerRunOrDefault() int {
	if b.StoriesPerRun <= 0 {
		return 1
	}
	return b.StoriesPerRun
}

// ParseDur parses a Go duration string, returning def when empty.
func ParseDur(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
