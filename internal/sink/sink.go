// Package sink defines the delivery boundary. The rotation engine only
// depends on this contract; where the media actually lands (a review
// chat, the Instagram Graph API) is an adapter concern.
package sink

import "context"

// Item is one unit of delivery.
type Item struct {
	Business  string
	ContentID int64  // 0 for listing-mode items (keyed by MediaRef instead)
	MediaRef  string // opaque locator: Telegram file_id or object key
	MediaURL  string // fetchable URL for URL-based sinks (presigned)
	Video     bool
	Story     bool
	Caption   string
}

// Sink delivers one item. A non-nil error means nothing was published;
// the caller must not record usage. The returned id identifies the
// delivery on the target surface (message id, media id).
type Sink interface {
	Deliver(ctx context.Context, item Item) (deliveryID string, err error)
}

// Notifier carries operator-facing notifications (e.g. "no content
// left for brand X"). Best-effort; failures are logged, not propagated.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
