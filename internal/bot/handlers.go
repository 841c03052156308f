package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/torgash1221/ig-autoposter/internal/picker"
	"github.com/torgash1221/ig-autoposter/internal/session"
	tgsink "github.com/torgash1221/ig-autoposter/internal/sink/telegram"
	"github.com/torgash1221/ig-autoposter/internal/store"
	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

func (b *Bot) handleHelp(c tele.Context) error {
	return c.Send(
		"Commands:\n" +
			"/schedule — add a publish time for a brand\n" +
			"/upload — store new content for a brand\n" +
			"/gallery — browse a brand's latest content\n" +
			"/triggers — show live schedule\n",
	)
}

func (b *Bot) handleTriggers(c tele.Context) error {
	triggers := b.registry.Triggers()
	if len(triggers) == 0 {
		return c.Send("No live triggers.")
	}
	var sb strings.Builder
	for _, t := range triggers {
		fmt.Fprintf(&sb, "%s  %s  (next %s)\n",
			b.brandTitle(t.Business), t.TimeSpec, t.Next.Format("Mon 15:04"))
	}
	return c.Send(sb.String())
}

// handleText routes menu commands with brand suffixes and the HH:MM /
// cron reply of an in-flight schedule session.
func (b *Bot) handleText(c tele.Context) error {
	text := strings.TrimSpace(c.Text())

	switch {
	case text == "/schedule":
		return c.Send("📅 Pick a brand:\n" + b.brandList("schedule"))
	case text == "/upload":
		return c.Send("📤 Pick a brand:\n" + b.brandList("upload"))
	case text == "/gallery":
		return c.Send("📂 Pick a brand:\n" + b.brandList("gallery"))
	case strings.HasPrefix(text, "/schedule_"):
		return b.startScheduleFlow(c, strings.TrimPrefix(text, "/schedule_"))
	case strings.HasPrefix(text, "/upload_"):
		return b.startUploadFlow(c, strings.TrimPrefix(text, "/upload_"))
	case strings.HasPrefix(text, "/gallery_"):
		return b.sendGallery(c, strings.TrimPrefix(text, "/gallery_"))
	}

	// Not a command: maybe the time reply of a schedule session.
	sess, ok := b.sessions.Get(c.Sender().ID)
	if !ok || sess.Step != session.StepScheduleTime {
		return nil
	}
	return b.finishScheduleFlow(c, sess.Business, text)
}

func (b *Bot) startScheduleFlow(c tele.Context, key string) error {
	br, ok := b.brand(key)
	if !ok {
		return c.Send("❌ Unknown brand")
	}
	b.sessions.Begin(c.Sender().ID, br.Key, session.StepScheduleTime)
	return c.Send(fmt.Sprintf(
		"⏰ Send a time for %s.\n\nHH:MM for daily (e.g. 18:00), or a cron expression (e.g. 30 18 * * *).",
		b.brandTitle(br.Key)))
}

func (b *Bot) finishScheduleFlow(c tele.Context, business, timeSpec string) error {
	job := b.jobFor(business, timeSpec)
	if job == nil {
		b.sessions.End(c.Sender().ID)
		return c.Send("❌ Unknown brand")
	}
	if err := b.registry.Register(business, timeSpec, job); err != nil {
		return c.Send("❌ " + err.Error())
	}

	ctx, cancel := b.ctx()
	defer cancel()
	if err := b.store.AddSchedule(ctx, business, timeSpec); err != nil {
		b.log.Error("schedule persist failed",
			logx.String("business", business), logx.String("spec", timeSpec), logx.Err(err))
		return c.Send("⚠️ Trigger is live but could not be saved; it will be lost on restart.")
	}
	b.sessions.End(c.Sender().ID)
	return c.Send(fmt.Sprintf("✅ Schedule saved\n\n%s\n⏰ %s", b.brandTitle(business), timeSpec))
}

func (b *Bot) startUploadFlow(c tele.Context, key string) error {
	br, ok := b.brand(key)
	if !ok {
		return c.Send("❌ Unknown brand")
	}
	b.sessions.Begin(c.Sender().ID, br.Key, session.StepUpload)
	return c.Send(fmt.Sprintf("📤 Send photos for %s. They are saved as they arrive.", b.brandTitle(br.Key)))
}

func (b *Bot) handlePhoto(c tele.Context) error {
	sess, ok := b.sessions.Get(c.Sender().ID)
	if !ok || sess.Step != session.StepUpload {
		return c.Send("❗ Pick a brand first: /upload")
	}
	photo := c.Message().Photo
	if photo == nil {
		return nil
	}

	ctx, cancel := b.ctx()
	defer cancel()
	id, err := b.store.AddContent(ctx, store.ContentItem{
		Business: sess.Business,
		MediaRef: photo.FileID,
	})
	if err != nil {
		b.log.Error("content save failed", logx.String("business", sess.Business), logx.Err(err))
		return c.Send("❌ Could not save content")
	}
	return c.Send(fmt.Sprintf("✅ Saved for %s (id %d)", b.brandTitle(sess.Business), id))
}

func (b *Bot) sendGallery(c tele.Context, key string) error {
	br, ok := b.brand(key)
	if !ok {
		return c.Send("❌ Unknown brand")
	}

	ctx, cancel := b.ctx()
	defer cancel()
	items, err := b.store.RecentContent(ctx, br.Key, 10)
	if err != nil {
		b.log.Error("gallery load failed", logx.String("business", br.Key), logx.Err(err))
		return c.Send("❌ Could not load gallery")
	}
	if len(items) == 0 {
		return c.Send("❌ No content yet")
	}

	album := make(tele.Album, 0, len(items))
	for _, it := range items {
		album = append(album, &tele.Photo{File: tele.File{FileID: it.MediaRef}})
	}
	return c.SendAlbum(album)
}

// handleCallback acts on the review keyboard attached to deliveries.
func (b *Bot) handleCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	action, payload, _ := strings.Cut(strings.TrimPrefix(strings.TrimSpace(cb.Data), "\f"), ":")

	switch action {
	case tgsink.ActionPublished:
		return b.callbackPublished(c, payload)
	case tgsink.ActionReplace:
		return b.callbackReplace(c, payload)
	case tgsink.ActionDelete:
		return b.callbackDelete(c, payload)
	default:
		return c.Respond(&tele.CallbackResponse{Text: "Unknown action"})
	}
}

// callbackPublished records that the operator posted the item manually.
func (b *Bot) callbackPublished(c tele.Context, business string) error {
	ctx, cancel := b.ctx()
	defer cancel()

	// The delivered message does not carry the content id; the log keyed
	// by business and time is what the audit trail needs here.
	if err := b.store.AppendLog(ctx, business, 0, time.Now()); err != nil {
		b.log.Error("publish log append failed", logx.String("business", business), logx.Err(err))
		return c.Respond(&tele.CallbackResponse{Text: "❌ Could not record"})
	}
	msg := c.Message()
	if msg != nil && msg.Caption != "" {
		_ = c.Edit(msg.Caption + "\n\n✅ Published")
	}
	return c.Respond(&tele.CallbackResponse{Text: "✅ Recorded"})
}

// callbackReplace swaps the delivered item for the next pick. The
// replacement is a full pick+commit unit so rotation state stays
// consistent with what the operator actually sees.
func (b *Bot) callbackReplace(c tele.Context, business string) error {
	ctx, cancel := b.ctx()
	defer cancel()

	item, err := b.picker.Pick(ctx, business, picker.PolicyLRU, "", nil)
	if errors.Is(err, picker.ErrNoContent) {
		return c.Respond(&tele.CallbackResponse{Text: "❌ No other content", ShowAlert: true})
	}
	if err != nil {
		b.log.Error("replace pick failed", logx.String("business", business), logx.Err(err))
		return c.Respond(&tele.CallbackResponse{Text: "❌ Pick failed"})
	}

	caption := fmt.Sprintf("📢 Time to publish (%s)", b.brandTitle(business))
	if err := c.Edit(&tele.Photo{
		File:    tele.File{FileID: item.MediaRef},
		Caption: caption,
	}, tgsink.ReviewKeyboard(business, item.ID)); err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "❌ Edit failed"})
	}

	if err := b.store.CommitPublish(ctx, business, item.ID, time.Now()); err != nil {
		b.log.Error("replace commit failed after edit",
			logx.Reconcile(),
			logx.String("business", business),
			logx.Int64("content_id", item.ID),
			logx.Err(err))
	}
	return c.Respond(&tele.CallbackResponse{Text: "🔁 Replaced"})
}

func (b *Bot) callbackDelete(c tele.Context, payload string) error {
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return c.Respond(&tele.CallbackResponse{Text: "❌ Bad id"})
	}

	ctx, cancel := b.ctx()
	defer cancel()
	if err := b.store.DeleteContent(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Respond(&tele.CallbackResponse{Text: "Already deleted"})
		}
		b.log.Error("content delete failed", logx.Int64("content_id", id), logx.Err(err))
		return c.Respond(&tele.CallbackResponse{Text: "❌ Delete failed"})
	}
	msg := c.Message()
	if msg != nil && msg.Caption != "" {
		_ = c.Edit("🗑 Content deleted")
	}
	return c.Respond(&tele.CallbackResponse{Text: "Deleted"})
}
