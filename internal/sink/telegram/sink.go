// Package telegram delivers picked media to an operator review chat.
// The operator gets the item with an inline keyboard: mark as
// published, replace with another pick, or delete the item.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/torgash1221/ig-autoposter/internal/sink"
	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

// Callback data actions emitted on the review keyboard. The bot layer
// parses these back in its callback handler.
const (
	ActionPublished = "published"
	ActionReplace   = "replace"
	ActionDelete    = "delete"
)

type Sink struct {
	bot    *tele.Bot
	chatID int64
	titles map[string]string // brand key -> display title
	log    logx.Logger
}

func New(bot *tele.Bot, chatID int64, titles map[string]string, log logx.Logger) (*Sink, error) {
	if bot == nil {
		return nil, errors.New("telegram bot is required")
	}
	if chatID == 0 {
		return nil, errors.New("review chat id is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{bot: bot, chatID: chatID, titles: titles, log: log}, nil
}

var _ sink.Sink = (*Sink)(nil)
var _ sink.Notifier = (*Sink)(nil)

// Deliver sends the media to the review chat. The Telegram message id
// is the delivery id.
func (s *Sink) Deliver(ctx context.Context, item sink.Item) (string, error) {
	if item.MediaRef == "" && item.MediaURL == "" {
		return "", errors.New("telegram delivery requires a media ref or url")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	caption := item.Caption
	if caption == "" {
		caption = fmt.Sprintf("📢 Time to publish (%s)", s.title(item.Business))
	}

	// Store-backed items carry a Telegram file_id; listing-mode items
	// are fetched by presigned URL.
	file := tele.File{FileID: item.MediaRef}
	if item.MediaURL != "" {
		file = tele.FromURL(item.MediaURL)
	}

	var what any
	if item.Video {
		what = &tele.Video{File: file, Caption: caption}
	} else {
		what = &tele.Photo{File: file, Caption: caption}
	}

	msg, err := s.bot.Send(tele.ChatID(s.chatID), what, ReviewKeyboard(item.Business, item.ContentID))
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msg.ID), nil
}

// Notify sends a plain operator notification to the review chat.
func (s *Sink) Notify(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.bot.Send(tele.ChatID(s.chatID), text)
	return err
}

func (s *Sink) title(business string) string {
	if t, ok := s.titles[business]; ok && t != "" {
		return t
	}
	return business
}

// ReviewKeyboard builds the inline keyboard attached to every review
// delivery.
func ReviewKeyboard(business string, contentID int64) *tele.ReplyMarkup {
	return &tele.ReplyMarkup{
		InlineKeyboard: [][]tele.InlineButton{
			{
				{Text: "📲 Published", Data: ActionPublished + ":" + business},
				{Text: "🔁 Replace", Data: ActionReplace + ":" + business},
			},
			{
				{Text: "🗑 Delete", Data: ActionDelete + ":" + strconv.FormatInt(contentID, 10)},
			},
		},
	}
}
