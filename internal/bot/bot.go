// Package bot is the operator-facing Telegram surface: uploading
// content, managing schedules, browsing galleries, and acting on
// review-chat keyboards. The rotation engine itself never depends on
// this package.
package bot

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/torgash1221/ig-autoposter/internal/picker"
	"github.com/torgash1221/ig-autoposter/internal/schedule"
	"github.com/torgash1221/ig-autoposter/internal/session"
	"github.com/torgash1221/ig-autoposter/internal/store"
	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

const handlerTimeout = 15 * time.Second

// JobFactory builds the firing job for a newly added schedule entry so
// the bot can register it live without knowing executor internals.
type JobFactory func(business, timeSpec string) schedule.Job

type Brand struct {
	Key   string
	Title string
}

type Bot struct {
	tb       *tele.Bot
	store    *store.Store
	picker   *picker.Picker
	registry *schedule.Registry
	jobFor   JobFactory
	sessions *session.Store
	brands   []Brand
	owner    int64
	log      logx.Logger

	stopSweep chan struct{}
}

func New(tb *tele.Bot, st *store.Store, pk *picker.Picker, reg *schedule.Registry, jobFor JobFactory, brands []Brand, owner int64, log logx.Logger) (*Bot, error) {
	if tb == nil {
		return nil, errors.New("telegram bot is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		tb:        tb,
		store:     st,
		picker:    pk,
		registry:  reg,
		jobFor:    jobFor,
		sessions:  session.NewStore(0),
		brands:    brands,
		owner:     owner,
		log:       log,
		stopSweep: make(chan struct{}),
	}
	sort.Slice(b.brands, func(i, j int) bool { return b.brands[i].Key < b.brands[j].Key })
	b.registerHandlers()
	return b, nil
}

// Start begins long polling. Blocks until Stop.
func (b *Bot) Start() {
	go b.sweepLoop()
	b.tb.Start()
}

func (b *Bot) Stop() {
	close(b.stopSweep)
	b.tb.Stop()
}

func (b *Bot) sweepLoop() {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-b.stopSweep:
			return
		case <-t.C:
			if n := b.sessions.Sweep(); n > 0 {
				b.log.Debug("sessions swept", logx.Int("removed", n))
			}
		}
	}
}

// onlyOwner drops updates from anyone but the configured operator.
func (b *Bot) onlyOwner(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil || sender.ID != b.owner {
			return nil
		}
		return next(c)
	}
}

func (b *Bot) registerHandlers() {
	b.tb.Use(b.onlyOwner)
	b.tb.Handle("/start", b.handleHelp)
	b.tb.Handle("/help", b.handleHelp)
	b.tb.Handle("/triggers", b.handleTriggers)
	b.tb.Handle(tele.OnText, b.handleText)
	b.tb.Handle(tele.OnPhoto, b.handlePhoto)
	b.tb.Handle(tele.OnCallback, b.handleCallback)
}

func (b *Bot) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

func (b *Bot) brand(key string) (Brand, bool) {
	for _, br := range b.brands {
		if br.Key == key {
			return br, true
		}
	}
	return Brand{}, false
}

func (b *Bot) brandTitle(key string) string {
	if br, ok := b.brand(key); ok && br.Title != "" {
		return br.Title
	}
	return key
}

func (b *Bot) brandList(prefix string) string {
	var sb strings.Builder
	for _, br := range b.brands {
		sb.WriteString("/" + prefix + "_" + br.Key)
		if br.Title != "" {
			sb.WriteString(" — " + br.Title)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
