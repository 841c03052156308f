// Package app wires the engine together: config, store, picker,
// schedule registry, sinks, the operator bot, and process lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	tele "gopkg.in/telebot.v4"

	"github.com/torgash1221/ig-autoposter/internal/bot"
	"github.com/torgash1221/ig-autoposter/internal/caption"
	"github.com/torgash1221/ig-autoposter/internal/cloud"
	"github.com/torgash1221/ig-autoposter/internal/config"
	"github.com/torgash1221/ig-autoposter/internal/picker"
	"github.com/torgash1221/ig-autoposter/internal/publish"
	"github.com/torgash1221/ig-autoposter/internal/schedule"
	"github.com/torgash1221/ig-autoposter/internal/sink"
	"github.com/torgash1221/ig-autoposter/internal/sink/instagram"
	tgsink "github.com/torgash1221/ig-autoposter/internal/sink/telegram"
	"github.com/torgash1221/ig-autoposter/internal/store"
	logx "github.com/torgash1221/ig-autoposter/pkg/logx"
)

type App struct {
	manager  *config.Manager
	cfg      *config.Config
	log      logx.Logger
	store    *store.Store
	registry *schedule.Registry
	runner   *publish.Runner
	tb       *tele.Bot
	bot      *bot.Bot
	tgSink   *tgsink.Sink

	// per-brand instagram clients, keyed by brand key
	igClients map[string]*instagram.Client

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(ctx context.Context, cfgPath string) (*App, error) {
	manager := config.NewManager(cfgPath)
	cfg, err := manager.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	console := true
	if cfg.Logging.Console != nil {
		console = *cfg.Logging.Console
	}
	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	manager.SetLogger(log)

	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: config.ParseDur(cfg.Storage.BusyTimeout, 0),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: config.ParseDur(cfg.Telegram.PollTimeout, 10*time.Second)},
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("telegram bot: %w", err)
	}

	titles := map[string]string{}
	var brands []bot.Brand
	for _, b := range cfg.Brands {
		titles[b.Key] = b.Title
		brands = append(brands, bot.Brand{Key: b.Key, Title: b.Title})
	}

	tgSink, err := tgsink.New(tb, cfg.Telegram.OwnerChatID, titles, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	igClients := map[string]*instagram.Client{}
	for _, b := range cfg.Brands {
		if b.SinkOrDefault() != config.SinkInstagram {
			continue
		}
		c, err := instagram.New(instagram.Config{
			UserID:      b.Instagram.UserID,
			AccessToken: b.Instagram.AccessToken,
			APIVersion:  b.Instagram.APIVersion,
		}, log.With(logx.String("brand", b.Key)))
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("brand %q: %w", b.Key, err)
		}
		igClients[b.Key] = c
	}

	var cloudSrc *cloud.Source
	if cfg.S3 != nil {
		cloudSrc, err = cloud.New(ctx, cloud.Config{
			EndpointURL:     cfg.S3.EndpointURL,
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			StateKey:        cfg.S3.StateKey,
			PresignExpiry:   config.ParseDur(cfg.S3.PresignExpiry, time.Hour),
		}, log)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("cloud source: %w", err)
		}
	}

	var capCfg caption.Config
	if cfg.Caption != nil {
		capCfg = caption.Config{
			Enabled:  cfg.Caption.Enabled,
			APIKey:   cfg.Caption.APIKey,
			APIURL:   cfg.Caption.APIURL,
			Model:    cfg.Caption.Model,
			MaxChars: cfg.Caption.MaxChars,
		}
	}
	captions := caption.New(capCfg, log)

	pk := picker.New(st, nil)

	registry, err := schedule.New(cfg.Scheduler.Timezone, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var lister publish.Lister
	if cloudSrc != nil {
		lister = cloudSrc
	}
	runner := publish.NewRunner(st, pk, captions, tgSink, lister, log)

	a := &App{
		manager:   manager,
		cfg:       cfg,
		log:       log,
		store:     st,
		registry:  registry,
		runner:    runner,
		tb:        tb,
		tgSink:    tgSink,
		igClients: igClients,
	}

	a.bot, err = bot.New(tb, st, pk, registry, a.jobFactory, brands, cfg.Telegram.OwnerChatID, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

// sinkFor resolves a brand's configured sink adapter.
func (a *App) sinkFor(b *config.BrandConfig) sink.Sink {
	if b.SinkOrDefault() == config.SinkInstagram {
		if c, ok := a.igClients[b.Key]; ok {
			return c
		}
	}
	return a.tgSink
}

// buildJob translates brand config into the runner's job parameters.
func (a *App) buildJob(b *config.BrandConfig, story bool) publish.Job {
	count := 1
	prefix := b.S3PrefixPosts
	if story {
		count = b.StoriesPerRunOrDefault()
		prefix = b.S3PrefixStories
	}
	isIG := b.SinkOrDefault() == config.SinkInstagram
	policy := picker.Policy(b.PickerOrDefault())
	return publish.Job{
		Business: b.Key,
		Policy:   policy,
		Tag:      b.Tag,
		Sink:     a.sinkFor(b),
		Story:    story,
		Count:    count,
		Prefix:   prefix,
		NeedURL:  isIG || policy == picker.PolicyListing,
		Brand: caption.Brand{
			Name:     b.Title,
			Language: b.Language,
			Tone:     b.Tone,
			Hashtags: b.Hashtags,
		},
		Captions: !story,
	}
}

// jobFactory serves both the registry's LoadAll and the bot's live
// /schedule additions. Unknown brands yield nil (entry skipped).
func (a *App) jobFactory(business, _ string) schedule.Job {
	var brand *config.BrandConfig
	for i := range a.cfg.Brands {
		if a.cfg.Brands[i].Key == business {
			brand = &a.cfg.Brands[i]
			break
		}
	}
	if brand == nil {
		return nil
	}
	job := a.buildJob(brand, false)
	return func(ctx context.Context) {
		a.runner.Run(ctx, job)
	}
}

// registerConfigSchedules registers the triggers declared in config.
// Registration is idempotent per (business, spec), so calling this
// again after a config reload replaces rather than duplicates.
func (a *App) registerConfigSchedules(cfg *config.Config) {
	for i := range cfg.Brands {
		b := &cfg.Brands[i]
		for _, spec := range b.SchedulePosts {
			job := a.buildJob(b, false)
			if err := a.registry.Register(b.Key, spec, func(ctx context.Context) { a.runner.Run(ctx, job) }); err != nil {
				a.log.Warn("post schedule skipped",
					logx.String("business", b.Key), logx.String("spec", spec), logx.Err(err))
			}
		}
		for _, spec := range b.ScheduleStories {
			job := a.buildJob(b, true)
			if err := a.registry.Register(b.Key, spec, func(ctx context.Context) { a.runner.Run(ctx, job) }); err != nil {
				a.log.Warn("story schedule skipped",
					logx.String("business", b.Key), logx.String("spec", spec), logx.Err(err))
			}
		}
	}
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	// Persisted entries first, then config-declared ones; both go
	// through the same replace-on-register path.
	if err := a.registry.LoadAll(runCtx, a.store, func(e store.ScheduleEntry) schedule.Job {
		return a.jobFactory(e.Business, e.TimeSpec)
	}); err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	a.registerConfigSchedules(a.cfg)

	a.registry.Start(runCtx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.bot.Start()
	}()

	// Config watch: on reload, re-register schedule triggers for known
	// brands. Structural changes (new brands, new sinks) need a restart.
	updates := a.manager.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.manager.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case cfg := <-updates:
				if cfg == nil {
					continue
				}
				a.registerConfigSchedules(cfg)
			}
		}
	}()

	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err == nil && sent {
		a.log.Debug("systemd readiness notified")
	}
	a.log.Info("started",
		logx.Int("brands", len(a.cfg.Brands)),
		logx.String("tz", a.registry.Location().String()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.cancel != nil {
		a.cancel()
	}
	a.registry.Stop(ctx)
	a.bot.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("shutdown timed out; exiting anyway")
	}

	var errs []string
	if err := a.store.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := a.log.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown: %s", strings.Join(errs, "; "))
	}
	return nil
}
