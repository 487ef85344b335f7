package main

import (
	"fmt"
	"time"

	"coffeebot/internal/config"
	"coffeebot/internal/database"
	"coffeebot/internal/events"
	"coffeebot/internal/logger"
	"coffeebot/internal/matching"
	"coffeebot/internal/notify"
	"coffeebot/internal/runlock"
	"coffeebot/internal/service"
	"coffeebot/internal/zulip"
)

const maxConcurrentSends = 8

// app holds everything a command needs, built from configuration.
type app struct {
	cfg        *config.Config
	log        *logger.Logger
	db         *database.DB
	svc        *service.Service
	dispatcher *notify.Dispatcher
	events     *events.Manager
	closers    []func() error
}

func loadConfig(configFile string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newApp(configFile string) (*app, error) {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	cfg := a.cfg

	db, err := database.NewDB(cfg.Database.Path, a.log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	zc, err := zulip.New(zulip.Config{
		Realm:    cfg.Zulip.Realm,
		Username: cfg.Zulip.Username,
		APIKey:   cfg.Zulip.APIKey,
		StreamID: cfg.Zulip.StreamID,
	}, a.log)
	if err != nil {
		return fmt.Errorf("failed to initialize zulip client: %w", err)
	}

	var notifier notify.Notifier
	switch cfg.Notifier.Kind {
	case "amqp":
		n, err := notify.NewAMQPNotifier(cfg.Notifier.AMQPURL, cfg.Notifier.Exchange)
		if err != nil {
			return fmt.Errorf("failed to initialize amqp notifier: %w", err)
		}
		a.closers = append(a.closers, n.Close)
		notifier = n
	case "log":
		notifier = notify.NewLogNotifier(a.log)
	default:
		notifier = zc
	}
	a.dispatcher = notify.NewDispatcher(notifier, cfg.Notifier.SendTimeout, maxConcurrentSends, a.log)

	var locker runlock.Locker = runlock.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		rl, err := runlock.NewRedisLocker(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to initialize run lock: %w", err)
		}
		a.closers = append(a.closers, rl.Close)
		locker = rl
	}

	a.events = events.NewManager(len(cfg.Kafka.Brokers) > 0, a.log)
	if len(cfg.Kafka.Brokers) > 0 {
		sink := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		sink.Attach(a.events)
		a.closers = append(a.closers, sink.Close)
	}

	defaultDays, err := cfg.DefaultDays()
	if err != nil {
		return err
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	a.svc, err = service.NewService(service.Deps{
		Matches:       db,
		Preferences:   db,
		Roster:        zc,
		Notifications: a.dispatcher,
		Engine:        matching.NewEngine(cfg.Matching.FallbackEmails, nil),
		Locker:        locker,
		Events:        a.events,
		Logger:        a.log,
	}, service.Options{
		BotEmail:    zc.BotEmail(),
		DefaultDays: defaultDays,
		Location:    loc,
		RunTimeout:  cfg.Matching.RunTimeout,
	})
	return err
}

// Close drains pending notifications and events, then releases resources
// in reverse order of creation.
func (a *app) Close() {
	if a.dispatcher != nil {
		done := make(chan struct{})
		go func() {
			a.dispatcher.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(a.cfg.Notifier.SendTimeout + time.Second):
			a.log.Warn("timed out waiting for notifications")
		}
		sent, failed := a.dispatcher.Stats()
		a.log.Info("notifications drained", "sent", sent, "failed", failed)
	}
	if a.events != nil {
		a.events.Shutdown()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("failed to close resource", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close database", "error", err)
		}
	}
	a.log.Sync()
}
