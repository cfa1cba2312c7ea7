package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"support-bot/backup"
	"support-bot/bot"
	"support-bot/clock"
	"support-bot/config"
	"support-bot/dashboard"
	"support-bot/events"
	"support-bot/handlers"
	"support-bot/lang"
	"support-bot/logging"
	"support-bot/notify"
	"support-bot/stats"
	"support-bot/storage"
	"support-bot/ticket"
	"support-bot/transcript"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 15 * time.Second
	// sweepInterval backs up the escalation timers, e.g. after the host slept.
	sweepInterval = 5 * time.Minute
)

func main() {
	flags := pflag.NewFlagSet("support-bot", pflag.ContinueOnError)
	configPath := flags.String("config", "config.json", "path to the config file")
	envPath := flags.String("env", ".env", "path to a .env file with secrets")
	cleanup := flags.Bool("cleanup", false, "remove slash commands on shutdown")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envPath, err)
		os.Exit(1)
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Discord.Token == "" || cfg.Discord.Token == "YOUR_DISCORD_BOT_TOKEN_HERE" {
		fmt.Fprintln(os.Stderr, "set your bot token in config.json → discord.token or DISCORD_TOKEN")
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := run(cfg, *configPath, *cleanup, log); err != nil {
		log.Fatal("bot stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, configPath string, cleanup bool, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()
	loc := cfg.Location()

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("closing storage failed", zap.Error(err))
		}
	}()

	var locker ticket.Locker = ticket.NewLocalLocker()
	if cfg.Redis.Enabled {
		rdb, err := storage.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		locker = storage.NewRedisLocker(rdb, cfg.Redis.LockTTL.Duration)
		log.Info("using redis ticket locks", zap.String("addr", cfg.Redis.Addr))
	}

	text := lang.New(cfg.Language.Default, log)
	if err := text.LoadFile(cfg.Language.File); err != nil {
		log.Warn("language file not loaded, messages will show missing keys", zap.Error(err))
	}
	if err := text.Bind(ctx, store); err != nil {
		log.Warn("language settings not loaded", zap.Error(err))
	}

	statsMgr := stats.New(stats.Config{
		ReportDir: filepath.Join(cfg.Data.Dir, "reports"),
		Location:  loc,
	}, store, clk, log)
	if err := statsMgr.Load(ctx); err != nil {
		log.Warn("statistics not loaded, starting from zero", zap.Error(err))
	}

	bus := events.NewBus()
	defer bus.Close()
	publisher := events.Multi{bus}
	if cfg.Broker.Enabled {
		amqpPub := events.NewAMQPPublisher(cfg.Broker.URL, cfg.Broker.Queue, log)
		defer amqpPub.Close()
		publisher = append(publisher, amqpPub)
	}

	sched := notify.NewScheduler(clk, log)
	defer sched.Stop()

	b, err := bot.New(cfg, log)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	gw := handlers.NewGateway(b.Session, cfg)

	notifier := notify.New(gw, text, notify.Config{
		ManagerRoles: cfg.Tickets.ManagerRoles,
		LogChannel:   cfg.Tickets.LogsChannel,
	}, log)

	transcripts := transcript.NewManager(transcript.Config{Dir: cfg.Data.Dir, Location: loc}, gw, gw.IsStaff, clk, log)

	svc, err := ticket.NewService(ticket.Config{
		Categories:    cfg.CategoryIDs(),
		MaxPerDay:     cfg.Tickets.MaxTicketsPerDay,
		CloseDelay:    cfg.Tickets.CloseDelay.Duration,
		SurveyDelay:   cfg.Tickets.SurveyDelay.Duration,
		ReminderAfter: cfg.Tickets.ReminderAfter.Duration,
		Location:      loc,
	}, ticket.Deps{
		Repo:        store,
		Platform:    gw,
		Stats:       statsMgr,
		Notifier:    notifier,
		Scheduler:   sched,
		Transcripts: transcripts,
		Events:      publisher,
		Locker:      locker,
		Clock:       clk,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("create ticket service: %w", err)
	}
	defer svc.Shutdown()
	if err := svc.Load(ctx); err != nil {
		return fmt.Errorf("load tickets: %w", err)
	}

	backups := backup.New(filepath.Join(cfg.Data.Dir, "backups"), store, clk, log)

	var dash *dashboard.Server
	if cfg.Dashboard.Secret != "" {
		dash = dashboard.New(dashboard.Config{
			Addr:      cfg.Dashboard.Addr,
			PublicURL: cfg.Dashboard.PublicURL,
			Secret:    cfg.Dashboard.Secret,
			TokenTTL:  cfg.Dashboard.TokenTTL.Duration,
		}, statsMgr, svc, bus, clk, log)
		if cfg.Dashboard.Enabled {
			if err := dash.Start(); err != nil {
				log.Error("dashboard failed to start", zap.Error(err))
			}
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := dash.Shutdown(sctx); err != nil {
				log.Warn("dashboard shutdown failed", zap.Error(err))
			}
		}()
	}

	h := handlers.New(handlers.Deps{
		Config:      cfg,
		ConfigPath:  configPath,
		Gateway:     gw,
		Tickets:     svc,
		Stats:       statsMgr,
		Text:        text,
		Transcripts: transcripts,
		Backups:     backups,
		Dashboard:   dash,
		Store:       store,
		Clock:       clk,
		Logger:      log,
		Reload: func(ctx context.Context) error {
			if err := svc.Reload(ctx); err != nil {
				return err
			}
			if err := statsMgr.Load(ctx); err != nil {
				return err
			}
			return text.Bind(ctx, store)
		},
	})
	h.Register(b.Session)

	if err := b.Start(); err != nil {
		return fmt.Errorf("start bot: %w", err)
	}
	defer b.Stop()

	// Escalation timers call out to Discord, so they are armed after the
	// gateway is open.
	svc.RestoreEscalations(ctx)

	go sweepEscalations(ctx, svc, log)

	regCtx, cancel := context.WithTimeout(ctx, time.Minute)
	_, err = b.RegisterCommands(regCtx, handlers.Commands(cfg))
	cancel()
	if err != nil {
		log.Error("slash commands not registered", zap.Error(err))
	}

	log.Info("bot is running, press Ctrl+C to exit")
	<-ctx.Done()
	log.Info("shutting down")

	if cleanup {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		b.CleanupCommands(cctx)
		cancel()
	}
	return nil
}

func sweepEscalations(ctx context.Context, svc *ticket.Service, log *zap.Logger) {
	tick := time.NewTicker(sweepInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if n := svc.SweepEscalations(ctx); n > 0 {
				log.Info("overdue escalations swept", zap.Int("count", n))
			}
		}
	}
}
