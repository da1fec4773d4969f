package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/docrules/internal/action"
	"github.com/gyaneshwarpardhi/docrules/internal/api"
	"github.com/gyaneshwarpardhi/docrules/internal/audit"
	"github.com/gyaneshwarpardhi/docrules/internal/config"
	"github.com/gyaneshwarpardhi/docrules/internal/engine"
	"github.com/gyaneshwarpardhi/docrules/internal/memstore"
	"github.com/gyaneshwarpardhi/docrules/internal/messaging"
	"github.com/gyaneshwarpardhi/docrules/internal/rule"
	"github.com/gyaneshwarpardhi/docrules/internal/scheduler"
	"github.com/gyaneshwarpardhi/docrules/internal/store/postgres"
	"github.com/gyaneshwarpardhi/docrules/internal/webhook"
)

const shutdownTimeout = 15 * time.Second

func serveCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the event engine, the scheduler and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(g, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides http.addr)")
	return cmd
}

func serve(g *globals, addr string) error {
	loader, err := config.NewLoader(g.configPath, nil)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	logger := g.logger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Rule store and audit sink ────────────────────────────────────────────
	var (
		store rule.Store = rule.NewInMemoryStore()
		sink  audit.Sink = audit.LogSink{Logger: logger}
		ready func(context.Context) error
	)
	if dsn := cfg.Postgres.DSN; dsn != "" {
		if cfg.Postgres.MigrateOnStart {
			if err := postgres.Migrate(dsn); err != nil {
				return err
			}
			logger.Info("database migrations applied")
		}
		db, err := postgres.Open(ctx, dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		store = postgres.NewRuleStore(db)
		sink = postgres.NewAuditSink(db)
		ready = db.PingContext
		logger.Info("using postgres rule store")
	} else {
		logger.Warn("no postgres.dsn configured, rules are kept in memory")
	}
	if ttl := cfg.Engine.RuleCacheTTL(); ttl > 0 {
		store = rule.NewCachedStore(store, rule.NewInMemoryCache(ttl))
	}
	rules := rule.NewService(store, rule.WithLogger(logger))

	// ── Declarative rules, re-seeded on every config change ─────────────────
	seed := func(c *config.Config) {
		res, err := rules.Seed(ctx, c.Rules)
		if err != nil {
			logger.Error("seeding declarative rules failed", "err", err)
		}
		logger.Info("declarative rules seeded", "created", len(res.Created), "updated", len(res.Updated))
	}
	seed(cfg)
	loader.OnChange(seed)
	stopWatch, err := loader.Watch()
	if err != nil {
		logger.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	// ── Collaborators ───────────────────────────────────────────────────────
	docs := memstore.New()
	disp := &action.Dispatcher{
		Tags:       docs,
		Categories: docs,
		Nodes:      docs,
		Documents:  docs,
		Notifier:   messaging.LogNotifier{Logger: logger},
		Webhooks:   webhook.New(cfg.Webhook.Timeout(), webhook.WithLogger(logger)),
		BaseURL:    cfg.Webhook.BaseURL,
		Logger:     logger,
	}
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = messaging.Connect(cfg.NATS.URL, appName, logger)
		if err != nil {
			return err
		}
		defer nc.Close()
		disp.Notifier = messaging.NewNotifier(nc, cfg.NATS.NotificationSubject)
		disp.Workflows = messaging.NewWorkflowStarter(nc, cfg.NATS.WorkflowSubject)
	}

	// ── Engine and event intake ─────────────────────────────────────────────
	eng := engine.New(store, disp, engine.WithFolders(docs), engine.WithLogger(logger))
	intake := documentIngest{docs: docs, eng: eng}
	sub := messaging.NewSubscriber(ctx, intake, cfg.Engine.EventWorkers, cfg.Engine.QueueDepth, logger,
		messaging.WithFolderRegistry(docs))
	defer sub.Close()
	if nc != nil {
		if err := sub.Subscribe(nc, cfg.NATS.EventSubject); err != nil {
			return err
		}
	}

	deps := api.Deps{
		Rules:    rules,
		Events:   intake,
		Queue:    sub,
		Folders:  docs,
		Reloader: loader,
		Ready:    ready,
		Logger:   logger,
	}

	// ── Scheduler ───────────────────────────────────────────────────────────
	if cfg.Scheduler.IsEnabled() {
		sched := scheduler.New(store, eng, docs, sink, scheduler.Config{
			PollInterval:     cfg.Scheduler.PollInterval(),
			Workers:          cfg.Scheduler.Workers,
			FirstRunLookback: cfg.Scheduler.FirstRunLookback(),
			QueryTimeout:     cfg.Scheduler.QueryTimeout(),
		}, scheduler.WithLogger(logger))
		deps.Scheduler = sched
		// the in-flight batch finishes before the store closes
		defer background(stop, func() { sched.Run(ctx) })()
	} else {
		logger.Info("scheduler disabled")
	}

	// ── HTTP server ─────────────────────────────────────────────────────────
	if addr == "" {
		addr = cfg.HTTP.Addr
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.New(deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout(),
		WriteTimeout: cfg.HTTP.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr, "version", Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ───────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown incomplete", "err", err)
	}
	logger.Info("goodbye")
	return nil
}

// background runs fn in its own goroutine. The returned func cancels through
// stop and blocks until fn has returned.
func background(stop context.CancelFunc, fn func()) (join func()) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return func() {
		stop()
		<-done
	}
}
