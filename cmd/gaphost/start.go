package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/gaphost/internal/api"
	"github.com/mattjoyce/gaphost/internal/auth"
	"github.com/mattjoyce/gaphost/internal/bootstrap"
	"github.com/mattjoyce/gaphost/internal/bridge"
	"github.com/mattjoyce/gaphost/internal/config"
	"github.com/mattjoyce/gaphost/internal/device"
	"github.com/mattjoyce/gaphost/internal/events"
	"github.com/mattjoyce/gaphost/internal/journal"
	"github.com/mattjoyce/gaphost/internal/jsapi"
	"github.com/mattjoyce/gaphost/internal/lock"
	"github.com/mattjoyce/gaphost/internal/log"
	"github.com/mattjoyce/gaphost/internal/queue"
	"github.com/mattjoyce/gaphost/internal/storage"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

type pageScript struct {
	name string
	src  string
}

// host is one wired shim: queue, bootstrap, navigator, JS runtime and API.
type host struct {
	cfg       *config.Config
	logger    *slog.Logger
	hub       *events.Hub
	journal   *journal.Journal
	queue     *queue.Queue
	document  *bootstrap.Document
	scheduler *bootstrap.Scheduler
	navigator *device.Navigator
	js        *jsapi.Host
	api       *api.Server
}

// buildBridge picks the downstream transport and wraps it in the journal.
func buildBridge(cfg *config.Config, db *sql.DB) (*journal.Journal, error) {
	var next bridge.Bridge
	switch cfg.Bridge.Transport {
	case config.TransportLog:
		next = bridge.NewLogger(log.WithComponent("bridge"))
	case config.TransportHTTP:
		next = bridge.NewHTTP(cfg.Bridge.URL, cfg.Bridge.Timeout)
	case config.TransportJournal:
		// record only
	default:
		return nil, fmt.Errorf("unknown bridge transport %q", cfg.Bridge.Transport)
	}
	return journal.New(db, next, log.WithComponent("journal")), nil
}

func buildHost(cfg *config.Config, db *sql.DB) (*host, error) {
	logger := log.WithComponent("host")
	hub := events.NewHub(256)

	jrnl, err := buildBridge(cfg, db)
	if err != nil {
		return nil, err
	}

	available := bridge.Available(cfg.Device.UUID)
	q := queue.New(jrnl, queue.Options{
		Interval:   cfg.Queue.Interval,
		MaxPending: cfg.Queue.MaxPending,
		Available:  available,
		Events:     hub,
		Logger:     log.WithComponent("queue"),
	})

	initial, err := bootstrap.ParseReadyState(cfg.Bootstrap.ReadyState)
	if err != nil {
		return nil, err
	}
	doc := bootstrap.NewDocument(initial, hub)
	sched := bootstrap.New(doc, nil, hub, log.Get())

	info := device.Device{
		Available: available,
		Platform:  cfg.Device.Platform,
		Version:   cfg.Device.Version,
		Gap:       cfg.Device.Gap,
		UUID:      cfg.Device.UUID,
	}
	nav := device.NewNavigator()
	device.InstallAll(sched, nav, device.Deps{Commander: q, Device: info})

	js, err := jsapi.New(jsapi.Options{
		Commander: q,
		Scheduler: sched,
		Document:  doc,
		Navigator: nav,
		Device:    info,
		Logger:    log.Get(),
	})
	if err != nil {
		return nil, err
	}

	h := &host{
		cfg:       cfg,
		logger:    logger,
		hub:       hub,
		journal:   jrnl,
		queue:     q,
		document:  doc,
		scheduler: sched,
		navigator: nav,
		js:        js,
	}

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		h.api = api.New(api.Config{
			Listen:         cfg.API.Listen,
			APIKey:         cfg.API.Auth.APIKey,
			Tokens:         tokens,
			AllowedOrigins: cfg.API.CORS.AllowedOrigins,
		}, api.Deps{
			Queue:     q,
			Document:  doc,
			Bootstrap: sched,
			Navigator: nav,
			Journal:   jrnl,
			Events:    hub,
		}, log.WithComponent("api"))
	}
	return h, nil
}

// run drives the host until ctx is cancelled or a component fails. Page
// scripts are evaluated in order; the document then becomes complete
// unless holdReady is set.
func (h *host) run(ctx context.Context, scripts []pageScript, holdReady bool) error {
	defer h.navigator.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(h.queue.Start(ctx)) })
	g.Go(func() error { return ignoreCanceled(h.scheduler.Run(ctx)) })
	if h.api != nil {
		g.Go(func() error {
			if err := ignoreCanceled(h.api.Start(ctx)); err != nil {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		for _, s := range scripts {
			if _, err := h.js.RunScript(ctx, s.name, s.src); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				h.logger.Error("page script failed", "script", s.name, "error", err)
			}
		}
		if holdReady {
			return nil
		}
		if err := h.document.SetReadyState(bootstrap.StateComplete); err != nil {
			h.logger.Warn("could not complete document", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func loadScripts(paths []string) ([]pageScript, error) {
	scripts := make([]pageScript, 0, len(paths))
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read script: %w", err)
		}
		scripts = append(scripts, pageScript{name: filepath.Base(p), src: string(src)})
	}
	return scripts, nil
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DiscoverConfigPath()
}

func runStart(args []string) int {
	var scriptPaths stringList
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	fs.Var(&scriptPaths, "script", "Page script to evaluate (repeatable)")
	holdReady := fs.Bool("hold-ready", false, "Leave the document state to the API after scripts run")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	scripts, err := loadScripts(scriptPaths)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("gaphost starting", "version", version, "config", path)

	lockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.Acquire(lockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", lockPath, "error", err)
		return 1
	}
	defer pidLock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()

	h, err := buildHost(cfg, db)
	if err != nil {
		logger.Error("failed to build host", "error", err)
		return 1
	}

	logger.Info("gaphost running (press Ctrl+C to stop)",
		"bridge_available", h.queue.Available(),
		"transport", cfg.Bridge.Transport,
		"interval", h.queue.Interval(),
		"api", cfg.API.Enabled,
		"scripts", len(scripts),
	)

	if err := h.run(ctx, scripts, *holdReady); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}

	logger.Info("gaphost stopped")
	return 0
}
