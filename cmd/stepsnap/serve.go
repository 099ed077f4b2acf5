package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stepsnap/stepsnap/internal/browser"
	"github.com/stepsnap/stepsnap/internal/config"
	"github.com/stepsnap/stepsnap/internal/frontend"
	"github.com/stepsnap/stepsnap/internal/imaging"
	"github.com/stepsnap/stepsnap/internal/mock"
	"github.com/stepsnap/stepsnap/internal/persist"
	"github.com/stepsnap/stepsnap/internal/pipeline"
	"github.com/stepsnap/stepsnap/internal/session"
	"github.com/stepsnap/stepsnap/internal/ws"
)

func newServeCmd() *cobra.Command {
	var (
		port     int
		mockMode bool
		noViewer bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, mockMode, !noViewer, slog.Default())
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server port")
	cmd.Flags().BoolVar(&mockMode, "mock", false, "generate a scripted demo session instead of driving Chrome")
	cmd.Flags().BoolVar(&noViewer, "no-viewer", false, "do not serve the web viewer")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, mockMode, viewer bool, log *slog.Logger) error {
	kv, err := persist.Open(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer kv.Close()
	snap := persist.NewSnapshotter(kv, cfg.Storage.FullImageRetention)

	store := session.NewStore()
	broadcaster := ws.NewBroadcaster(store, cfg.Broadcast.Throttle, cfg.Broadcast.SnapshotInterval, cfg.Server.MaxConnections)
	defer broadcaster.Stop()
	broadcaster.SetLogger(log)
	broadcaster.SetPrivacyFilter(&session.PrivacyFilter{
		MaskValues:  cfg.Privacy.MaskValues,
		StripImages: cfg.Privacy.StripImages,
	})

	opts := pipeline.OptionsFromConfig(cfg.Capture)
	opts.Persister = snap
	opts.Logger = log
	opts.OnEvent = broadcaster.Notify

	proc := imaging.NewProcessor()
	var (
		orch     *pipeline.Orchestrator
		resolver ws.TabResolver
	)
	switch {
	case mockMode || !cfg.Browser.Enabled:
		opts.Surface = &mock.Surface{}
		orch = pipeline.New(store, mock.NewCapturer(proc, 0, 0), opts)
		if mockMode {
			log.Info("starting in mock mode")
			mock.NewGenerator(orch, 0, log).Start(ctx)
		} else {
			log.Info("browser disabled, accepting events over the message API only")
		}

	default:
		mgr := browser.NewManager(browser.Config{
			RemoteURL: cfg.Browser.RemoteURL,
			Headless:  cfg.Browser.Headless,
			Stealth:   cfg.Browser.Stealth,
			Logger:    log,
		})
		if _, err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("start browser: %w", err)
		}
		defer mgr.Close()

		tabs := browser.NewTabs(mgr, browser.Handlers{
			OnInteraction: func(_ int, ev session.InteractionEvent) {
				orch.EnsureRestored(ctx)
				orch.Post(ctx, ev)
			},
			OnPointerDown: func(tabID int) {
				orch.EnsureRestored(ctx)
				orch.Buffer(ctx, tabID)
			},
			OnToolbar: func(_ int, pos session.ToolbarPosition) {
				orch.EnsureRestored(ctx)
				orch.SaveToolbar(pos)
			},
			OnNavigate: func(tabID, frameID int, url string) {
				orch.EnsureRestored(ctx)
				orch.HandleNavigation(ctx, tabID, frameID, url)
			},
		})
		defer tabs.CloseAll()

		opts.Surface = browser.NewSurface(tabs)
		orch = pipeline.New(store, browser.NewCapturer(tabs, proc), opts)
		resolver = tabs

		if cfg.Browser.StartURL != "" {
			tab, err := tabs.Open(ctx, cfg.Browser.StartURL)
			if err != nil {
				return fmt.Errorf("open start url: %w", err)
			}
			log.Info("opened tab", "tab", tab.ID, "url", tab.URL)
		}
	}
	defer orch.Wait()

	sweeper := &persist.Sweeper{
		Snap:     snap,
		Memory:   orch,
		MaxAge:   cfg.Storage.MaxAge,
		Interval: cfg.Storage.SweepInterval,
		Logger:   log,
	}
	go sweeper.Run(ctx)

	srv := ws.NewServer(cfg.Server, ws.NewRouter(orch, resolver, log), orch, broadcaster, log)
	if viewer {
		srv.SetStaticHandler(frontend.Handler())
	}

	log.Info("stepsnap starting", "storage", cfg.Storage.Driver, "viewer", viewer)
	return ws.ListenAndServe(ctx, cfg.Addr(), srv.Handler(), log)
}
