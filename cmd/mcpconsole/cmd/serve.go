package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mcpconsole-go/internal/config"
	"mcpconsole-go/internal/console"
	"mcpconsole-go/internal/events"
	"mcpconsole-go/internal/logs"
	"mcpconsole-go/internal/processlock"
	"mcpconsole-go/internal/profile"
	"mcpconsole-go/internal/router"
	"mcpconsole-go/internal/server"
	"mcpconsole-go/internal/shutdown"
	"mcpconsole-go/internal/storage"
	"mcpconsole-go/internal/transport"
	"mcpconsole-go/internal/upstream"
)

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the console and its HTTP/WebSocket shell",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}

	logger, err := logs.SetupLogger(cfg.Logging, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	loader, err := config.NewLoader(opts.path(), logger.Named("config"), config.WithViper(opts.viper))
	if err != nil {
		return err
	}
	if cfg, err = loader.Load(); err != nil {
		return err
	}

	logger.Info("Starting mcpconsole",
		zap.String("version", Version),
		zap.String("config", loader.ConfigPath()),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("servers", len(cfg.Servers)),
		zap.Int("profiles", len(cfg.Profiles)))

	lock := processlock.New(cfg.DataDir, logger)
	if err := lock.Acquire(cfg.Listen); err != nil {
		return err
	}

	store, err := storage.NewManager(cfg.DataDir, logger.Named("storage").Sugar())
	if err != nil {
		_ = lock.Release()
		return err
	}
	protocol, err := logs.NewProtocolLog(cfg.Logging)
	if err != nil {
		_ = store.Close()
		_ = lock.Release()
		return err
	}

	bus := events.NewBus()
	servers := upstream.NewRegistry(transport.New(Version, logger), logger,
		upstream.WithEventBus(bus),
		upstream.WithTrafficRecorder(protocol),
		upstream.WithNotificationHandler(upstream.NewLoggerHandler(logger)),
		upstream.WithNotificationHandler(upstream.NewFailureFileHandler(cfg.DataDir, logger)))
	servers.Replace(cfg.Servers)

	profiles := profile.NewRegistry(servers, logger,
		profile.WithStore(store),
		profile.WithEventBus(bus))
	profiles.Replace(cfg.Profiles)

	consoleOpts := []console.Option{console.WithViewStore(store), console.WithEventBus(bus)}
	if v, err := router.ParseView(cfg.InitialView); err == nil {
		consoleOpts = append(consoleOpts, console.WithInitialView(v))
	}
	con := console.New(servers, profiles, logger, consoleOpts...)
	if err := con.Restore(); err != nil {
		logger.Warn("Failed to restore view state", zap.Error(err))
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	// the console must be subscribed before profile restore publishes
	consoleDone := con.Start(runCtx)
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		<-consoleDone
	}()
	go func() {
		defer loops.Done()
		upstream.NewHealthMonitor(servers, cfg.HealthCheckInterval.Duration(), logger).Run(runCtx)
	}()

	if act := profiles.Restore(runCtx); act != nil {
		logger.Info("Profile restore started", zap.String("activation_id", act.ID()))
	}

	if err := loader.StartWatching(func(next *config.Config) error {
		servers.Replace(next.Servers)
		profiles.Replace(next.Profiles)
		bus.Publish(events.Event{Type: events.ConfigReloaded})
		return nil
	}); err != nil {
		logger.Warn("Configuration hot reload disabled", zap.Error(err))
	}

	shell := server.New(server.Deps{
		Console:  con,
		Servers:  servers,
		Profiles: profiles,
		Bus:      bus,
		History:  store,
		Protocol: protocol,
		DataDir:  cfg.DataDir,
	}, cfg, logger)

	coordinator := shutdown.NewCoordinator(logger)
	coordinator.Register(&shutdown.Handler{
		Name:     "config-watcher",
		Phase:    shutdown.PhaseListeners,
		Priority: 10,
		Fn:       func(context.Context) error { return loader.Stop() },
	})
	coordinator.RegisterFunc("http-shell", shutdown.PhaseListeners, shell.Shutdown)
	coordinator.RegisterFunc("event-streams", shutdown.PhaseStreams, func(context.Context) error {
		shell.Streams().Stop()
		return nil
	})
	coordinator.RegisterFunc("profile-activation", shutdown.PhaseActivations, profiles.Halt)
	coordinator.RegisterFunc("upstream-servers", shutdown.PhaseUpstreams, servers.DisconnectAll)
	coordinator.RegisterFunc("background-loops", shutdown.PhaseMonitors, func(ctx context.Context) error {
		cancelRun()
		done := make(chan struct{})
		go func() {
			loops.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		bus.Close()
		return nil
	})
	coordinator.RegisterFunc("bolt", shutdown.PhaseStorage, func(context.Context) error { return store.Close() })
	coordinator.RegisterFunc("protocol-log", shutdown.PhaseStorage, func(context.Context) error { return protocol.Close() })
	coordinator.RegisterFunc("process-lock", shutdown.PhaseStorage, func(context.Context) error { return lock.Release() })
	coordinator.RegisterFunc("logger", shutdown.PhaseLogs, func(context.Context) error {
		// stdout and stderr report EINVAL on Sync on some platforms
		_ = logger.Sync()
		return nil
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- shell.ListenAndServe() }()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	case runErr = <-serveErr:
		if runErr != nil {
			logger.Error("HTTP shell failed", zap.Error(runErr))
		}
	}

	if err := coordinator.Shutdown(context.Background()); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}
