package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/harryaskham/io-mcp/internal/collab"
	"github.com/harryaskham/io-mcp/internal/config"
	"github.com/harryaskham/io-mcp/internal/diag"
	"github.com/harryaskham/io-mcp/internal/dispatch"
	"github.com/harryaskham/io-mcp/internal/eventbus"
	"github.com/harryaskham/io-mcp/internal/health"
	"github.com/harryaskham/io-mcp/internal/httpapi"
	"github.com/harryaskham/io-mcp/internal/notify"
	"github.com/harryaskham/io-mcp/internal/process"
	"github.com/harryaskham/io-mcp/internal/session"
	"github.com/harryaskham/io-mcp/internal/tts"
	"github.com/harryaskham/io-mcp/internal/uistate"
)

// runServe wires every broker component together and blocks serving until
// a shutdown signal arrives.
func runServe(cmd *cobra.Command, configPath string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}
	log := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log.Info("starting io-mcp broker", "version", version, "config", configPath)

	sup := process.New(log)
	ttsCfg := &tts.Config{
		BinaryPath:     cfg.TTS.BinaryPath,
		CacheDir:       cfg.TTS.CacheDir,
		TimeoutSeconds: cfg.TTS.TimeoutSeconds,
		Voice:          cfg.TTS.Voice,
		Emotion:        cfg.TTS.Emotion,
		Model:          cfg.TTS.Model,
		Speed:          cfg.TTS.Speed,
	}
	ttsCfg.ApplyDefaults()
	ttsEng := tts.New(ttsCfg, sup, log)

	bus := eventbus.New(eventbus.DefaultQueueSize, log)

	console := collab.New(os.Stdin, os.Stdout, ttsEng, log)
	manager := session.NewManager(console, bus, log)

	if records := manager.LoadRegistered(cfg.State.RegisteredFile); len(records) > 0 {
		manager.SetLoaded(records)
		log.Info("loaded persisted session registry", "count", len(records))
	}
	stopWatch := manager.WatchRegisteredFile(cfg.State.RegisteredFile, manager.SetLoaded)
	defer stopWatch()

	uiStore := uistate.New(cfg.State.UIStateFile, log)
	stopUIWatch := uiStore.Watch()
	defer stopUIWatch()

	notifyDispatcher := notify.New(cfg.Notify.ToChannels(), log)
	notifyDispatcher.Enabled = cfg.Notify.Enabled

	monitor := health.New(manager, bus, nil, log)
	monitor.SetThresholds(cfg.Health.CheckInterval(), cfg.Health.WarningThreshold(), cfg.Health.UnresponsiveThreshold())
	if err := prometheus.Register(monitor.Collector()); err != nil {
		log.Warn("failed to register health metrics", "err", err)
	}

	d := dispatch.New(manager, bus, ttsEng, cfg.State.RegisteredFile, log)

	healthSub := bus.Subscribe()
	defer healthSub.Unsubscribe()
	go forwardHealthEventsToNotify(healthSub, notifyDispatcher)

	api := httpapi.New(manager, bus, cfg.HTTP.FrontendAddr, version, log)
	api.SetBackendURL("http://" + cfg.HTTP.BackendAddr)
	backend := httpapi.NewBackend(d, cfg.HTTP.BackendAddr, log)
	sendAPI := httpapi.NewSendAPI(d, manager, cfg.HTTP.SendAddr, log)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	monitor.Start(ctx)

	if err := diag.WritePid(cfg.HTTP.PidFile); err != nil {
		log.Warn("failed to write pid file", "path", cfg.HTTP.PidFile, "err", err)
	}
	defer func() {
		if err := diag.RemovePid(cfg.HTTP.PidFile); err != nil {
			log.Warn("failed to remove pid file", "path", cfg.HTTP.PidFile, "err", err)
		}
	}()

	errCh := make(chan error, 3)
	go func() {
		if err := api.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := backend.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		if err := sendAPI.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	log.Info("io-mcp broker started",
		"frontend_addr", cfg.HTTP.FrontendAddr, "backend_addr", cfg.HTTP.BackendAddr,
		"send_addr", cfg.HTTP.SendAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info("shutdown signal received, draining")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := backend.Shutdown(shutdownCtx); err != nil {
		log.Warn("backend shutdown error", "err", err)
	}
	if err := sendAPI.Shutdown(shutdownCtx); err != nil {
		log.Warn("send api shutdown error", "err", err)
	}
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown error", "err", err)
	}
	monitor.Stop()
	manager.SaveRegistered(cfg.State.RegisteredFile)
	manager.Shutdown()
	ttsEng.Stop()
	sup.CancelAll()

	log.Info("io-mcp broker stopped")
	return nil
}

// forwardHealthEventsToNotify bridges bus events into the notification
// dispatcher, since notify.Dispatcher has no subscriber of its own.
func forwardHealthEventsToNotify(sub *eventbus.Subscription, notifier *notify.Dispatcher) {
	for e := range sub.Events {
		notifier.Notify(e)
	}
}
