package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/myrqyry/obs-copilot-sub005/internal/action"
	"github.com/myrqyry/obs-copilot-sub005/internal/api"
	"github.com/myrqyry/obs-copilot-sub005/internal/bridge"
	"github.com/myrqyry/obs-copilot-sub005/internal/config"
	"github.com/myrqyry/obs-copilot-sub005/internal/engine"
	"github.com/myrqyry/obs-copilot-sub005/internal/feedback"
	"github.com/myrqyry/obs-copilot-sub005/internal/logger"
	"github.com/myrqyry/obs-copilot-sub005/internal/metrics"
	"github.com/myrqyry/obs-copilot-sub005/internal/obs"
	"github.com/myrqyry/obs-copilot-sub005/internal/streamerbot"
	"github.com/myrqyry/obs-copilot-sub005/internal/telemetry"
)

func serveCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Connect to OBS and Streamer.bot and run the rule engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "service config file (environment variables override it)")
	return cmd
}

func runServe(parent context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log, err := logger.New(&cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Tracing ───────────────────────────────────────────────────────────────
	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	// ── Rules ─────────────────────────────────────────────────────────────────
	loader, err := config.NewRulesLoader(cfg.Rules.Path, log)
	if err != nil {
		return err
	}
	log.Info("rules loaded", "path", cfg.Rules.Path, "rules", len(loader.RuleSet().Rules))

	// ── Feedback ──────────────────────────────────────────────────────────────
	history := feedback.NewHistory(cfg.Feedback.HistorySize)
	sinks := feedback.Fanout{feedback.NewLogSink(log), history}

	var natsBridge *bridge.NATS
	if cfg.NATS.Enabled {
		natsBridge, err = bridge.DialNATS(cfg.NATS, log)
		if err != nil {
			log.Warn("NATS bridge unavailable", "error", err)
		} else {
			defer natsBridge.Close()
			sinks = append(sinks, natsBridge)
		}
	}

	// ── Connections ───────────────────────────────────────────────────────────
	tracker := obs.NewTracker(obs.Snapshot{})

	var obsClient *obs.Client
	var obsHandler action.ObsHandler
	if cfg.OBS.Enabled {
		subs := obs.SubscribeAll
		if cfg.OBS.VolumeMeters {
			subs |= obs.SubscribeInputVolumeMeters
		}
		obsClient = obs.NewClient(obs.ClientConfig{
			URL:                cfg.OBS.URL,
			Password:           cfg.OBS.Password,
			EventSubscriptions: subs,
			RequestTimeout:     cfg.OBS.RequestTimeout,
		}, log)
		obsHandler = obs.NewActionHandler(obsClient, tracker, log)
	}

	var botClient *streamerbot.Client
	var bot action.StreamerBot
	if cfg.StreamerBot.Enabled {
		botClient = streamerbot.NewClient(streamerbot.Config{
			URL:           cfg.StreamerBot.URL,
			Password:      cfg.StreamerBot.Password,
			Subscriptions: cfg.StreamerBot.Subscriptions,
		}, log)
		bot = botClient
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	reg := action.NewRegistry(action.NewObsSink(obsHandler), action.NewStreamerBotSink(bot))
	exec := action.NewExecutor(reg, cfg.Action, log)
	eng := engine.New(ctx, cfg.Engine, exec, sinks, log)
	eng.UpdateRules(loader.RuleSet().Rules)

	// ── Hot-reload watcher ────────────────────────────────────────────────────
	loader.OnChange(func(rs *config.RuleSet) { eng.UpdateRules(rs.Rules) })
	if cfg.Rules.Watch {
		stopWatch, err := loader.Watch()
		if err != nil {
			log.Warn("rules watcher unavailable (hot-reload disabled)", "error", err)
		} else {
			defer stopWatch()
		}
	}

	// ── Event sources ─────────────────────────────────────────────────────────
	tracker.OnChange(eng.UpdateObsData)
	if obsClient != nil {
		obsClient.OnEvent(func(name string, data map[string]interface{}) {
			metrics.EventsReceived.WithLabelValues("obs").Inc()
			tracker.Apply(name, data)
			eng.ProcessEvent(name, data)
		})
		obsClient.OnConnect(func() {
			syncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := tracker.Sync(syncCtx, obsClient); err != nil {
				log.Warn("OBS state sync failed", "error", err)
			}
		})
		go obsClient.Run(ctx)
	}
	if botClient != nil {
		botClient.OnEvent(func(name string, data map[string]interface{}) {
			metrics.EventsReceived.WithLabelValues("streamerbot").Inc()
			eng.ProcessEvent(name, data)
		})
		go botClient.Run(ctx)
	}
	if cfg.MQTT.Enabled {
		mqttBridge := bridge.NewMQTT(cfg.MQTT, eng, log)
		if err := mqttBridge.Connect(ctx); err != nil {
			log.Warn("MQTT bridge unavailable", "error", err)
		} else {
			defer mqttBridge.Close()
		}
	}
	if natsBridge != nil {
		if err := natsBridge.Subscribe(eng); err != nil {
			log.Warn("NATS event subscription failed", "error", err)
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.New(eng, loader, history, log),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
		stop()
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	eng.Shutdown()
	if obsClient != nil {
		_ = obsClient.Close()
	}
	if botClient != nil {
		_ = botClient.Close()
	}
	if err := shutdownTracing(shutCtx); err != nil {
		log.Warn("tracer shutdown", "error", err)
	}
	log.Info("goodbye")
	return runErr
}
