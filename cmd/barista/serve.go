package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"barista/internal/api"
	"barista/internal/database"
	"barista/internal/device"
	"barista/internal/executor"
	"barista/internal/monitoring"
	"barista/internal/notify"
	"barista/internal/recipes"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recipe executor with its HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// app holds everything serve wires together
type app struct {
	log *zap.SugaredLogger

	dev     device.Device
	mqtt    *device.MQTT
	store   executor.StatsStore
	history database.History
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	zl, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer zl.Sync()
	log := zl.Sugar()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{log: log}
	defer a.close()

	if err := a.openDevice(ctx); err != nil {
		return err
	}
	if err := a.openStats(ctx); err != nil {
		return err
	}

	notifier := a.notifier()
	ctrl := executor.New(cfg.ExecutorConfig(), a.dev, a.store, notifier, log.Named("executor"))
	if err := ctrl.Initialize(ctx); err != nil {
		log.Warnw("starting with empty brew statistics", "error", err)
	}

	store := recipes.NewStorage(cfg.RecipesFile, log.Named("recipes"))
	if err := store.Load(); err != nil {
		return err
	}

	monitor := monitoring.NewMonitor()
	events, stopEvents := ctrl.FollowEvents()
	states, stopStates := ctrl.FollowStates()
	defer stopEvents()
	defer stopStates()
	go monitor.Run(ctx, events, states)

	// the history feed closes after ctrl.Close, so runs ended by shutdown are recorded too
	historyDone := make(chan struct{})
	if a.history != nil {
		historyEvents, stopHistory := ctrl.FollowEvents()
		defer stopHistory()
		go func() {
			defer close(historyDone)
			database.NewHistoryRecorder(a.history, log.Named("database")).Run(context.Background(), historyEvents)
		}()
	} else {
		close(historyDone)
	}

	apiServer := api.NewServer(api.Options{
		Executor:    ctrl,
		Recipes:     store,
		History:     a.history,
		Notifier:    notifier,
		JWTSecret:   cfg.API.JWTSecret,
		NotifyTitle: cfg.Notify.Title,
		Log:         log.Named("api"),
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.API.Port),
		Handler: apiServer.Router,
	}
	var metricsServer *http.Server
	if cfg.API.MetricsPort > 0 {
		metricsServer = startMetricsServer(cfg.API.MetricsPort, monitor, log)
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting API server", "port", cfg.API.Port)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Infow("shutting down servers")
	case err := <-serverErr:
		if err != nil {
			log.Errorw("API server error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("API server shutdown error", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Errorw("metrics server shutdown error", "error", err)
		}
	}
	if err := ctrl.Close(shutdownCtx); err != nil {
		log.Errorw("executor shutdown error", "error", err)
	}
	select {
	case <-historyDone:
	case <-shutdownCtx.Done():
		log.Warnw("execution history not fully written before shutdown")
	}
	return nil
}

func (a *app) openDevice(ctx context.Context) error {
	switch cfg.Device.Backend {
	case "memory":
		a.dev = device.NewMemory()
	case "sim":
		sim := device.NewSimulator(cfg.SimulatorDeviceConfig(), a.log.Named("device.sim"))
		a.dev = sim
		a.closers = append(a.closers, sim.Close)
	case "mqtt":
		m := device.NewMQTT(cfg.MQTTDeviceConfig(), a.log.Named("device.mqtt"))
		connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := m.Connect(connectCtx); err != nil {
			return fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Device.MQTT.Broker, err)
		}
		a.mqtt = m
		a.dev = m
		a.closers = append(a.closers, m.Disconnect)
	default:
		return fmt.Errorf("unknown device backend %q", cfg.Device.Backend)
	}
	a.log.Infow("device ready", "backend", cfg.Device.Backend)
	return nil
}

func (a *app) openStats(ctx context.Context) error {
	switch cfg.Stats.Backend {
	case "sqlite", "postgres":
		db, err := database.InitDB(cfg.Stats.Backend, cfg.Stats.DSN)
		if err != nil {
			return err
		}
		gs := database.NewGormStore(db, a.log.Named("database"))
		a.store, a.history = gs, gs
		a.closers = append(a.closers, func() { database.CloseDB() })
	case "redis":
		rs := database.NewRedisStore(database.RedisConfig{
			Addr:        cfg.Stats.Redis.Addr,
			Password:    cfg.Stats.Redis.Password,
			DB:          cfg.Stats.Redis.DB,
			Key:         cfg.Stats.Redis.Key,
			HistoryKey:  cfg.Stats.Redis.HistoryKey,
			HistorySize: cfg.Stats.Redis.HistorySize,
		}, a.log.Named("database"))
		if err := rs.Ping(ctx); err != nil {
			rs.Close()
			return err
		}
		a.store, a.history = rs, rs
		a.closers = append(a.closers, func() { rs.Close() })
	case "none":
		a.log.Warnw("brew statistics will not be persisted")
	}
	return nil
}

func (a *app) notifier() notify.Notifier {
	sinks := notify.Multi{notify.NewLogNotifier(a.log.Named("notify"))}
	if cfg.Notify.MQTTTopic != "" && a.mqtt != nil {
		sinks = append(sinks, notify.NewMQTTNotifier(a.mqtt, cfg.Notify.MQTTTopic))
	}
	return sinks
}

func startMetricsServer(port int, monitor *monitoring.Monitor, log *zap.SugaredLogger) *http.Server {
	metricsRouter := gin.New()
	metricsRouter.Use(gin.Recovery())
	metricsRouter.GET("/metrics", gin.WrapH(monitor.Handler()))

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: metricsRouter,
	}

	go func() {
		log.Infow("starting metrics server", "port", port)
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server error", "error", err)
		}
	}()
	return metricsServer
}
