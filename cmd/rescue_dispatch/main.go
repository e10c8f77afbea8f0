package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
	"github.com/rescuenet/dispatch/internal/config"
	"github.com/rescuenet/dispatch/internal/fanout"
	"github.com/rescuenet/dispatch/internal/fanout/ws"
	"github.com/rescuenet/dispatch/internal/fleet"
	"github.com/rescuenet/dispatch/internal/httpapi"
	"github.com/rescuenet/dispatch/internal/influx"
	"github.com/rescuenet/dispatch/internal/intake"
	"github.com/rescuenet/dispatch/internal/ledger"
	"github.com/rescuenet/dispatch/internal/logging"
	"github.com/rescuenet/dispatch/internal/mission"
	"github.com/rescuenet/dispatch/internal/notification"
	intOtel "github.com/rescuenet/dispatch/internal/otel"
	"github.com/rescuenet/dispatch/internal/stats"
	"github.com/rescuenet/dispatch/internal/team"
	"github.com/rescuenet/dispatch/internal/transport/mqtt"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// ServiceName prefixes the session log file.
const ServiceName = "rescue_dispatch"

// Version and BuildDate can be set at build time via ldflags
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

var (
	// SessionStartTime names this run's log file
	SessionStartTime = time.Now()

	// SlogManager owns the handler chain, Logger is its current output
	SlogManager *logging.SlogManager
	Logger      *slog.Logger

	// OTelProvider is nil unless otel.enabled
	OTelProvider *intOtel.Provider

	// GraylogWriter is the GELF writer, nil unless graylog.enabled
	GraylogWriter *gelf.Writer

	LogFilePath string
	LogFile     *os.File
)

func main() {
	configDir := pflag.StringP("config", "c", ".", "directory containing "+config.FileName)
	pflag.String("log-level", "", "overrides logLevel (debug, info, warn, error)")
	pflag.String("listen", "", "overrides server.address")
	pflag.Parse()

	_ = viper.BindPFlag("logLevel", pflag.Lookup("log-level"))
	_ = viper.BindPFlag("server.address", pflag.Lookup("listen"))

	if err := run(*configDir); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", ServiceName, err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "dir", configDir, "version", Version, "buildDate", BuildDate)
	}

	setupLogging()
	defer closeLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, config.GetStorageConfig(), Logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			Logger.Error("Failed to close storage", "error", err)
		}
	}()

	SlogManager.WithContext(func(context.Context) []slog.Attr {
		return []slog.Attr{slog.String("store", store.Kind())}
	})
	Logger = SlogManager.Logger()

	bus, err := fanout.New(logging.NewBusLogger(Logger))
	if err != nil {
		return fmt.Errorf("event bus: %w", err)
	}
	hub := ws.NewHub(Logger)
	bus.Register("websocket", hub.Sink)
	closers := registerStreamSinks(ctx, bus, Logger)
	Logger.Info("Event sinks registered", "sinks", bus.Sinks())

	ledgerSvc := ledger.New(ledger.Dependencies{Store: store, Events: bus, Logger: Logger})
	teams := team.New(team.Dependencies{Store: store, Events: bus, Logger: Logger})
	missions := mission.New(mission.Dependencies{Store: store, Ledger: ledgerSvc, Events: bus, Logger: Logger})
	tracker := fleet.New(fleet.Dependencies{Store: store, Events: bus, Logger: Logger})
	notifications := notification.New(store)
	adapter := intake.NewAdapter(ledgerSvc, intake.NewAuthenticator(config.GetLoraConfig().GatewayKey))

	statsDeps := stats.Dependencies{
		Rescues:  ledgerSvc,
		Teams:    teams,
		Missions: missions,
		Events:   bus,
		Logger:   Logger,
	}
	var influxManager *influx.Manager
	if ic := config.GetInfluxConfig(); ic.Enabled {
		influxManager = influx.NewManager(logging.NewZerolog(logOutput(), viper.GetString("logLevel")), ic)
		if err := influxManager.Connect(ctx); err != nil {
			Logger.Error("Failed to set up InfluxDB, stats points disabled", "error", err)
			influxManager = nil
		} else {
			statsDeps.Points = influxManager
		}
	}
	statsSvc := stats.NewService(statsDeps)
	schedule := config.GetScheduleConfig()
	if err := statsSvc.Start(schedule.Stats, schedule.Recalculate); err != nil {
		return fmt.Errorf("stats schedule: %w", err)
	}
	Logger.Info("Stats schedule started", "stats", schedule.Stats, "recalculate", schedule.Recalculate)

	var bridge *mqtt.Bridge
	if mc := config.GetMQTTConfig(); mc.Enabled {
		bridge = mqtt.New(mc, adapter, Logger)
		if err := bridge.Start(); err != nil {
			Logger.Error("Failed to start MQTT bridge", "broker", mc.Broker, "error", err)
			bridge = nil
		}
	}

	serverCfg := config.GetServerConfig()
	api := httpapi.New(httpapi.Dependencies{
		Store:         store,
		Ledger:        ledgerSvc,
		Intake:        adapter,
		Missions:      missions,
		Teams:         teams,
		Fleet:         tracker,
		Notifications: notifications,
		Stats:         statsSvc,
		Realtime:      hub,
		Logger:        Logger,
	})
	srv := &http.Server{
		Addr:         serverCfg.Address,
		Handler:      api.Handler(serverCfg.AllowedOrigins),
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		Logger.Info("HTTP server listening", "address", serverCfg.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		Logger.Info("Shutdown requested")
	case err = <-serveErr:
		Logger.Error("HTTP server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		Logger.Error("HTTP shutdown failed", "error", serr)
	}

	if bridge != nil {
		bridge.Stop()
	}
	statsSvc.Stop()
	hub.Close()
	bus.Close()
	for _, c := range closers {
		if cerr := c.Close(); cerr != nil {
			Logger.Error("Failed to close event sink", "error", cerr)
		}
	}
	if influxManager != nil {
		if cerr := influxManager.Close(); cerr != nil {
			Logger.Error("Failed to close InfluxDB", "error", cerr)
		}
	}

	Logger.Info("Stopped")
	return err
}

// setupLogging moves logging from stdout to the session log file and attaches
// the OTel and GELF outputs when configured.
func setupLogging() {
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		Logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
	}

	LogFilePath = logging.LogFilePath(logsDir, ServiceName, SessionStartTime)

	// keep a previous run with the same timestamp
	if _, err := os.Stat(LogFilePath); err == nil {
		_ = os.Rename(LogFilePath, LogFilePath+".old")
	}

	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to create/open log file!", "error", err, "path", LogFilePath)
		LogFile = nil
	} else {
		Logger.Info("Begin logging in logs directory", "path", LogFilePath)
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled && LogFile != nil {
		OTelProvider, err = intOtel.New(intOtel.Config{
			Enabled:      otelCfg.Enabled,
			ServiceName:  otelCfg.ServiceName,
			Version:      Version,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    LogFile,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
			OTelProvider = nil
		} else {
			Logger.Info("OTel provider initialized", "service", OTelProvider.ServiceName(), "instanceId", OTelProvider.InstanceID(), "endpoint", otelCfg.Endpoint)
		}
	}

	var extra []io.Writer
	if gc := config.GetGraylogConfig(); gc.Enabled {
		GraylogWriter, err = gelf.NewWriter(gc.Address)
		if err != nil {
			Logger.Error("Failed to create GELF writer", "error", err, "address", gc.Address)
			GraylogWriter = nil
		} else {
			extra = append(extra, GraylogWriter)
		}
	}

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}

	var file io.Writer
	if LogFile != nil {
		file = LogFile
	}
	SlogManager.Setup(file, viper.GetString("logLevel"), otelLogProvider, extra...)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", LogFilePath)
}

// logOutput is where the zerolog-based managers write.
func logOutput() io.Writer {
	if LogFile != nil {
		return LogFile
	}
	return os.Stderr
}

func closeLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "otel shutdown: %v\n", err)
		}
	}
	if LogFile != nil {
		_ = LogFile.Close()
	}
}
