package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/mbientlab/metabase/internal/adapter/actor"
	"github.com/mbientlab/metabase/internal/adapter/device/simulator"
	"github.com/mbientlab/metabase/internal/adapter/store/boltstore"
	"github.com/mbientlab/metabase/internal/adapter/store/sqlitestore"
	"github.com/mbientlab/metabase/internal/config"
	"github.com/mbientlab/metabase/internal/core/actor"
	"github.com/mbientlab/metabase/internal/core/port"
	"github.com/mbientlab/metabase/internal/importer"
	"github.com/mbientlab/metabase/internal/server"
	"github.com/mbientlab/metabase/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	events := &eventstream.EventStream{}

	store, err := openStore(cfg.Store, events)
	if err != nil {
		logger.Error("could not open store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
		return
	}
	defer store.Close()

	devices, err := simulator.NewStoreFromConfig(cfg.Devices, logger)
	if err != nil {
		logger.Error("invalid device list", zap.Error(err))
		return
	}

	imp := importer.New(store, logger)
	if cfg.Import.Enable {
		bootImport(imp, cfg.Devices, logger)
	}

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	var mqttProv actor.MQTTActorProvider
	if cfg.MQTT.Enable {
		mqttProv = mqttActorProvider(cfg, logger)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, devices, store, events, mqttProv, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server, hub := server.NewServer(*cfg, ctx, pid, server.Backend{
		Devices:  devices,
		Store:    store,
		Importer: imp,
		Events:   events,
	}, logger)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	hub.Close()
	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => METABASE_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("METABASE_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("metabase")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check devices
	for i := range cfg.Devices {
		mac, err := config.CheckMAC(cfg.Devices[i].MAC)
		if err != nil {
			return nil, fmt.Errorf("devices[%d]: %w", i, err)
		}
		cfg.Devices[i].MAC = mac
	}

	// check store
	switch cfg.Store.Driver {
	case config.STORE_DRIVER_BOLT, config.STORE_DRIVER_SQLITE:
	default:
		return nil, fmt.Errorf("config param store.driver must be %q or %q", config.STORE_DRIVER_BOLT, config.STORE_DRIVER_SQLITE)
	}

	// check bounds
	if cfg.Action.ConnectTimeoutMillis < 1000 {
		return nil, errors.New("config param action.connect_timeout_millis should be >= 1000ms")
	}
	if cfg.Action.LogProgramTimeoutMillis < cfg.Action.ConnectTimeoutMillis {
		return nil, errors.New("config param action.log_program_timeout_millis must be >= action.connect_timeout_millis")
	}
	if cfg.Action.CountersFlushMillis < 100 {
		return nil, errors.New("config param action.counters_flush_millis should be >= 100ms")
	}
	if cfg.Action.SaveTimeoutMillis < 1000 {
		return nil, errors.New("config param action.save_timeout_millis should be >= 1000ms")
	}

	return &cfg, nil
}

func openStore(cfg config.StoreConfig, events *eventstream.EventStream) (port.Store, error) {
	switch cfg.Driver {
	case config.STORE_DRIVER_SQLITE:
		return sqlitestore.Open(cfg.Path, events)
	default:
		return boltstore.Open(cfg.Path, events)
	}
}

func bootImport(imp *importer.Importer, devices []config.DeviceConfig, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	macs := make([]string, 0, len(devices))
	for _, d := range devices {
		macs = append(macs, d.MAC)
	}
	results, err := imp.ImportAll(ctx, macs)
	if err != nil {
		logger.Error("legacy import failed", zap.Error(err))
	}
	logger.Info("legacy import done", zap.Int("devices", len(results)))
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("store.driver", config.STORE_DRIVER_BOLT)
	viper.SetDefault("store.path", "metabase.db")
	viper.SetDefault("mqtt.enable", false)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "metabase")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("action.connect_timeout_millis", 20000)
	viper.SetDefault("action.log_program_timeout_millis", 45000)
	viper.SetDefault("action.counters_flush_millis", 500)
	viper.SetDefault("action.save_timeout_millis", 30000)
	viper.SetDefault("import.enable", false)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
