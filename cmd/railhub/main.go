// railhub - model railway state hub
//
// railhub mirrors every device on the layout's MQTT bus into one live state
// store, keeps signal aspects consistent with occupancy and point positions,
// and bridges a JMRI WiThrottle server onto the bus.
//
// For the topic scheme, see: internal/infrastructure/mqtt/topics.go
package main

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/railhub/internal/api"
	"github.com/nerrad567/railhub/internal/automation"
	"github.com/nerrad567/railhub/internal/bridges/withrottle"
	"github.com/nerrad567/railhub/internal/catalog"
	"github.com/nerrad567/railhub/internal/hub"
	"github.com/nerrad567/railhub/internal/infrastructure/config"
	"github.com/nerrad567/railhub/internal/infrastructure/database"
	"github.com/nerrad567/railhub/internal/infrastructure/influxdb"
	"github.com/nerrad567/railhub/internal/infrastructure/logging"
	"github.com/nerrad567/railhub/internal/infrastructure/metrics"
	"github.com/nerrad567/railhub/internal/infrastructure/mqtt"
	"github.com/nerrad567/railhub/internal/state"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default file paths
const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvPath    = ".env"
)

// discoveryWait bounds one mDNS browse for the WiThrottle server.
const discoveryWait = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting railhub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	if err := config.LoadDotEnv(defaultEnvPath); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry(version)
	}

	topics := mqtt.Topics{Namespace: cfg.MQTT.Namespace}
	qos := byte(cfg.MQTT.QoS)
	components := make(map[string]api.HealthChecker)

	store := state.NewStore()
	store.SetLogger(log.Component("state"))

	// Connect to MQTT broker. The retained status topic doubles as the
	// re-announce trigger for devices and bridges.
	mqttClient, err := mqtt.Connect(cfg.MQTT,
		mqtt.WithLogger(log.Component("mqtt")),
		mqtt.WithStatus(topics.Status(), mqtt.StatusOnline, mqtt.StatusOffline),
		mqtt.WithOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	components["mqtt"] = mqttClient
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", mqttClient.ClientID(),
		"namespace", topics.Namespace,
	)

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, influxdb.WithDefaultTag("site", cfg.Site.ID))
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		components["influxdb"] = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the state hub and signal automation (if enabled)
	if cfg.Hub.Enabled {
		stopHub, hubErr := startHub(ctx, cfg, hubDeps{
			bus:        &busAdapter{client: mqttClient},
			mqtt:       mqttClient,
			store:      store,
			influx:     influxClient,
			components: components,
			reg:        reg,
			log:        log.Component("hub"),
		})
		if hubErr != nil {
			return hubErr
		}
		defer stopHub()
	} else {
		log.Info("state hub disabled")
	}

	// Start WiThrottle bridge (if enabled)
	if cfg.WiThrottle.Enabled {
		bridge, bridgeErr := startWiThrottleBridge(ctx, cfg, reg, log.Component("withrottle"))
		if bridgeErr != nil {
			return fmt.Errorf("starting WiThrottle bridge: %w", bridgeErr)
		}
		defer func() {
			log.Info("stopping WiThrottle bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("WiThrottle bridge disabled")
	}

	// Start HTTP API server (if enabled)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Security:   cfg.Security,
			Logger:     log.Component("api"),
			Store:      store,
			Publisher:  mqttClient,
			QoS:        qos,
			Components: maps.Clone(components),
			Version:    version,
		}
		if reg != nil {
			deps.Metrics = reg.Handler()
		}
		apiServer, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		components["api"] = apiServer
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, components); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, bridge, hub (automation,
	// catalog watch, database), InfluxDB, MQTT.

	log.Info("railhub stopped")
	return nil
}

// hubDeps groups what startHub wires together.
type hubDeps struct {
	bus        hub.Bus
	mqtt       *mqtt.Client
	store      *state.Store
	influx     *influxdb.Client
	components map[string]api.HealthChecker
	reg        *metrics.Registry
	log        *logging.Logger
}

// startHub loads the catalog, starts bus ingestion, attaches the automation
// engine and telemetry listeners and keeps them fed from catalog changes.
// The returned function stops everything it started.
func startHub(ctx context.Context, cfg *config.Config, d hubDeps) (func(), error) {
	var cleanups []func()
	stop := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	reader, closeReader, err := openCatalog(ctx, cfg, d.components, d.log)
	if err != nil {
		return nil, err
	}
	cleanups = append(cleanups, closeReader)

	registry := catalog.NewRegistry(reader)
	registry.SetLogger(d.log)
	if _, refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		stop()
		return nil, fmt.Errorf("loading catalog: %w", refreshErr)
	}
	d.log.Info("catalog loaded",
		"source", cfg.Catalog.Source,
		"entities", len(registry.Entities()),
		"automations", len(registry.SignalAutomations()),
	)

	stateHub, err := hub.New(hub.Options{
		Bus:        d.bus,
		Store:      d.store,
		Catalog:    registry,
		Topics:     mqtt.Topics{Namespace: cfg.MQTT.Namespace},
		QoS:        byte(cfg.MQTT.QoS),
		Logger:     d.log,
		Registerer: d.reg.Registerer(),
	})
	if err != nil {
		stop()
		return nil, fmt.Errorf("creating state hub: %w", err)
	}

	var engine *automation.Engine
	if cfg.Automation.Enabled {
		debounce := automation.ConfigDebounce(cfg.GetDebounce())
		engine, err = automation.NewEngine(automation.EngineOptions{
			Rules:      registry,
			Publisher:  d.mqtt,
			QoS:        byte(cfg.MQTT.QoS),
			Debounce:   debounce,
			Logger:     d.log,
			Registerer: d.reg.Registerer(),
		})
		if err != nil {
			stop()
			return nil, fmt.Errorf("creating automation engine: %w", err)
		}
		d.store.AddListener(engine)
		cleanups = append(cleanups, func() {
			d.log.Info("stopping signal automation")
			d.store.RemoveListener(engine)
			engine.Stop()
		})
		d.log.Info("signal automation enabled", "debounce", debounce)
	} else {
		d.log.Info("signal automation disabled")
	}

	if d.influx != nil {
		telemetry := hub.NewTelemetry(d.influx, stateHub.Metrics())
		d.store.AddListener(telemetry)
		cleanups = append(cleanups, func() { d.store.RemoveListener(telemetry) })
	}

	// A reconnect drops all live state; devices republish once the status
	// topic reads online again.
	d.mqtt.SetOnConnect(stateHub.HandleReconnect)

	if startErr := stateHub.Start(); startErr != nil {
		stop()
		return nil, fmt.Errorf("starting state hub: %w", startErr)
	}

	if interval := cfg.GetCatalogRefresh(); interval > 0 {
		watchCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			registry.Watch(watchCtx, interval, func() {
				stateHub.Recalculate()
				if engine != nil {
					engine.Recompute(d.store.Snapshot())
				}
			})
		}()
		cleanups = append(cleanups, func() {
			cancel()
			<-done
		})
	}

	d.log.Info("state hub started", "records", d.store.Len())
	return stop, nil
}

// openCatalog returns the catalog reader selected by cfg.Catalog.Source and
// a function releasing it.
func openCatalog(ctx context.Context, cfg *config.Config, components map[string]api.HealthChecker, log *logging.Logger) (catalog.Reader, func(), error) {
	if cfg.Catalog.Source == "file" {
		log.Info("catalog file", "path", cfg.Catalog.File)
		return catalog.NewFileRepository(cfg.Catalog.File), func() {}, nil
	}

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	components["database"] = db
	log.Info("database connected", "path", db.Path())

	closeDB := func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}
	return catalog.NewSQLiteRepository(db.DB), closeDB, nil
}

// startWiThrottleBridge creates and starts the WiThrottle bridge. The bridge
// dials its own MQTT connection so its availability topic tracks the bridge
// process rather than the hub.
func startWiThrottleBridge(ctx context.Context, cfg *config.Config, reg *metrics.Registry, log *logging.Logger) (*withrottle.Bridge, error) {
	wt := cfg.WiThrottle
	topics := mqtt.Topics{Namespace: cfg.MQTT.Namespace}
	slug := withrottle.Slugify(wt.Name)

	clientCfg := withrottle.ClientConfig{
		Address:           cfg.WiThrottleAddress(),
		ClientID:          wt.ClientID,
		Name:              wt.Name,
		HeartbeatTimeout:  time.Duration(wt.HeartbeatTimeout) * time.Second,
		ReconnectInterval: time.Duration(wt.ReconnectInterval) * time.Second,
		RosterInterval:    time.Duration(wt.RosterIntervalMS) * time.Millisecond,
	}
	if wt.RosterIntervalMS == 0 {
		clientCfg.RosterInterval = -1
	}
	if clientCfg.Address == "" && wt.Discover {
		clientCfg.Resolver = withrottle.NewMDNSResolver(discoveryWait)
	}

	healthInterval := time.Duration(wt.HealthInterval) * time.Second
	if healthInterval == 0 {
		healthInterval = -1
	}

	dial := func(onConnect func()) (withrottle.MQTTClient, error) {
		clientID := cfg.MQTT.Broker.ClientID
		if clientID == "" {
			clientID = "railhub"
		}
		client, err := mqtt.Connect(cfg.MQTT,
			mqtt.WithLogger(log),
			mqtt.WithClientID(clientID+"-withrottle"),
			mqtt.WithStatus(topics.BridgeStatus(slug), mqtt.StatusOnline, mqtt.StatusOffline),
			mqtt.WithOnConnect(onConnect),
		)
		if err != nil {
			return nil, err
		}
		return &busAdapter{client: client, owned: true}, nil
	}

	bridge, err := withrottle.NewBridge(withrottle.Options{
		Config: withrottle.Config{
			Client:         clientCfg,
			Topics:         topics,
			Name:           wt.Name,
			Version:        version,
			QoS:            byte(cfg.MQTT.QoS),
			HealthInterval: healthInterval,
		},
		Dial:       dial,
		Logger:     log,
		Registerer: reg.Registerer(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating WiThrottle bridge: %w", err)
	}

	if err := bridge.Start(ctx); err != nil {
		return nil, err
	}
	log.Info("WiThrottle bridge started",
		"name", wt.Name,
		"address", clientCfg.Address,
		"discover", clientCfg.Resolver != nil,
	)
	return bridge, nil
}

// getConfigPath returns the configuration file path.
// Uses RAILHUB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("RAILHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every started component is healthy. All failures
// are reported together.
func healthCheck(ctx context.Context, components map[string]api.HealthChecker) error {
	var errs []error
	for name, c := range components {
		if err := c.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// busAdapter adapts the infrastructure MQTT client to the handler signature
// used by the hub and the WiThrottle bridge:
// - Infrastructure mqtt: func(topic, payload []byte) error
// - Hub and bridge expect: func(topic, payload []byte)
type busAdapter struct {
	client *mqtt.Client

	// owned is set when the adapter holds the only reference to client,
	// so Disconnect closes it.
	owned bool
}

// Publish implements hub.Bus and withrottle.MQTTClient.
func (a *busAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements hub.Bus and withrottle.MQTTClient.
func (a *busAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements withrottle.MQTTClient.
func (a *busAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements withrottle.MQTTClient. A shared client is left to
// the defer chain in run.
func (a *busAdapter) Disconnect(_ uint) {
	if a.owned {
		_ = a.client.Close()
	}
}
