package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hub/internal/automation"
	"github.com/nerrad567/gray-logic-hub/internal/bridges/mqttstate"
	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/eventbus"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hub/internal/logbook"
	"github.com/nerrad567/gray-logic-hub/internal/metrics"
	"github.com/nerrad567/gray-logic-hub/internal/recorder"
	"github.com/nerrad567/gray-logic-hub/internal/scene"
	"github.com/nerrad567/gray-logic-hub/internal/service"
	"github.com/nerrad567/gray-logic-hub/internal/state"
	"github.com/nerrad567/gray-logic-hub/internal/sun"
	"github.com/nerrad567/gray-logic-hub/internal/template"
	_ "github.com/nerrad567/gray-logic-hub/migrations" // schema for scenes and history
)

// ErrAlreadyStarted is returned by Start on a running hub.
var ErrAlreadyStarted = errors.New("hub: already started")

// Options holds what New needs.
type Options struct {
	Config  *config.Config
	Logger  *logging.Logger
	Version string
}

// Hub is the composition root.
type Hub struct {
	cfg     *config.Config
	logger  *logging.Logger
	version string
	loc     *time.Location

	Bus         *eventbus.Bus
	States      *state.Store
	Services    *service.Registry
	Renderer    *template.Renderer
	Automations *automation.Engine
	Scenes      *scene.Engine
	Sun         *sun.Tracker
	Metrics     *metrics.Collector

	// Recorder and Logbook are nil when recording is disabled.
	Recorder *recorder.Recorder
	Logbook  *logbook.Logbook

	db     *database.DB
	influx *influxdb.Client
	mqtt   *mqtt.Client
	bridge *mqttstate.Bridge

	mu      sync.Mutex
	started bool
	closed  bool
}

// New opens the database and builds every component. Nothing runs until Start.
func New(ctx context.Context, opts Options) (*Hub, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	cfg := opts.Config

	loc, err := time.LoadLocation(cfg.Site.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", cfg.Site.Timezone, err)
	}

	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	h := &Hub{
		cfg:     cfg,
		logger:  log,
		version: opts.Version,
		loc:     loc,
		db:      db,
	}
	if err := h.build(); err != nil {
		db.Close()
		return nil, err
	}
	return h, nil
}

// build creates the in-memory core and the engines.
func (h *Hub) build() error {
	cfg := h.cfg

	h.Bus = eventbus.New(
		eventbus.WithQueueSize(cfg.EventBus.QueueSize),
		eventbus.WithLogger(h.logger.Component("eventbus")),
	)

	h.States = state.New(h.Bus)
	h.States.SetLogger(h.logger.Component("state"))

	h.Services = service.NewRegistry(h.States, h.Bus)
	h.Services.SetLogger(h.logger.Component("service"))
	service.RegisterBuiltins(h.Services)

	h.Renderer = template.New(h.States)
	h.Renderer.SetLocation(h.loc)

	calc := sun.New(cfg.Site.Location.Latitude, cfg.Site.Location.Longitude, h.loc)
	h.Sun = sun.NewTracker(calc, h.States)
	h.Sun.SetLogger(h.logger.Component("sun"))

	h.Automations = automation.NewEngine(h.States, h.Services, h.Bus, h.Renderer)
	h.Automations.SetLogger(h.logger.Component("automation"))
	h.Automations.SetLocation(h.loc)
	h.Automations.SetSun(calc)
	h.Automations.SetQueueSize(cfg.Automation.QueueSize)
	if cfg.Automation.File != "" {
		h.Automations.SetStore(automation.NewFileStore(cfg.Automation.File))
	}
	if err := h.Automations.RegisterServices(h.Services); err != nil {
		return fmt.Errorf("registering automation services: %w", err)
	}

	registry := scene.NewRegistry(scene.NewSQLStore(h.db.DB))
	registry.SetLogger(h.logger.Component("scene"))
	h.Scenes = scene.NewEngine(registry, h.Services, h.States, h.Bus)
	h.Scenes.SetLogger(h.logger.Component("scene"))
	h.Scenes.SetFile(cfg.Scenes.File)
	if err := h.Scenes.RegisterServices(h.Services); err != nil {
		return fmt.Errorf("registering scene services: %w", err)
	}

	if cfg.Recorder.Enabled {
		h.Recorder = recorder.New(recorder.NewSQLiteRepository(h.db.DB), h.Bus)
		h.Recorder.SetLogger(h.logger.Component("recorder"))
		h.Recorder.SetQueueSize(cfg.Recorder.QueueSize)
		h.Recorder.SetKeepDays(cfg.Recorder.KeepDays)

		h.Logbook = logbook.New(logbook.NewSQLiteRepository(h.db.DB), h.Bus)
		h.Logbook.SetLogger(h.logger.Component("logbook"))
		h.Logbook.SetKeepDays(cfg.Recorder.KeepDays)
		if err := h.Logbook.RegisterServices(h.Services); err != nil {
			return fmt.Errorf("registering logbook services: %w", err)
		}
	}

	h.Metrics = metrics.New(h.Bus, h.States)
	return nil
}

// Start loads configuration files, connects the optional MQTT and InfluxDB
// back ends, starts every loop and fires homeassistant_start.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return ErrAlreadyStarted
	}

	if h.Recorder != nil {
		if h.cfg.InfluxDB.Enabled {
			influx, err := influxdb.Connect(ctx, h.cfg.InfluxDB)
			if err != nil {
				return fmt.Errorf("connecting to InfluxDB: %w", err)
			}
			influx.SetOnError(func(err error) {
				h.logger.Error("InfluxDB write error", "error", err)
			})
			h.influx = influx
			h.Recorder.SetInflux(influx)
			h.Metrics.AddCounter("influxdb_points_written_total", "Numeric states queued for InfluxDB.", func() float64 {
				return float64(influx.Written())
			})
			h.Metrics.AddCounter("influxdb_write_errors_total", "Failed InfluxDB batch writes.", func() float64 {
				return float64(influx.Failed())
			})
			h.logger.Info("InfluxDB connected", "url", h.cfg.InfluxDB.URL, "bucket", h.cfg.InfluxDB.Bucket)
		}
		if err := h.Recorder.Start(ctx); err != nil {
			return fmt.Errorf("starting recorder: %w", err)
		}
		if err := h.Logbook.Start(ctx); err != nil {
			return fmt.Errorf("starting logbook: %w", err)
		}
	}
	h.Metrics.Start(ctx)

	if err := h.Scenes.Reload(ctx); err != nil {
		return fmt.Errorf("loading scenes: %w", err)
	}
	if err := h.Automations.Reload(ctx); err != nil {
		return fmt.Errorf("loading automations: %w", err)
	}
	h.Automations.Start()

	if _, err := h.Sun.Update(ctx); err != nil {
		h.logger.Warn("initial sun state failed", "error", err)
	}

	if h.cfg.MQTT.Enabled {
		if err := h.startMQTT(ctx); err != nil {
			return err
		}
	}

	h.started = true
	h.Bus.Fire(ctx, core.EventHubStart, map[string]any{}, core.OriginLocal)
	h.Bus.Fire(ctx, core.EventHubStarted, map[string]any{}, core.OriginLocal)
	h.logger.Info("hub started",
		"entities", h.States.Count(),
		"automations", h.Automations.Count(),
		"scenes", h.Scenes.Registry().GetSceneCount(),
	)
	return nil
}

func (h *Hub) startMQTT(ctx context.Context) error {
	client, err := mqtt.Connect(ctx, h.cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(h.logger.Component("mqtt"))
	client.SetOnConnect(func() {
		h.logger.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		h.logger.Warn("MQTT disconnected", "error", err)
	})
	h.mqtt = client

	bridge, err := mqttstate.NewBridge(mqttstate.Options{
		Client:      client,
		Topics:      client.Topics(),
		QoS:         client.QoS(),
		Store:       h.States,
		Services:    h.Services,
		Bus:         h.Bus,
		Commands:    h.cfg.MQTT.Bridge.Commands,
		Statestream: h.cfg.MQTT.Bridge.Statestream,
		Logger:      h.logger.Component("mqttstate"),
	})
	if err != nil {
		return fmt.Errorf("creating MQTT bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting MQTT bridge: %w", err)
	}
	h.bridge = bridge

	h.Metrics.AddCounter("mqtt_states_received_total", "State messages accepted from MQTT.", func() float64 {
		return float64(bridge.Stats().StatesReceived)
	})
	h.Metrics.AddCounter("mqtt_commands_received_total", "Command messages accepted from MQTT.", func() float64 {
		return float64(bridge.Stats().CommandsReceived)
	})
	h.Metrics.AddCounter("mqtt_rejected_total", "MQTT messages rejected by the bridge.", func() float64 {
		return float64(bridge.Stats().Rejected)
	})
	h.Metrics.AddCounter("mqtt_reconnects_total", "Broker reconnections since startup.", func() float64 {
		return float64(client.Reconnects())
	})
	h.logger.Info("MQTT bridge started",
		"broker", fmt.Sprintf("%s:%d", h.cfg.MQTT.Broker.Host, h.cfg.MQTT.Broker.Port),
		"prefix", client.Topics().Prefix(),
	)
	return nil
}

// Run keeps sun.sun current and purges old logbook entries once a day
// until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.Sun.Run(ctx)
	}()

	if h.Logbook != nil {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		h.purge(ctx)
	loop:
		for {
			select {
			case <-ctx.Done():
				break loop
			case <-ticker.C:
				h.purge(ctx)
			}
		}
	} else {
		<-ctx.Done()
	}

	wg.Wait()
	return nil
}

// purge trims the logbook. The recorder purges on its own schedule.
func (h *Hub) purge(ctx context.Context) {
	if _, err := h.Logbook.Purge(ctx); err != nil && ctx.Err() == nil {
		h.logger.Warn("logbook purge failed", "error", err)
	}
}

// HealthCheck pings the database and, when in use, the MQTT broker and InfluxDB.
func (h *Hub) HealthCheck(ctx context.Context) error {
	if err := h.db.HealthCheck(ctx); err != nil {
		return err
	}
	if h.mqtt != nil {
		if err := h.mqtt.HealthCheck(ctx); err != nil {
			return err
		}
	}
	if h.influx != nil {
		return h.influx.HealthCheck(ctx)
	}
	return nil
}

// Close fires homeassistant_stop, stops every loop and releases back ends.
// It is safe to call more than once.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	started := h.started
	h.mu.Unlock()

	if started {
		h.Bus.Fire(context.Background(), core.EventHubStop, map[string]any{}, core.OriginLocal)
	}

	var errs []error
	if h.bridge != nil {
		h.bridge.Stop()
	}
	if h.mqtt != nil {
		if err := h.mqtt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing MQTT: %w", err))
		}
	}
	h.Automations.Stop()
	if h.Recorder != nil {
		h.Recorder.Stop()
		h.Logbook.Stop()
	}
	h.Metrics.Stop()
	if h.influx != nil {
		if err := h.influx.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing InfluxDB: %w", err))
		}
	}
	h.Bus.Close()
	if err := h.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing database: %w", err))
	}

	h.logger.Info("hub stopped")
	return errors.Join(errs...)
}
