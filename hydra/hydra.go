// Package hydra is the mesh's single public surface: it wires the
// coordinator, presence engine, discovery finder, route table, message
// bus, queue engine, HTTP dispatcher and plugin host together behind
// one Facade, matching the control flow spec.md describes for startup
// and shutdown.
package hydra

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hydra-mesh/hydra/audit"
	"github.com/hydra-mesh/hydra/bus"
	"github.com/hydra-mesh/hydra/config"
	"github.com/hydra-mesh/hydra/constant"
	"github.com/hydra-mesh/hydra/coordinator"
	"github.com/hydra-mesh/hydra/discovery"
	"github.com/hydra-mesh/hydra/dispatch"
	"github.com/hydra-mesh/hydra/logger"
	"github.com/hydra-mesh/hydra/plugin"
	"github.com/hydra-mesh/hydra/presence"
	"github.com/hydra-mesh/hydra/queue"
	"github.com/hydra-mesh/hydra/routes"
	"github.com/hydra-mesh/hydra/umf"
	"github.com/hydra-mesh/hydra/util"
)

// LogEvent is one entry fanned out on Facade.Logs().
type LogEvent struct {
	Level   string
	Message string
}

// Facade is the assembled, registered instance. Construct one with New,
// then RegisterService to publish presence and start serving.
type Facade struct {
	cfg       *config.Config
	coord     coordinator.Coordinator
	log       logger.ILogger
	keyPrefix string

	Presence  *presence.Engine
	Discovery *discovery.Finder
	Routes    *routes.Table
	Bus       *bus.Bus
	Queue     *queue.Engine
	Dispatch  *dispatch.Dispatcher
	Plugins   *plugin.Host
	Auditor   *audit.Trail

	instanceID string
	serviceIP  string

	logsCh     chan LogEvent
	messagesCh chan umf.ShortMessage
	metricsCh  chan string

	mu           sync.Mutex
	shutdownOnce sync.Once
}

// Options tunes New beyond what's already in cfg.
type Options struct {
	KeyPrefix  string
	ScanMode   discovery.ScanMode
	HTTPClient dispatch.HTTPClient
	Auditor    *audit.Trail
}

// New builds a Facade bound to coord, but does not register or start
// anything yet -- call RegisterService for that.
func New(cfg *config.Config, coord coordinator.Coordinator, opts Options) (*Facade, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	keyPrefix := opts.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = constant.DefaultKeyPrefix
	}

	log := logger.NewLogger(cfg.Hydra.ServiceName, cfg.LogLevel)
	plugins := plugin.New(log)

	f := &Facade{
		cfg:        cfg,
		coord:      coord,
		log:        log,
		keyPrefix:  keyPrefix,
		Plugins:    plugins,
		Auditor:    opts.Auditor,
		logsCh:     make(chan LogEvent, 256),
		messagesCh: make(chan umf.ShortMessage, 256),
		metricsCh:  make(chan string, 256),
	}

	serviceIP := cfg.Hydra.ServiceIP
	if serviceIP == "" {
		ip, err := util.LocalIP()
		if err != nil {
			return nil, fmt.Errorf("hydra: resolve local ip: %w", err)
		}
		serviceIP = ip
	}
	f.serviceIP = serviceIP
	f.instanceID = util.NewInstanceID()

	f.Discovery = discovery.New(coord, keyPrefix, opts.ScanMode)
	f.Queue = queue.New(coord, keyPrefix, cfg.Hydra.ServiceName)
	f.Routes = routes.New(coord, keyPrefix, cfg.Hydra.ServiceName)
	f.Bus = bus.New(coord, f.Discovery, log, keyPrefix, cfg.Hydra.ServiceName, f.instanceID)
	f.Dispatch = dispatch.New(f.Discovery, coord, opts.HTTPClient, log, keyPrefix, f.emitMetric)

	port, _ := strconv.Atoi(cfg.Hydra.ServicePort)
	f.Presence = presence.New(coord, log, keyPrefix, presence.Identity{
		ServiceName:        cfg.Hydra.ServiceName,
		ServiceDescription: cfg.Hydra.ServiceDescription,
		Version:            cfg.Hydra.ServiceVersion,
		InstanceID:         f.instanceID,
		IP:                 serviceIP,
		Port:               port,
	}, presence.HealthThresholds{
		MemoryCritical: cfg.HCMemoryCriticalThreshold,
		MemoryWarning:  cfg.HCMemoryWarningThreshold,
		LoadCritical:   cfg.HCLoadCriticalThreshold,
		LoadWarning:    cfg.HCLoadWarningThreshold,
	}, opts.Auditor)

	f.Bus.OnMessage(func(msg *umf.Message) {
		select {
		case f.messagesCh <- *umf.ToShort(msg):
		default:
		}
	})

	return f, nil
}

// ServiceName, ServiceIP, ServicePort and InstanceID describe this
// registered instance.
func (f *Facade) ServiceName() string { return f.cfg.Hydra.ServiceName }
func (f *Facade) ServiceIP() string   { return f.serviceIP }
func (f *Facade) InstanceID() string  { return f.instanceID }

func (f *Facade) serviceKey() string {
	return fmt.Sprintf("%s:%s:service", f.keyPrefix, f.cfg.Hydra.ServiceName)
}

// RegisterService publishes the service record (a plain Set, so the last
// instance to register overwrites it; all instances of the name share
// the one record), starts the
// message bus, issues the synchronous first presence tick, and then
// launches the presence/health tickers -- matching spec.md §2's
// ordering guarantee that registerService completes before the first
// tick is observable. It returns (serviceName, serviceIP, servicePort).
func (f *Facade) RegisterService(ctx context.Context) (string, string, string, error) {
	record := fmt.Sprintf(`{"serviceName":%q,"type":%q,"registeredOn":%q}`,
		f.cfg.Hydra.ServiceName, f.cfg.Hydra.ServiceType, nowRFC3339())
	if err := f.coord.Set(ctx, f.serviceKey(), record); err != nil {
		return "", "", "", fmt.Errorf("hydra: publish service record: %w", err)
	}

	if err := f.Bus.Start(); err != nil {
		return "", "", "", fmt.Errorf("hydra: start bus: %w", err)
	}

	if err := f.Presence.Start(ctx); err != nil {
		return "", "", "", fmt.Errorf("hydra: start presence: %w", err)
	}

	if f.Auditor != nil {
		f.Auditor.RecordRegister(ctx, f.cfg.Hydra.ServiceName, f.instanceID)
	}

	f.emitLog(ctx, "info", "registered "+f.cfg.Hydra.ServiceName+" instance "+f.instanceID)
	return f.cfg.Hydra.ServiceName, f.serviceIP, f.cfg.Hydra.ServicePort, nil
}

// RegisterRoutes publishes patterns (plus the always-injected self
// routes) and, unless this instance is hydra-router itself, broadcasts
// a refresh notice so the router recompiles its table.
func (f *Facade) RegisterRoutes(ctx context.Context, patterns []string) error {
	err := f.Routes.RegisterRoutes(ctx, patterns, func(ctx context.Context) error {
		notice := umf.New("hydra-router:/refresh", f.cfg.Hydra.ServiceName, map[string]any{})
		_, err := f.Bus.SendBroadcastMessage(ctx, notice)
		return err
	})
	if err == nil {
		f.emitLog(ctx, "info", fmt.Sprintf("registered %d routes for %s", len(patterns), f.cfg.Hydra.ServiceName))
	}
	return err
}

// Logs, Messages and Metrics expose the facade's internal event fan-out
// for introspection surfaces (httpapi's /stream) without those callers
// reaching into Bus/Presence/Dispatch directly.
func (f *Facade) Logs() <-chan LogEvent           { return f.logsCh }
func (f *Facade) Messages() <-chan umf.ShortMessage { return f.messagesCh }
func (f *Facade) Metrics() <-chan string          { return f.metricsCh }

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339) }

func (f *Facade) emitMetric(metric string) {
	select {
	case f.metricsCh <- metric:
	default:
	}
}

// emitLog writes message to the local sink and the in-process log
// channel, and -- unlike the local zerolog sink, which lives only as
// long as this process does -- also persists it onto the Coordinator-
// backed health log via Presence.LogMessage, so dashboards can query
// register/deregister/warning events beyond this process's lifetime.
func (f *Facade) emitLog(ctx context.Context, level, message string) {
	switch level {
	case "warn":
		f.log.Warn(message)
	default:
		f.log.Info(message)
	}
	if f.Presence != nil {
		if err := f.Presence.LogMessage(ctx, level, message); err != nil {
			f.log.Warn("hydra: persist log entry failed: " + err.Error())
		}
	}
	select {
	case f.logsCh <- LogEvent{Level: level, Message: message}:
	default:
	}
}

// Shutdown stops the presence tickers (deleting the presence key and
// shortening the health key's TTL), tears down the bus subscriptions
// and publisher pool, and closes the auditor. Idempotent.
func (f *Facade) Shutdown(ctx context.Context) error {
	var err error
	f.shutdownOnce.Do(func() {
		f.emitLog(ctx, "info", "shutting down "+f.cfg.Hydra.ServiceName+" instance "+f.instanceID)
		if presErr := f.Presence.Shutdown(ctx); presErr != nil {
			err = presErr
		}
		if busErr := f.Bus.Shutdown(); busErr != nil && err == nil {
			err = busErr
		}
		if f.Auditor != nil {
			if auditErr := f.Auditor.Close(); auditErr != nil && err == nil {
				err = auditErr
			}
		}
		if coordErr := f.coord.Close(); coordErr != nil && err == nil {
			err = coordErr
		}
		close(f.logsCh)
		close(f.messagesCh)
		close(f.metricsCh)
	})
	return err
}
