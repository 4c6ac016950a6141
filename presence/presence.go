// file: presence/presence.go
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/hydra-mesh/hydra/audit"
	"github.com/hydra-mesh/hydra/constant"
	"github.com/hydra-mesh/hydra/coordinator"
	"github.com/hydra-mesh/hydra/logger"
	"github.com/hydra-mesh/hydra/recover"
)

// Identity describes the instance this Engine keeps alive.
type Identity struct {
	ServiceName        string
	ServiceDescription string
	Version            string
	InstanceID          string
	IP                  string
	Port                int
}

// HealthThresholds configures the memory/CPU checks performed on each
// health tick.
type HealthThresholds struct {
	MemoryCritical float64
	MemoryWarning  float64
	LoadCritical   float64
	LoadWarning    float64
}

// HealthProbe is a caller-supplied custom check folded into every health
// tick, evaluated alongside the memory/CPU checks.
type HealthProbe func() (key string, status int, info any)

// Engine owns the presence and health tickers for one registered
// instance. All state transitions are guarded by mu; the tickers run on
// their own goroutine and never block callers of Shutdown.
type Engine struct {
	coord      coordinator.Coordinator
	log        logger.ILogger
	keyPrefix  string
	id         Identity
	thresholds HealthThresholds
	auditor    *audit.Trail

	mu        sync.Mutex
	probes    []HealthProbe
	presTick  *time.Ticker
	healthTick *time.Ticker
	stop      chan struct{}
	closeOnce sync.Once
}

// New creates an Engine for id, using keyPrefix as the keyspace root
// (default constant.DefaultKeyPrefix when empty).
func New(coord coordinator.Coordinator, log logger.ILogger, keyPrefix string, id Identity, th HealthThresholds, auditor *audit.Trail) *Engine {
	if keyPrefix == "" {
		keyPrefix = constant.DefaultKeyPrefix
	}
	return &Engine{
		coord:      coord,
		log:        log,
		keyPrefix:  keyPrefix,
		id:         id,
		thresholds: th,
		auditor:    auditor,
		stop:       make(chan struct{}),
	}
}

// RegisterHealthProbe adds a custom health check, folded into every
// subsequent tick.
func (e *Engine) RegisterHealthProbe(p HealthProbe) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.probes = append(e.probes, p)
}

func (e *Engine) presenceKey() string {
	return fmt.Sprintf("%s:%s:%s:presence", e.keyPrefix, e.id.ServiceName, e.id.InstanceID)
}

func (e *Engine) healthKey() string {
	return fmt.Sprintf("%s:%s:%s:health", e.keyPrefix, e.id.ServiceName, e.id.InstanceID)
}

func (e *Engine) healthLogKey() string {
	return fmt.Sprintf("%s:%s:%s:health:log", e.keyPrefix, e.id.ServiceName, e.id.InstanceID)
}

func (e *Engine) nodesKey() string {
	return fmt.Sprintf("%s:nodes", e.keyPrefix)
}

// servicePresence mirrors the ServicePresence JSON stored under the
// nodes hash's instanceID field, refreshed alongside the presence key
// on every tick so discovery's directory stays current.
type servicePresence struct {
	ServiceName        string `json:"serviceName"`
	ServiceDescription string `json:"serviceDescription,omitempty"`
	Version            string `json:"version,omitempty"`
	InstanceID         string `json:"instanceID"`
	UpdatedOn          string `json:"updatedOn"`
	ProcessID          int    `json:"processID"`
	IP                 string `json:"ip"`
	Port               int    `json:"port"`
	HostName           string `json:"hostName"`
}

// Start performs one synchronous presence tick (so callers observe the
// key before Start returns), then launches the presence and health
// tickers on their own goroutine.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.tickPresence(ctx); err != nil {
		return fmt.Errorf("presence: initial tick: %w", err)
	}
	if err := e.tickHealth(ctx); err != nil {
		e.logTickFailure(ctx, "health", err)
	}

	e.mu.Lock()
	e.presTick = time.NewTicker(constant.PresenceTickInterval)
	e.healthTick = time.NewTicker(constant.HealthTickInterval)
	presTick, healthTick := e.presTick, e.healthTick
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-presTick.C:
				recover.Safe("presence.tick", func() {
					ctx := context.Background()
					if err := e.tickPresence(ctx); err != nil {
						e.logTickFailure(ctx, "presence", err)
					}
				})
			case <-healthTick.C:
				recover.Safe("presence.healthTick", func() {
					ctx := context.Background()
					if err := e.tickHealth(ctx); err != nil {
						e.logTickFailure(ctx, "health", err)
					}
				})
			case <-e.stop:
				return
			}
		}
	}()
	return nil
}

// logTickFailure drops any message whose text mentions the coordinator
// itself, preventing a feedback loop when the coordinator is the failing
// component. Surviving messages go to the local sink and are persisted
// onto the health log so a dashboard query can see them beyond the
// coordinator's own TTL horizon.
func (e *Engine) logTickFailure(ctx context.Context, kind string, err error) {
	if mentionsCoordinator(err.Error()) {
		return
	}
	msg := kind + " tick failed: " + err.Error()
	e.log.Warn(msg)
	if logErr := e.LogMessage(ctx, "warning", msg); logErr != nil {
		e.log.Warn("presence: persist log entry failed: " + logErr.Error())
	}
}

// mentionsCoordinator reports whether msg references the coordinator
// itself (or one of its concrete backends), per spec.md §5's
// feedback-loop suppression: a failing coordinator must never have its
// own failure written back through it.
func mentionsCoordinator(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "coordinator") || strings.Contains(lower, "redis") || strings.Contains(lower, "nats")
}

// LogMessage appends a caller-supplied log line (kind plus free text) to
// this instance's coordinator-backed health log, the same list the
// health ticker itself appends to, so operational events raised by the
// facade (register, deregister, warnings) survive the ticker's 5-second
// local zerolog horizon and are queryable via GetServiceHealthLog.
// Messages that mention the coordinator are dropped rather than risking
// a feedback loop against a coordinator that is itself failing.
func (e *Engine) LogMessage(ctx context.Context, kind, msg string) error {
	if mentionsCoordinator(msg) {
		return nil
	}
	return e.pushLogEntry(ctx, kind, msg)
}

// tickPresence refreshes the presence key and the nodes-hash directory
// entry as a single batched round-trip, per spec.md §4.1's "one batched
// pair of operations" requirement.
func (e *Engine) tickPresence(ctx context.Context) error {
	host, _ := os.Hostname()
	payload := servicePresence{
		ServiceName:        e.id.ServiceName,
		ServiceDescription: e.id.ServiceDescription,
		Version:            e.id.Version,
		InstanceID:         e.id.InstanceID,
		UpdatedOn:          time.Now().UTC().Format(time.RFC3339),
		ProcessID:          os.Getpid(),
		IP:                 e.id.IP,
		Port:               e.id.Port,
		HostName:           host,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	batch := e.coord.Multi()
	batch.SetEX(e.presenceKey(), e.id.InstanceID, constant.KeyExpirationTTL)
	batch.HSet(e.nodesKey(), e.id.InstanceID, string(data))
	return batch.Exec(ctx)
}

type healthPayload struct {
	ServiceName  string         `json:"serviceName"`
	InstanceID   string         `json:"instanceID"`
	HostName     string         `json:"hostName"`
	SampledOn    string         `json:"sampledOn"`
	ProcessID    int            `json:"processID"`
	Architecture string         `json:"architecture"`
	Platform     string         `json:"platform"`
	Memory       map[string]any `json:"memory"`
	UptimeSeconds float64       `json:"uptimeSeconds"`
	Status       int            `json:"status"`
	Feedback     map[string]any `json:"feedback,omitempty"`
}

var startedAt = time.Now()

func (e *Engine) tickHealth(ctx context.Context) error {
	status, feedback := e.evaluateHealth()

	host, _ := os.Hostname()
	payload := healthPayload{
		ServiceName:   e.id.ServiceName,
		InstanceID:    e.id.InstanceID,
		HostName:      host,
		SampledOn:     time.Now().UTC().Format(time.RFC3339),
		ProcessID:     os.Getpid(),
		Architecture:  runtime.GOARCH,
		Platform:      runtime.GOOS,
		Memory:        map[string]any{},
		UptimeSeconds: time.Since(startedAt).Seconds(),
		Status:        status,
		Feedback:      feedback,
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		payload.Memory["rss"] = vm.Used
		payload.Memory["total"] = vm.Total
		payload.Memory["usedPercent"] = vm.UsedPercent
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	entry := logEntry{
		TS:          time.Now().UTC().Format(time.RFC3339),
		ServiceName: e.id.ServiceName,
		Type:        healthTypeFor(status),
		ProcessID:   os.Getpid(),
		Msg:         summarizeHealth(status, feedback),
	}
	entryData, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	// One batched round-trip per spec.md §4.1: SETEX the health key and
	// append+trim+re-expire the health log together, the same way
	// tickPresence batches its pair of writes.
	batch := e.coord.Multi()
	batch.SetEX(e.healthKey(), string(data), constant.KeyExpirationTTL)
	e.queueLogEntry(batch, string(entryData))
	if err := batch.Exec(ctx); err != nil {
		return err
	}

	if e.auditor != nil {
		e.auditor.RecordHealth(ctx, e.id.ServiceName, e.id.InstanceID, status)
	}
	return nil
}

// summarizeHealth renders the health status and any threshold/probe
// feedback into a one-line message, so the persisted health log carries
// actual operational content instead of a fixed placeholder string.
func summarizeHealth(status int, feedback map[string]any) string {
	if len(feedback) == 0 {
		return "status ok"
	}
	parts := make([]string, 0, len(feedback))
	for k, v := range feedback {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return healthTypeFor(status) + ": " + strings.Join(parts, ", ")
}

func (e *Engine) evaluateHealth() (int, map[string]any) {
	status := constant.StatusOK
	feedback := make(map[string]any)

	if vm, err := mem.VirtualMemory(); err == nil {
		free := 100 - vm.UsedPercent
		if e.thresholds.MemoryCritical > 0 && free < e.thresholds.MemoryCritical {
			feedback[constant.MemoryCriticalKey] = fmt.Sprintf("used=%.1f%%", vm.UsedPercent)
			status |= constant.StatusCritical
		} else if e.thresholds.MemoryWarning > 0 && free < e.thresholds.MemoryWarning {
			feedback[constant.MemoryWarningKey] = fmt.Sprintf("used=%.1f%%", vm.UsedPercent)
			status |= constant.StatusWarning
		}
	}

	if avg, err := load.Avg(); err == nil {
		cores := int32(0)
		if info, err := cpu.Info(); err == nil {
			for _, c := range info {
				cores += c.Cores
			}
		}
		if cores == 0 {
			cores = 1
		}
		ratio := avg.Load5 / float64(cores)
		if e.thresholds.LoadCritical > 0 && ratio > e.thresholds.LoadCritical {
			feedback[constant.LoadCriticalKey] = fmt.Sprintf("load5=%.2f", ratio)
			status |= constant.StatusCritical
		} else if e.thresholds.LoadWarning > 0 && ratio > e.thresholds.LoadWarning {
			feedback[constant.LoadWarningKey] = fmt.Sprintf("load5=%.2f", ratio)
			status |= constant.StatusWarning
		}
	}

	e.mu.Lock()
	probes := append([]HealthProbe(nil), e.probes...)
	e.mu.Unlock()

	for _, p := range probes {
		key, st, info := p()
		if key == "" {
			continue
		}
		if st == constant.StatusCritical {
			status |= constant.StatusCritical
		} else if st == constant.StatusWarning && status < constant.StatusCritical {
			status |= constant.StatusWarning
		}
		feedback[key] = info
	}

	if status > constant.StatusCritical {
		status = constant.StatusCritical
	}
	return status, feedback
}

type logEntry struct {
	TS          string `json:"ts"`
	ServiceName string `json:"serviceName"`
	Type        string `json:"type"`
	ProcessID   int    `json:"processID"`
	Msg         string `json:"msg"`
}

// queueLogEntry appends the push+trim+re-expire triple for one encoded
// log entry onto batch, without executing it -- letting tickHealth fold
// the health-log append into the same round-trip as its SETEX, and
// letting pushLogEntry below issue it standalone.
func (e *Engine) queueLogEntry(batch coordinator.Batch, data string) {
	key := e.healthLogKey()
	batch.LPush(key, data)
	batch.LTrim(key, 0, constant.MaxEntriesInHealthLog-1)
	batch.Expire(key, constant.HealthLogTTL)
}

// pushLogEntry encodes and batches one health-log entry on its own,
// for operational messages (register, deregister, tick failures) raised
// outside the health tick itself.
func (e *Engine) pushLogEntry(ctx context.Context, kind, msg string) error {
	entry := logEntry{
		TS:          time.Now().UTC().Format(time.RFC3339),
		ServiceName: e.id.ServiceName,
		Type:        kind,
		ProcessID:   os.Getpid(),
		Msg:         msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	batch := e.coord.Multi()
	e.queueLogEntry(batch, string(data))
	return batch.Exec(ctx)
}

func healthTypeFor(status int) string {
	switch status {
	case constant.StatusCritical:
		return "critical"
	case constant.StatusWarning:
		return "warning"
	default:
		return "ok"
	}
}

// Shutdown stops the tickers and removes the presence key. It is
// idempotent and tolerates partial failures: every close step is
// attempted regardless of earlier errors.
func (e *Engine) Shutdown(ctx context.Context) error {
	var err error
	e.closeOnce.Do(func() {
		close(e.stop)
		e.mu.Lock()
		if e.presTick != nil {
			e.presTick.Stop()
		}
		if e.healthTick != nil {
			e.healthTick.Stop()
		}
		e.mu.Unlock()

		if delErr := e.coord.Del(ctx, e.presenceKey()); delErr != nil {
			err = delErr
		}
		_ = e.coord.Expire(ctx, e.healthKey(), time.Second)
		_ = e.coord.Expire(ctx, e.healthLogKey(), time.Second)

		if e.auditor != nil {
			e.auditor.RecordDeregister(ctx, e.id.ServiceName, e.id.InstanceID)
		}
	})
	return err
}
