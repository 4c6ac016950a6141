// Package discovery implements the mesh's service-lookup surface: the
// live presence roster, the nodes hash, and service/health records. It
// never maintains its own state beyond a short-TTL cache — every answer
// is read fresh from the coordinator, which is the only source of
// truth for liveness.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hydra-mesh/hydra/cache"
	"github.com/hydra-mesh/hydra/constant"
	"github.com/hydra-mesh/hydra/coordinator"
	"github.com/hydra-mesh/hydra/util"
)

// ScanMode selects how the keyspace is enumerated. Production deployments
// backed by natscoord use Scan (bounded COUNT, cursor-accumulated);
// memcoord-backed tests use Keys directly since there is no cursor cost
// to amortize.
type ScanMode int

const (
	ScanModeKeys ScanMode = iota
	ScanModeScan
)

// NodeInfo is one entry decoded from the nodes hash or a presence scan,
// mirroring the ServicePresence JSON payload written by the presence
// engine on every tick.
type NodeInfo struct {
	ServiceName        string    `json:"serviceName"`
	ServiceDescription string    `json:"serviceDescription,omitempty"`
	Version            string    `json:"version,omitempty"`
	InstanceID         string    `json:"instanceID"`
	IP                 string    `json:"ip"`
	Port               int       `json:"port"`
	HostName           string    `json:"hostName,omitempty"`
	ProcessID          int       `json:"processID,omitempty"`
	UpdatedOn          string    `json:"updatedOn"`
	UpdatedOnTS        time.Time `json:"-"`
	Elapsed            float64   `json:"elapsed,omitempty"`
}

// ServiceRecord mirrors the JSON stored at the service's service-record
// key.
type ServiceRecord struct {
	ServiceName        string `json:"serviceName"`
	Type               string `json:"type"`
	RegisteredOn       string `json:"registeredOn"`
	ServiceIP          string `json:"serviceIP"`
	ServicePort        int    `json:"servicePort"`
	ServiceDescription string `json:"serviceDescription,omitempty"`
	InstanceID         string `json:"instanceID"`
}

// HealthReport mirrors the JSON stored at an instance's health key.
type HealthReport struct {
	ServiceName string         `json:"serviceName"`
	InstanceID  string         `json:"instanceID"`
	Status      int            `json:"status"`
	Memory      map[string]any `json:"memory"`
	Feedback    map[string]any `json:"feedback,omitempty"`
}

// HealthLogEntry mirrors one entry in an instance's health log list.
type HealthLogEntry struct {
	TS          string `json:"ts"`
	ServiceName string `json:"serviceName"`
	Type        string `json:"type"`
	Msg         string `json:"msg"`
}

// Finder answers discovery queries against a Coordinator-backed
// keyspace rooted at keyPrefix.
type Finder struct {
	coord     coordinator.Coordinator
	keyPrefix string
	scanMode  ScanMode

	presenceCache *cache.Cache[[]*NodeInfo]
	healthCache   *cache.Cache[[]*HealthReport]
}

// New creates a Finder. keyPrefix defaults to constant.DefaultKeyPrefix
// when empty.
func New(coord coordinator.Coordinator, keyPrefix string, mode ScanMode) *Finder {
	if keyPrefix == "" {
		keyPrefix = constant.DefaultKeyPrefix
	}
	return &Finder{
		coord:         coord,
		keyPrefix:     keyPrefix,
		scanMode:      mode,
		presenceCache: cache.New[[]*NodeInfo](constant.KeyExpirationTTL),
		healthCache:   cache.New[[]*HealthReport](constant.KeyExpirationTTL),
	}
}

// scanKeys enumerates keys matching pattern using whichever policy this
// Finder was configured with. This is the single place that distinction
// is made.
func (f *Finder) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	if f.scanMode == ScanModeScan {
		return f.coord.Scan(ctx, pattern, 100)
	}
	return f.coord.Keys(ctx, pattern)
}

func (f *Finder) serviceKey(name string) string {
	return fmt.Sprintf("%s:%s:service", f.keyPrefix, name)
}

func (f *Finder) nodesKey() string {
	return fmt.Sprintf("%s:nodes", f.keyPrefix)
}

// FindService reads a single service's registration record.
func (f *Finder) FindService(ctx context.Context, name string) (*ServiceRecord, error) {
	raw, err := f.coord.Get(ctx, f.serviceKey(name))
	if err != nil {
		return nil, fmt.Errorf("discovery: can't find %s service: %w", name, err)
	}
	var rec ServiceRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("discovery: decode service record for %s: %w", name, err)
	}
	return &rec, nil
}

// GetServices scans every `*:service` key and decodes each as a
// ServiceRecord.
func (f *Finder) GetServices(ctx context.Context) ([]*ServiceRecord, error) {
	keys, err := f.scanKeys(ctx, fmt.Sprintf("%s:*:service", f.keyPrefix))
	if err != nil {
		return nil, err
	}
	records := make([]*ServiceRecord, 0, len(keys))
	for _, key := range keys {
		raw, err := f.coord.Get(ctx, key)
		if err != nil {
			continue
		}
		var rec ServiceRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

// GetServiceNodes reads the entire nodes hash and decorates each entry
// with Elapsed, the seconds since it was last updated -- useful for
// dashboards even when the underlying instance is long dead.
func (f *Finder) GetServiceNodes(ctx context.Context) ([]*NodeInfo, error) {
	fields, err := f.coord.HGetAll(ctx, f.nodesKey())
	if err != nil {
		return nil, err
	}
	now := time.Now()
	nodes := make([]*NodeInfo, 0, len(fields))
	for _, raw := range fields {
		var n NodeInfo
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, n.UpdatedOn); err == nil {
			n.UpdatedOnTS = ts
			n.Elapsed = now.Sub(ts).Seconds()
		}
		nodes = append(nodes, &n)
	}
	return nodes, nil
}

// HasServicePresence reports whether at least one live instance of name
// exists, without decoding the roster.
func (f *Finder) HasServicePresence(ctx context.Context, name string) (bool, error) {
	keys, err := f.scanKeys(ctx, fmt.Sprintf("%s:%s:*:presence", f.keyPrefix, name))
	if err != nil {
		return false, err
	}
	return len(keys) > 0, nil
}

// GetServicePresence returns the live, shuffled roster for name.
// Internally this delegates to checkServicePresence; the shuffle itself
// is applied on every call regardless of cache hit or miss.
func (f *Finder) GetServicePresence(ctx context.Context, name string) ([]*NodeInfo, error) {
	nodes, err := f.checkServicePresence(ctx, name)
	if err != nil {
		return nil, err
	}
	shuffled := make([]*NodeInfo, len(nodes))
	copy(shuffled, nodes)
	util.FisherYatesShuffle(shuffled)
	return shuffled, nil
}

// checkServicePresence consults the presence cache (key
// checkServicePresence:{name}, TTL = presence TTL) before falling back
// to a live scan. The cache always stores the unshuffled roster so that
// every caller gets its own independent reshuffle.
func (f *Finder) checkServicePresence(ctx context.Context, name string) ([]*NodeInfo, error) {
	cacheKey := "checkServicePresence:" + name
	if cached, ok := f.presenceCache.Get(cacheKey); ok {
		return cached, nil
	}

	keys, err := f.scanKeys(ctx, fmt.Sprintf("%s:%s:*:presence", f.keyPrefix, name))
	if err != nil {
		return nil, err
	}

	instanceIDs := make([]string, 0, len(keys))
	for _, key := range keys {
		parts := strings.Split(key, ":")
		if len(parts) < 4 {
			continue
		}
		instanceIDs = append(instanceIDs, parts[3])
	}

	nodesRaw, err := f.coord.HGetAll(ctx, f.nodesKey())
	if err != nil {
		return nil, err
	}

	nodes := make([]*NodeInfo, 0, len(instanceIDs))
	for _, id := range instanceIDs {
		raw, ok := nodesRaw[id]
		if !ok {
			continue
		}
		var n NodeInfo
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, n.UpdatedOn); err == nil {
			n.UpdatedOnTS = ts
		}
		nodes = append(nodes, &n)
	}

	f.presenceCache.Set(cacheKey, nodes)
	return nodes, nil
}

// GetServiceHealth returns the latest health report for every live
// instance of name, caching the result for the presence TTL.
func (f *Finder) GetServiceHealth(ctx context.Context, name string) ([]*HealthReport, error) {
	cacheKey := "checkServiceHealth:" + name
	if cached, ok := f.healthCache.Get(cacheKey); ok {
		return cached, nil
	}

	keys, err := f.scanKeys(ctx, fmt.Sprintf("%s:%s:*:health", f.keyPrefix, name))
	if err != nil {
		return nil, err
	}

	reports := make([]*HealthReport, 0, len(keys))
	for _, key := range keys {
		if strings.HasSuffix(key, ":health:log") {
			continue
		}
		raw, err := f.coord.Get(ctx, key)
		if err != nil {
			continue
		}
		var report HealthReport
		if err := json.Unmarshal([]byte(raw), &report); err != nil {
			continue
		}
		reports = append(reports, &report)
	}

	f.healthCache.Set(cacheKey, reports)
	return reports, nil
}

// GetServiceHealthLog returns every instance's health log, newest first.
func (f *Finder) GetServiceHealthLog(ctx context.Context, name string) (map[string][]*HealthLogEntry, error) {
	keys, err := f.scanKeys(ctx, fmt.Sprintf("%s:%s:*:health:log", f.keyPrefix, name))
	if err != nil {
		return nil, err
	}

	out := make(map[string][]*HealthLogEntry, len(keys))
	for _, key := range keys {
		parts := strings.Split(key, ":")
		if len(parts) < 4 {
			continue
		}
		instanceID := parts[3]

		raw, err := f.coord.LRange(ctx, key, 0, -1)
		if err != nil {
			continue
		}
		entries := make([]*HealthLogEntry, 0, len(raw))
		for _, item := range raw {
			var entry HealthLogEntry
			if err := json.Unmarshal([]byte(item), &entry); err != nil {
				continue
			}
			entries = append(entries, &entry)
		}
		out[instanceID] = entries
	}
	return out, nil
}

// ServiceHealthAll is the fan-out result of GetServiceHealthAll.
type ServiceHealthAll struct {
	Presence []*NodeInfo
	Health   []*HealthReport
	Log      map[string][]*HealthLogEntry
}

// GetServiceHealthAll fans out presence, health, and health-log lookups
// for name.
func (f *Finder) GetServiceHealthAll(ctx context.Context, name string) (*ServiceHealthAll, error) {
	presence, err := f.GetServicePresence(ctx, name)
	if err != nil {
		return nil, err
	}
	health, err := f.GetServiceHealth(ctx, name)
	if err != nil {
		return nil, err
	}
	log, err := f.GetServiceHealthLog(ctx, name)
	if err != nil {
		return nil, err
	}
	return &ServiceHealthAll{Presence: presence, Health: health, Log: log}, nil
}
