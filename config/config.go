// file: config/config.go
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/hydra-mesh/hydra/coordinator"
)

// HydraConfig holds the recognized keys under the "hydra" configuration
// block.
type HydraConfig struct {
	ServiceName        string            `json:"serviceName" mapstructure:"serviceName"`
	ServicePort        string            `json:"servicePort" mapstructure:"servicePort"`
	ServiceIP          string            `json:"serviceIP" mapstructure:"serviceIP"`
	ServiceInterface   string            `json:"serviceInterface" mapstructure:"serviceInterface"`
	ServiceDNS         string            `json:"serviceDNS" mapstructure:"serviceDNS"`
	ServiceVersion     string            `json:"serviceVersion" mapstructure:"serviceVersion"`
	ServiceType        string            `json:"serviceType" mapstructure:"serviceType"`
	ServiceDescription string            `json:"serviceDescription" mapstructure:"serviceDescription"`
	Redis              string            `json:"redis" mapstructure:"redis"`
	Plugins            map[string]any    `json:"plugins" mapstructure:"plugins"`
}

// Config holds all runtime settings for an instance.
type Config struct {
	Hydra    HydraConfig `json:"hydra"`
	LogLevel string      `json:"log_level"`

	HCMemoryCriticalThreshold float64 `json:"hc_memory_critical"`
	HCMemoryWarningThreshold  float64 `json:"hc_memory_warning"`
	HCLoadCriticalThreshold   float64 `json:"hc_load_critical"`
	HCLoadWarningThreshold    float64 `json:"hc_load_warning"`

	// PendingConfigLabel holds a "service:version" HYDRA_SERVICE override
	// that ApplyServiceOverride couldn't resolve on its own -- fetching
	// the stored configuration needs a coordinator connection, which
	// doesn't exist yet at env-parsing time. ResolveConfigLabel finishes
	// the job once one does.
	PendingConfigLabel string `json:"-"`
}

// Default returns a default config suitable for local development against
// an embedded, in-process coordinator.
func Default() *Config {
	return &Config{
		Hydra: HydraConfig{
			ServiceName: "unnamed",
			ServicePort: "0",
			ServiceType: "service",
			Plugins:     map[string]any{},
		},
		LogLevel:                  "info",
		HCMemoryCriticalThreshold: 10.0,
		HCMemoryWarningThreshold:  20.0,
		HCLoadCriticalThreshold:   1.5,
		HCLoadWarningThreshold:    1.0,
	}
}

// Load reads a JSON config file, expanding ${VAR} references against the
// process environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	data = replaceEnvVars(data)

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config json: %w", err)
	}
	return cfg, nil
}

// LoadFromEnv builds a Config from environment variables under prefix,
// then applies the HYDRA_SERVICE override per the three accepted forms:
// pipe-separated key=val pairs, an inline JSON object, or a
// "service:version" label. The label form only records itself as
// Config.PendingConfigLabel here -- resolving it against the Config
// Store needs a coordinator connection, which doesn't exist yet at this
// point in startup; call Config.ResolveConfigLabel once one does.
func LoadFromEnv(prefix string) (*Config, error) {
	cfg := Default()

	cfg.Hydra.ServiceName = getenvStr(prefix+"SERVICE_NAME", cfg.Hydra.ServiceName)
	cfg.Hydra.ServicePort = getenvStr(prefix+"SERVICE_PORT", cfg.Hydra.ServicePort)
	cfg.Hydra.ServiceIP = getenvStr(prefix+"SERVICE_IP", cfg.Hydra.ServiceIP)
	cfg.Hydra.ServiceDNS = getenvStr(prefix+"SERVICE_DNS", cfg.Hydra.ServiceDNS)
	cfg.Hydra.ServiceVersion = getenvStr(prefix+"SERVICE_VERSION", cfg.Hydra.ServiceVersion)
	cfg.Hydra.Redis = getenvStr("HYDRA_REDIS_URL", cfg.Hydra.Redis)
	cfg.LogLevel = getenvStr(prefix+"LOG_LEVEL", cfg.LogLevel)
	cfg.HCMemoryCriticalThreshold = getenvFloat(prefix+"HC_MEMORY_CRITICAL", cfg.HCMemoryCriticalThreshold)
	cfg.HCMemoryWarningThreshold = getenvFloat(prefix+"HC_MEMORY_WARNING", cfg.HCMemoryWarningThreshold)
	cfg.HCLoadCriticalThreshold = getenvFloat(prefix+"HC_LOAD_CRITICAL", cfg.HCLoadCriticalThreshold)
	cfg.HCLoadWarningThreshold = getenvFloat(prefix+"HC_LOAD_WARNING", cfg.HCLoadWarningThreshold)

	if raw := os.Getenv("HYDRA_SERVICE"); raw != "" {
		if err := ApplyServiceOverride(cfg, raw); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// ApplyServiceOverride merges the HYDRA_SERVICE environment value into
// cfg.Hydra. It accepts pipe-separated key=val pairs or an inline JSON
// object; mapstructure.Decode performs the map-to-struct conversion so
// numeric/bool fields in JSON form are coerced the same way either path
// would produce.
func ApplyServiceOverride(cfg *Config, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var overrides map[string]any
	if strings.HasPrefix(raw, "{") {
		if err := json.Unmarshal([]byte(raw), &overrides); err != nil {
			return fmt.Errorf("HYDRA_SERVICE: invalid JSON: %w", err)
		}
	} else if strings.Contains(raw, "=") {
		overrides = make(map[string]any)
		for _, pair := range strings.Split(raw, "|") {
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				continue
			}
			overrides[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	} else {
		// "service:version" label — fetching the stored config needs a
		// coordinator connection that doesn't exist yet at this point in
		// startup, so just record the label; the caller finishes the job
		// with ResolveConfigLabel once a coordinator is connected.
		parts := strings.SplitN(raw, ":", 2)
		cfg.Hydra.ServiceName = parts[0]
		if len(parts) == 2 {
			cfg.Hydra.ServiceVersion = parts[1]
		}
		cfg.PendingConfigLabel = raw
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg.Hydra,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return decoder.Decode(overrides)
}

// ConfigStore reads and writes versioned service configuration under the
// Config Store: a coordinator hash at "{prefix}:{service}:configs" keyed
// by version label, value = the configuration's JSON encoding.
type ConfigStore struct {
	coord       coordinator.Coordinator
	keyPrefix   string
	serviceName string
}

// NewConfigStore creates a ConfigStore for serviceName.
func NewConfigStore(coord coordinator.Coordinator, keyPrefix, serviceName string) *ConfigStore {
	return &ConfigStore{coord: coord, keyPrefix: keyPrefix, serviceName: serviceName}
}

func (s *ConfigStore) key() string {
	return fmt.Sprintf("%s:%s:configs", s.keyPrefix, s.serviceName)
}

// GetConfig decodes the JSON configuration stored under version.
func (s *ConfigStore) GetConfig(ctx context.Context, version string) (map[string]any, error) {
	raw, err := s.coord.HGet(ctx, s.key(), version)
	if err != nil {
		return nil, fmt.Errorf("config: get %s/%s: %w", s.serviceName, version, err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("config: decode %s/%s: %w", s.serviceName, version, err)
	}
	return decoded, nil
}

// PutConfig writes cfg, JSON-encoded, under version.
func (s *ConfigStore) PutConfig(ctx context.Context, version string, cfg map[string]any) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode %s/%s: %w", s.serviceName, version, err)
	}
	return s.coord.HSet(ctx, s.key(), version, string(data))
}

// ListConfig returns every stored version label for this service, sorted.
func (s *ConfigStore) ListConfig(ctx context.Context) ([]string, error) {
	versions, err := s.coord.HKeys(ctx, s.key())
	if err != nil {
		return nil, err
	}
	sort.Strings(versions)
	return versions, nil
}

// ResolveConfigLabel fetches the configuration recorded against cfg's
// PendingConfigLabel (a "service:version" HYDRA_SERVICE override) from
// the Config Store and merges it into cfg.Hydra via the same
// mapstructure decode ApplyServiceOverride's other two forms use. A
// malformed label is a hard error per spec.md §9, rather than silently
// falling through to an HGet on an undefined field. A no-op when no
// label is pending.
func (cfg *Config) ResolveConfigLabel(ctx context.Context, coord coordinator.Coordinator, keyPrefix string) error {
	if cfg.PendingConfigLabel == "" {
		return nil
	}
	if cfg.Hydra.ServiceName == "" || cfg.Hydra.ServiceVersion == "" {
		return fmt.Errorf("config: malformed HYDRA_SERVICE label %q: want \"service:version\"", cfg.PendingConfigLabel)
	}

	store := NewConfigStore(coord, keyPrefix, cfg.Hydra.ServiceName)
	stored, err := store.GetConfig(ctx, cfg.Hydra.ServiceVersion)
	if err != nil {
		return fmt.Errorf("config: resolve label %q: %w", cfg.PendingConfigLabel, err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg.Hydra,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(stored); err != nil {
		return err
	}
	cfg.PendingConfigLabel = ""
	return nil
}

// Validate checks config for required values per the configuration table:
// serviceName and servicePort are mandatory. serviceName is lower-cased
// internally once it passes the ':'/space check.
func (cfg *Config) Validate() error {
	var missing []string
	name := cfg.Hydra.ServiceName
	if name == "" {
		missing = append(missing, "hydra.serviceName")
	} else if strings.ContainsAny(name, ": ") {
		return fmt.Errorf("invalid config: hydra.serviceName must not contain ':' or spaces")
	} else {
		cfg.Hydra.ServiceName = strings.ToLower(name)
	}
	if cfg.Hydra.ServicePort == "" {
		missing = append(missing, "hydra.servicePort")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid config: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (cfg *Config) String() string {
	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}

func (cfg *Config) Dump(w io.Writer) {
	data, _ := json.MarshalIndent(cfg, "", "  ")
	_, _ = w.Write(data)
}

// ----------------------------------------------------
// Env helpers
// ----------------------------------------------------

func getenvStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

// replaceEnvVars replaces ${ENV_VAR} references in data with values from
// os.Getenv.
func replaceEnvVars(data []byte) []byte {
	s := os.Expand(string(data), os.Getenv)
	return []byte(s)
}
