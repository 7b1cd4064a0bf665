package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/c360/incidentwatch/errors"
	"github.com/c360/incidentwatch/policy"
)

// Config is the complete application configuration.
type Config struct {
	Directories DirectoriesConfig `json:"directories"`
	Schedule    ScheduleConfig    `json:"schedule"`
	Retention   RetentionConfig   `json:"retention"`
	Policy      PolicyConfig      `json:"policy"`
	Server      ServerConfig      `json:"server"`
	Log         LogConfig         `json:"log"`
}

// DirectoriesConfig names the watched directories.
type DirectoriesConfig struct {
	// Source is the directory the CAD system drops export files into.
	Source string `json:"source"`

	// Staging is the working directory exports are copied to and
	// aggregated from. The process must own it exclusively.
	Staging string `json:"staging"`
}

// ScheduleConfig holds the loop intervals. Durations are JSON strings
// ("5s", "10m").
type ScheduleConfig struct {
	IntakeInterval  time.Duration `json:"intake_interval"`
	ProcessInterval time.Duration `json:"process_interval"`
}

// RetentionConfig drives the retention sweeper.
type RetentionConfig struct {
	// Ceiling is the maximum time a call stays displayed after it first
	// appears, regardless of activity.
	Ceiling time.Duration `json:"ceiling"`

	// SweepInterval is how often expired calls are looked for.
	SweepInterval time.Duration `json:"sweep_interval"`

	// StartupGrace delays the first sweep so a restart does not expire
	// calls before the first pass has rebuilt the registry.
	StartupGrace time.Duration `json:"startup_grace"`
}

// PolicyConfig holds the classification tables in their on-disk form.
type PolicyConfig struct {
	// ExcludedUnitPatterns are case-insensitive glob patterns matched
	// against unit identifiers; one match drops the whole call.
	ExcludedUnitPatterns []string `json:"excluded_unit_patterns"`

	// ExcludedUnitTypes are unit type names hidden from display and,
	// when primary, dropping the call.
	ExcludedUnitTypes []string `json:"excluded_unit_types"`

	// ExcludedCallTypes are call type texts dropped outright.
	ExcludedCallTypes []string `json:"excluded_call_types"`

	// JurisdictionAgency maps a unit's jurisdiction to Fire, EMS or
	// Police for agency screening.
	JurisdictionAgency map[string]string `json:"jurisdiction_agency"`
}

// Tables builds the runtime policy tables, lower-casing the set entries.
func (p PolicyConfig) Tables() policy.Tables {
	t := policy.Tables{
		ExcludedUnitPatterns: append([]string(nil), p.ExcludedUnitPatterns...),
		ExcludedUnitTypes:    make(map[string]bool, len(p.ExcludedUnitTypes)),
		ExcludedCallTypes:    make(map[string]bool, len(p.ExcludedCallTypes)),
		JurisdictionAgency:   make(map[string]string, len(p.JurisdictionAgency)),
	}
	for _, v := range p.ExcludedUnitTypes {
		t.ExcludedUnitTypes[strings.ToLower(v)] = true
	}
	for _, v := range p.ExcludedCallTypes {
		t.ExcludedCallTypes[strings.ToLower(v)] = true
	}
	for k, v := range p.JurisdictionAgency {
		t.JurisdictionAgency[k] = v
	}
	return t
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Address string `json:"address"`

	// ReadRateLimit and ReadRateBurst bound on-demand aggregation reads,
	// since each one walks the staging directory under the pipeline lock.
	ReadRateLimit float64 `json:"read_rate_limit"`
	ReadRateBurst int     `json:"read_rate_burst"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}
	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.Directories.Source == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "check directories.source")
	}
	if c.Directories.Staging == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "check directories.staging")
	}
	if c.Directories.Source == c.Directories.Staging {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate",
			"check directories: source and staging must differ")
	}

	if c.Schedule.IntakeInterval <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate", "check schedule.intake_interval")
	}
	if c.Schedule.ProcessInterval <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate", "check schedule.process_interval")
	}

	if c.Retention.Ceiling <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate", "check retention.ceiling")
	}
	if c.Retention.SweepInterval <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate", "check retention.sweep_interval")
	}
	if c.Retention.StartupGrace < 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate", "check retention.startup_grace")
	}

	for _, pattern := range c.Policy.ExcludedUnitPatterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate",
				"check policy.excluded_unit_patterns: bad pattern "+pattern)
		}
	}
	for jurisdiction, agency := range c.Policy.JurisdictionAgency {
		switch agency {
		case policy.AgencyFire, policy.AgencyEMS, policy.AgencyPolice:
		default:
			return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("check policy.jurisdiction_agency[%s]: unknown agency %q", jurisdiction, agency))
		}
	}

	if c.Server.Address == "" {
		return errors.WrapFatal(errors.ErrMissingConfig, "Config", "Validate", "check server.address")
	}
	if c.Server.ReadRateLimit <= 0 || c.Server.ReadRateBurst <= 0 {
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate", "check server rate limits")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate", "check log.level "+c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.WrapFatal(errors.ErrInvalidConfig, "Config", "Validate", "check log.format "+c.Log.Format)
	}

	return nil
}

// Loader handles configuration loading with layers and overrides.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: "INCIDENTWATCH",
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier
// ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file.
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers over the defaults, then
// applies environment overrides.
func (l *Loader) Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range l.layers {
		rawConfig, err := l.loadRawJSON(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		cfg = l.mergeFromMap(cfg, rawConfig)
	}

	l.applyEnvOverrides(cfg)

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Defaults returns the default configuration. The directories carry no
// default; they must come from a file, the environment, or flags.
func Defaults() *Config {
	return &Config{
		Schedule: ScheduleConfig{
			IntakeInterval:  5 * time.Second,
			ProcessInterval: 5 * time.Second,
		},
		Retention: RetentionConfig{
			Ceiling:       360 * time.Minute,
			SweepInterval: 10 * time.Minute,
			StartupGrace:  5 * time.Second,
		},
		Server: ServerConfig{
			Address:       ":8080",
			ReadRateLimit: 100,
			ReadRateBurst: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// loadRawJSON loads configuration from a JSON file as a map.
func (l *Loader) loadRawJSON(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := validateJSONDepth(data); err != nil {
		return nil, fmt.Errorf("invalid JSON structure: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return nil, err
	}

	l.parseDurations(rawConfig)

	return rawConfig, nil
}

// mergeFromMap merges configuration from a raw map, only overriding fields
// present in the map.
func (l *Loader) mergeFromMap(base *Config, override map[string]any) *Config {
	if override == nil {
		return base
	}

	baseJSON, err := json.Marshal(base)
	if err != nil {
		return base
	}
	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return base
	}

	mergedMap := deepMergeMaps(baseMap, override)

	mergedJSON, err := json.Marshal(mergedMap)
	if err != nil {
		return base
	}
	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return base
	}
	return &merged
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, baseOk := base[k].(map[string]any); baseOk {
			if overrideMap, overrideOk := v.(map[string]any); overrideOk {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// parseDurations converts duration strings ("5s", "10m") to nanoseconds so
// the standard JSON unmarshal lands them in time.Duration fields.
func (l *Loader) parseDurations(data map[string]any) {
	if schedule, ok := data["schedule"].(map[string]any); ok {
		parseDurationKey(schedule, "intake_interval")
		parseDurationKey(schedule, "process_interval")
	}
	if retention, ok := data["retention"].(map[string]any); ok {
		parseDurationKey(retention, "ceiling")
		parseDurationKey(retention, "sweep_interval")
		parseDurationKey(retention, "startup_grace")
	}
}

func parseDurationKey(section map[string]any, key string) {
	if raw, ok := section[key].(string); ok {
		if d, err := time.ParseDuration(raw); err == nil {
			section[key] = d.Nanoseconds()
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(l.envPrefix + "_SOURCE_DIR"); val != "" {
		cfg.Directories.Source = val
	}
	if val := os.Getenv(l.envPrefix + "_STAGING_DIR"); val != "" {
		cfg.Directories.Staging = val
	}
	if val := os.Getenv(l.envPrefix + "_SERVER_ADDRESS"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Log.Level = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_FORMAT"); val != "" {
		cfg.Log.Format = val
	}
}
