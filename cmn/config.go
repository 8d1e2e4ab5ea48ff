package cmn

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the fleet-wide configuration, loaded once at orchestrator
// construction and never mutated in place: runtime changes go through
// the management plane's copy-on-write registries (chaos, mocks,
// identities), never through this struct, matching the "module-level
// mutable defaults" redesign note in spec.md §9.
type Config struct {
	DataDir         string        `yaml:"data_dir"`
	FleetPort       int           `yaml:"fleet_port"`
	IdentitiesPath  string        `yaml:"identities_path"`
	PermissionsPath string        `yaml:"permissions_path"`
	Services        []string      `yaml:"services"`
	GraceWindow     time.Duration `yaml:"grace_window"`
	Debounce        time.Duration `yaml:"watch_debounce"`
	IAMMode         string        `yaml:"iam_mode"`
	IAMDefaultID    string        `yaml:"iam_default_identity"`
}

// Default returns a Config with spec.md's stated defaults.
func Default() *Config {
	return &Config{
		DataDir:     "./data",
		FleetPort:   4566,
		GraceWindow: DefaultGraceWindow,
		Debounce:    DefaultDebounce,
		IAMMode:     IAMDisabled,
		Services: []string{
			ServiceDynamoDB, ServiceS3, ServiceSQS, ServiceSNS,
			ServiceEventBridge, ServiceScheduler, ServiceIAM, ServiceSTS,
		},
	}
}

// Load reads a YAML config file over the defaults and applies
// "key=value,key2=value2" command-line overrides, mirroring aistore's
// daemon.go -config_custom flag and cmn.ConfigToUpdate.FillFromKVS.
func Load(path string, overrides string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing config %s", path)
		}
	}
	if overrides != "" {
		if err := applyOverrides(cfg, overrides); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func applyOverrides(cfg *Config, overrides string) error {
	for _, kv := range strings.Split(overrides, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid override %q, expected key=value", kv)
		}
		key, val := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		if err := setField(cfg, key, val); err != nil {
			return errors.Wrapf(err, "override %q", kv)
		}
	}
	return nil
}

func setField(cfg *Config, key, val string) error {
	switch key {
	case "data_dir":
		cfg.DataDir = val
	case "fleet_port":
		p, err := strconv.Atoi(val)
		if err != nil {
			return err
		}
		cfg.FleetPort = p
	case "identities_path":
		cfg.IdentitiesPath = val
	case "permissions_path":
		cfg.PermissionsPath = val
	case "iam_mode":
		cfg.IAMMode = val
	case "iam_default_identity":
		cfg.IAMDefaultID = val
	case "grace_window":
		d, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		cfg.GraceWindow = d
	case "watch_debounce":
		d, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		cfg.Debounce = d
	case "services":
		cfg.Services = strings.Split(val, ";")
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

// ResolveRefs resolves CloudFormation-shaped {"Ref": "X"} placeholders
// and raw "${X}" placeholder strings embedded in an environment map
// against a supplied name->value registry, leaving unresolved
// references untouched (spec.md §6).
func ResolveRefs(env map[string]string, registry map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = resolveValue(v, registry)
	}
	return out
}

func resolveValue(v string, registry map[string]string) string {
	if strings.HasPrefix(strings.TrimSpace(v), "{") {
		var ref struct {
			Ref string `json:"Ref"`
		}
		if err := json.Unmarshal([]byte(v), &ref); err == nil && ref.Ref != "" {
			if resolved, ok := registry[ref.Ref]; ok {
				return resolved
			}
			return v
		}
	}
	const pfx, sfx = "${", "}"
	if strings.HasPrefix(v, pfx) && strings.HasSuffix(v, sfx) {
		name := v[len(pfx) : len(v)-len(sfx)]
		if resolved, ok := registry[name]; ok {
			return resolved
		}
		return v
	}
	if resolved, ok := registry[v]; ok {
		return resolved
	}
	return v
}
