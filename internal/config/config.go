// Package config parses zlinkd's YAML configuration: the set of
// ReplicationLinks this node owns, plus the ambient daemon settings
// (logging, RPC timeouts, datastore location, monitoring). Transport
// plugins are a discriminated union unmarshalled through a *Enum
// wrapper type; defaults, env overlay and struct validation run in
// ParseConfigBytes before a Config is handed out.
package config

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"go.yaml.in/yaml/v4"

	"github.com/ixsystems/zlinkd/internal/link"
	"github.com/ixsystems/zlinkd/internal/transport"
)

// Config is the root of zlinkd.yml.
type Config struct {
	Global *Global      `yaml:"global,omitempty"`
	Links  []LinkConfig `yaml:"links,omitempty" validate:"dive"`
}

// Link looks up a configured link by name.
func (c *Config) Link(name string) (*LinkConfig, error) {
	for i := range c.Links {
		if c.Links[i].Name == name {
			return &c.Links[i], nil
		}
	}
	return nil, fmt.Errorf("config: link %q not defined", name)
}

// Global holds daemon-wide settings: timeouts, persisted-state
// location, ambient logging/monitoring.
type Global struct {
	ZfsBin string `yaml:"zfs_bin,omitempty" env:"ZFS_BIN" default:"zfs"`

	// DataDir roots the on-disk replication.links / replication.key.*
	// persistence.
	DataDir string `yaml:"data_dir,omitempty" env:"DATA_DIR" default:"/var/db/zlinkd" validate:"required"`

	// Listen is the address the peer-facing JSON RPC server binds.
	Listen string `yaml:"listen,omitempty" env:"LISTEN" default:":5001" validate:"required"`

	// PeerAddress is the other controller's host or IP; this engine runs
	// as an HA-pair appliance, so every link's non-local partner resolves
	// to this single RPC connection. Left empty, every peer call fails
	// and degrades to a warning (fine for a single-node test setup).
	PeerAddress string `yaml:"peer_address,omitempty" env:"PEER_ADDRESS"`

	// LocalIPs is this host's set of replication-link partner
	// addresses; exactly one IP of every link's partner pair must be in
	// this set.
	LocalIPs []string `yaml:"local_ips,omitempty" env:"LOCAL_IPS" envSeparator:"," validate:"dive,ip"`

	RPCTimeout         time.Duration `yaml:"rpc_timeout,omitempty" env:"RPC_TIMEOUT" default:"1h" validate:"gt=0s"`
	InteractiveTimeout time.Duration `yaml:"interactive_timeout,omitempty" env:"INTERACTIVE_TIMEOUT" default:"20s" validate:"gt=0s"`
	StatusTTL          time.Duration `yaml:"status_ttl,omitempty" env:"STATUS_TTL" default:"5m" validate:"gt=0s"`

	Logging    *Logging         `yaml:"logging,omitempty"`
	Monitoring []MonitoringEnum `yaml:"monitoring,omitempty" validate:"dive"`

	// DefaultTransport is applied to link syncs whose link configures no
	// transport of its own, and to replication.replicate_dataset calls
	// that don't specify their own transport_plugins.
	DefaultTransport []transport.Config `yaml:"default_transport,omitempty" validate:"dive"`
}

// Logging configures the slog human outlet (internal/logging). Only one
// outlet kind is needed for this daemon, so there is no outlet enum.
type Logging struct {
	Level string `yaml:"level,omitempty" default:"info" validate:"oneof=debug info warn error"`
	Color bool   `yaml:"color,omitempty" default:"true"`
}

// LoggingOrDefault returns g.Logging, or field-defaulted zero value if the
// operator's config didn't include a logging block at all.
func (g *Global) LoggingOrDefault() *Logging {
	if g.Logging != nil {
		return g.Logging
	}
	l := &Logging{}
	_ = defaults.Set(l)
	return l
}

// LinkConfig is the on-disk shape of a ReplicationLink, plus the
// per-link transport default used by replication.sync.
type LinkConfig struct {
	Name     string    `yaml:"name" validate:"required"`
	Partners [2]string `yaml:"partners" validate:"required"`
	Master   string    `yaml:"master" validate:"required"`

	Datasets          []string `yaml:"datasets" validate:"required,min=1"`
	Recursive         bool     `yaml:"recursive,omitempty"`
	Bidirectional     bool     `yaml:"bidirectional,omitempty"`
	ReplicateServices bool     `yaml:"replicate_services,omitempty"`
	AutoMatchDisks    bool     `yaml:"auto_match_disks,omitempty"`

	Transport []transport.Config `yaml:"transport,omitempty" validate:"dive"`
}

// ToLink converts the parsed config row into the runtime link.Link record
// the registry persists. UpdateDate is left zero; Registry.Create sets it.
func (l LinkConfig) ToLink() link.Link {
	return link.Link{
		Name:              l.Name,
		Partners:          l.Partners,
		Master:            l.Master,
		Datasets:          append([]string(nil), l.Datasets...),
		Recursive:         l.Recursive,
		Bidirectional:     l.Bidirectional,
		ReplicateServices: l.ReplicateServices,
		AutoMatchDisks:    l.AutoMatchDisks,
	}
}

// MonitoringEnum is a discriminated union over monitoring outlet configs.
type MonitoringEnum struct {
	Ret interface{}
}

// PrometheusMonitoring exposes the internal/metrics collectors over HTTP.
type PrometheusMonitoring struct {
	Type           string `yaml:"type" validate:"required"`
	Listen         string `yaml:"listen" validate:"required"`
	ListenFreeBind bool   `yaml:"listen_freebind,omitempty"`
}

// NagiosMonitoring configures internal/monitor's link staleness/backlog
// check over the monitoringplugin NRPE-style protocol. zlinkd parses this
// block but does not run the check itself; `zlinkctl monitor` runs it with
// its own threshold flags.
type NagiosMonitoring struct {
	Type          string        `yaml:"type" validate:"required"`
	StaleWarning  time.Duration `yaml:"stale_warning,omitempty" default:"2h"`
	StaleCritical time.Duration `yaml:"stale_critical,omitempty" default:"24h"`
}

func enumUnmarshal(node *yaml.Node, types map[string]interface{}) (interface{}, error) {
	var in struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&in); err != nil {
		return nil, err
	}
	if in.Type == "" {
		return nil, fmt.Errorf("config: must specify type")
	}
	v, ok := types[in.Type]
	if !ok {
		return nil, fmt.Errorf("config: invalid type name %q", in.Type)
	}
	if err := defaults.Set(v); err != nil {
		return nil, fmt.Errorf("config: defaults for type %q: %w", in.Type, err)
	}
	if err := node.Decode(v); err != nil {
		return nil, err
	}
	return v, nil
}

// UnmarshalYAML implements yaml.Unmarshaler for the monitoring enum.
func (t *MonitoringEnum) UnmarshalYAML(node *yaml.Node) (err error) {
	t.Ret, err = enumUnmarshal(node, map[string]interface{}{
		"prometheus": &PrometheusMonitoring{},
		"nagios":     &NagiosMonitoring{},
	})
	return
}

// New returns a Config with Global populated from field defaults.
func New() (*Config, error) {
	c := &Config{Global: &Global{}}
	if err := defaults.Set(c.Global); err != nil {
		return nil, fmt.Errorf("config: set defaults: %w", err)
	}
	return c, nil
}

// ConfigFileDefaultLocations is searched in order when no --config flag
// is given.
var ConfigFileDefaultLocations = []string{
	"/etc/zlinkd/zlinkd.yml",
	"/usr/local/etc/zlinkd/zlinkd.yml",
}

// ParseConfig reads and parses the file at path, or the first existing
// file among ConfigFileDefaultLocations if path is empty.
func ParseConfig(path string) (*Config, error) {
	if path == "" {
		for _, l := range ConfigFileDefaultLocations {
			if stat, err := os.Stat(l); err == nil && stat.Mode().IsRegular() {
				path = l
				break
			}
		}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseConfigBytes(path, raw)
}

// ParseConfigBytes parses raw YAML bytes into a Config, applying field
// defaults, an environment-variable overlay (ZLINKD_-prefixed, via
// caarlos0/env), and struct validation. path is used only for error
// messages; pass "" when there is no backing file.
func ParseConfigBytes(path string, raw []byte) (*Config, error) {
	trimmed := bytes.TrimSpace(bytes.Trim(bytes.TrimSpace(raw), "-"))
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("config: %s: empty document", path)
	}

	c, err := New()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if c.Global == nil {
		if err := defaults.Set(c); err != nil {
			return nil, fmt.Errorf("config: set defaults: %w", err)
		}
	}

	if err := env.ParseWithOptions(c.Global, env.Options{Prefix: "ZLINKD_"}); err != nil {
		return nil, fmt.Errorf("config: env overlay: %w", err)
	}

	if err := Validator().Struct(c); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return c, nil
}

var validate *validator.Validate

// Validator returns the package-wide validator instance, configured to
// report YAML field names (not Go struct field names) in error messages.
func Validator() *validator.Validate {
	if validate == nil {
		validate = newValidator()
	}
	return validate
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
