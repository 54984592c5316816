package conversion

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a yaml-friendly wrapper accepting "30s" style strings or raw
// nanosecond integers.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v))
	case float64:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.Std().String(), nil
}

// Config is the explicit engine/worker configuration; no process-global
// settings lookups happen anywhere else.
type Config struct {
	// PollInterval spaces deferred polling signals.
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`
	// JobDeadline is the hard overall ceiling enforced by the maintenance
	// sweep, independent of per-state retry budgets.
	JobDeadline Duration `yaml:"job_deadline" json:"job_deadline"`
	// Workers is the number of concurrent signal workers; per-job
	// serialization is enforced by the queue regardless.
	Workers int `yaml:"workers" json:"workers"`
	// Zone and Role are attached to every scheduled signal as routing hints.
	Zone string `yaml:"zone,omitempty" json:"zone,omitempty"`
	Role string `yaml:"role,omitempty" json:"role,omitempty"`
	// Budgets overrides the per-state wall-clock allowances used to derive
	// retry budgets.
	Budgets map[string]Duration `yaml:"budgets,omitempty" json:"budgets,omitempty"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: Duration(60 * time.Second),
		JobDeadline:  Duration(36 * time.Hour),
		Workers:      1,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.PollInterval.Std() <= 0 {
		return CloneError(ErrPrecondition, "poll_interval must be positive", nil, nil)
	}
	if c.JobDeadline.Std() <= 0 {
		return CloneError(ErrPrecondition, "job_deadline must be positive", nil, nil)
	}
	if c.Workers < 1 {
		return CloneError(ErrPrecondition, "workers must be at least 1", nil, nil)
	}
	for state, d := range c.Budgets {
		if d.Std() < 0 {
			return CloneError(ErrPrecondition, "budget cannot be negative", nil, map[string]any{
				"state": state,
			})
		}
	}
	return nil
}

// ParseConfig decodes YAML (or JSON) on top of the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadConfig reads and parses a configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), err
	}
	return ParseConfig(data)
}

// BudgetFor returns the configured allowance for a state, falling back to the
// provided default.
func (c Config) BudgetFor(state string, fallback time.Duration) time.Duration {
	if d, ok := c.Budgets[state]; ok {
		return d.Std()
	}
	return fallback
}
