package refx

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config configures a Runtime. The zero value is usable: every field
// defaults when left at zero.
type Config struct {
	// SendWorkers is the fixed size of the bounded pool that runs
	// Agent.Send actions. Intended for CPU-bound, non-blocking actions.
	// Default: runtime.NumCPU() + 2.
	SendWorkers int `yaml:"send_workers"`

	// SendOffLimit caps concurrently live goroutines on the elastic pool
	// that runs Agent.SendOff actions. The pool grows per action up to
	// this limit; it exists so Close can drain deterministically.
	// Default: 4096.
	SendOffLimit int `yaml:"send_off_limit"`

	// MaxTxRetries is the number of automatic retries a transaction may
	// consume after its first attempt before failing with a barge error.
	// Default: 10000.
	MaxTxRetries int `yaml:"max_tx_retries"`

	// SwapWarnThreshold is the number of atom swap retries after which a
	// contention diagnostic is logged. The retry loop itself is
	// unbounded. Default: 1000.
	SwapWarnThreshold int `yaml:"swap_warn_threshold"`

	// StrictNesting makes RunTransaction fail with a reentrancy error
	// when a transaction is already live on the calling goroutine,
	// instead of joining it.
	StrictNesting bool `yaml:"strict_nesting"`
}

// DefaultConfig returns the default runtime configuration.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

// withDefaults fills zero fields with their defaults.
func (c Config) withDefaults() Config {
	if c.SendWorkers == 0 {
		c.SendWorkers = runtime.NumCPU() + 2
	}
	if c.SendOffLimit == 0 {
		c.SendOffLimit = 4096
	}
	if c.MaxTxRetries == 0 {
		c.MaxTxRetries = 10000
	}
	if c.SwapWarnThreshold == 0 {
		c.SwapWarnThreshold = 1000
	}
	return c
}

// Validate validates the configuration:
// - SendWorkers and SendOffLimit must not be negative
// - MaxTxRetries and SwapWarnThreshold must not be negative
// - SendOffLimit must be at least SendWorkers when both are set
func (c *Config) Validate() error {
	if c.SendWorkers < 0 {
		return errors.New("send_workers cannot be negative")
	}
	if c.SendOffLimit < 0 {
		return errors.New("send_off_limit cannot be negative")
	}
	if c.MaxTxRetries < 0 {
		return errors.New("max_tx_retries cannot be negative")
	}
	if c.SwapWarnThreshold < 0 {
		return errors.New("swap_warn_threshold cannot be negative")
	}
	if c.SendWorkers > 0 && c.SendOffLimit > 0 && c.SendOffLimit < c.SendWorkers {
		return fmt.Errorf("send_off_limit %d is smaller than send_workers %d", c.SendOffLimit, c.SendWorkers)
	}
	return nil
}

// LoadConfig reads a YAML configuration file and validates it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation after load: %w", err)
	}

	return cfg, nil
}
