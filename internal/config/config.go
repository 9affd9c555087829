// Package config loads ember.toml, the project file that sizes the simulated
// chip and sets executor, boot, trace and log defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"

	"ember/internal/chip"
	"ember/internal/logging"
	"ember/internal/trace"
)

// FileName is the name of the project file.
const FileName = "ember.toml"

// Config is the decoded ember.toml.
type Config struct {
	Chip      ChipConfig      `toml:"chip"`
	Executor  ExecutorConfig  `toml:"executor"`
	Multicore MulticoreConfig `toml:"multicore"`
	Trace     TraceConfig     `toml:"trace"`
	Log       LogConfig       `toml:"log"`
}

type ChipConfig struct {
	FIFODepth int64 `toml:"fifo_depth"`
	IRQLines  int64 `toml:"irq_lines"`
}

type ExecutorConfig struct {
	PoolSize int64 `toml:"pool_size"`
	SWIIRQ   int64 `toml:"swi_irq"`
}

type MulticoreConfig struct {
	BootRetries int64         `toml:"boot_retries"`
	EchoTimeout time.Duration `toml:"echo_timeout"`
}

type TraceConfig struct {
	Level     string        `toml:"level"`
	Mode      string        `toml:"mode"`
	Output    string        `toml:"output"`
	RingSize  int64         `toml:"ring_size"`
	Heartbeat time.Duration `toml:"heartbeat"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the configuration used when no ember.toml exists.
func Default() Config {
	return Config{
		Chip:      ChipConfig{FIFODepth: 2, IRQLines: 32},
		Executor:  ExecutorConfig{PoolSize: 4, SWIIRQ: 26},
		Multicore: MulticoreConfig{BootRetries: 16, EchoTimeout: 50 * time.Millisecond},
		Trace:     TraceConfig{Level: "off", Mode: "ring", Output: "", RingSize: 4096},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Find walks up from startDir looking for ember.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load reads path over the defaults. Keys missing from the file keep their
// default values; unknown keys are errors.
func Load(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadNearest finds ember.toml from startDir upwards and loads it. Without a
// file it returns the defaults and an empty path.
func LoadNearest(startDir string) (Config, string, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return Config{}, "", err
	}
	if !ok {
		return Default(), "", nil
	}
	cfg, err := Load(path)
	if err != nil {
		return Config{}, path, err
	}
	return cfg, path, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	if _, err := c.Sizes(); err != nil {
		return err
	}
	if _, err := c.PoolSize(); err != nil {
		return err
	}
	if _, err := c.SWIInterrupt(); err != nil {
		return err
	}
	if _, err := c.BootRetries(); err != nil {
		return err
	}
	if c.Multicore.EchoTimeout <= 0 {
		return fmt.Errorf("[multicore].echo_timeout must be positive, got %s", c.Multicore.EchoTimeout)
	}
	if _, err := c.TraceSettings(); err != nil {
		return err
	}
	if !logging.ValidFormat(c.Log.Format) {
		return fmt.Errorf("[log].format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Sizes converts [chip] to the simulator's sizes.
func (c Config) Sizes() (chip.Config, error) {
	depth, err := safecast.Conv[int](c.Chip.FIFODepth)
	if err != nil || depth < 1 {
		return chip.Config{}, fmt.Errorf("[chip].fifo_depth must be a positive word count, got %d", c.Chip.FIFODepth)
	}
	lines, err := safecast.Conv[uint16](c.Chip.IRQLines)
	if err != nil || lines <= uint16(chip.IrqSIOProc1) {
		return chip.Config{}, fmt.Errorf("[chip].irq_lines must be in (%d, 65535], got %d", chip.IrqSIOProc1, c.Chip.IRQLines)
	}
	return chip.Config{FIFODepth: depth, IRQLines: int(lines)}, nil
}

// PoolSize returns [executor].pool_size.
func (c Config) PoolSize() (int, error) {
	n, err := safecast.Conv[int](c.Executor.PoolSize)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("[executor].pool_size must be positive, got %d", c.Executor.PoolSize)
	}
	return n, nil
}

// SWIInterrupt returns the line of the interrupt-mode executor. It must be
// a line of the configured chip other than the FIFO interrupts.
func (c Config) SWIInterrupt() (chip.Interrupt, error) {
	irq, err := safecast.Conv[uint16](c.Executor.SWIIRQ)
	if err != nil || int64(irq) >= c.Chip.IRQLines {
		return 0, fmt.Errorf("[executor].swi_irq must be in [0, %d), got %d", c.Chip.IRQLines, c.Executor.SWIIRQ)
	}
	if line := chip.Interrupt(irq); line == chip.IrqSIOProc0 || line == chip.IrqSIOProc1 {
		return 0, fmt.Errorf("[executor].swi_irq %d is reserved for the inter-core fifo", irq)
	}
	return chip.Interrupt(irq), nil
}

// BootRetries returns [multicore].boot_retries.
func (c Config) BootRetries() (int, error) {
	n, err := safecast.Conv[int](c.Multicore.BootRetries)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("[multicore].boot_retries must not be negative, got %d", c.Multicore.BootRetries)
	}
	return n, nil
}

// TraceSettings converts [trace] to a tracer configuration.
func (c Config) TraceSettings() (trace.Config, error) {
	level, err := trace.ParseLevel(c.Trace.Level)
	if err != nil {
		return trace.Config{}, fmt.Errorf("[trace].level: %w", err)
	}
	mode, err := trace.ParseMode(c.Trace.Mode)
	if err != nil {
		return trace.Config{}, fmt.Errorf("[trace].mode: %w", err)
	}
	ring, err := safecast.Conv[int](c.Trace.RingSize)
	if err != nil || ring < 1 {
		return trace.Config{}, fmt.Errorf("[trace].ring_size must be positive, got %d", c.Trace.RingSize)
	}
	if c.Trace.Heartbeat < 0 {
		return trace.Config{}, fmt.Errorf("[trace].heartbeat must not be negative, got %s", c.Trace.Heartbeat)
	}
	return trace.Config{
		Level:      level,
		Mode:       mode,
		OutputPath: c.Trace.Output,
		RingSize:   ring,
		Heartbeat:  c.Trace.Heartbeat,
	}, nil
}
