package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds the capacities and eviction sampling rates of the
// tracked state. The eviction denominators are the inverse sampling
// fractions: a denominator of 2 means each entry is evicted with
// probability 1/2 once the container is over capacity.
type EngineConfig struct {
	CacheCapacity               int `yaml:"cache_capacity"`
	CacheEvictDenominator       int `yaml:"cache_evict_denominator"`
	WriteBufferCapacity         int `yaml:"write_buffer_capacity"`
	WriteBufferEvictDenominator int `yaml:"write_buffer_evict_denominator"`
}

// VerifierConfig holds crash-simulation configuration.
type VerifierConfig struct {
	Path                    string `yaml:"path"`                      // verifier executable; empty disables simulation
	Enabled                 bool   `yaml:"enabled"`                   // master switch, also toggled at runtime
	CrashProbabilityPercent int    `yaml:"crash_probability_percent"` // chance of a simulated crash at each crash point
	ArtifactDir             string `yaml:"artifact_dir"`              // where dump/stdout/stderr artifacts are written
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// Config is the top-level configuration struct.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Verifier VerifierConfig `yaml:"verifier"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Engine: EngineConfig{
			CacheCapacity:               1024,
			CacheEvictDenominator:       2,
			WriteBufferCapacity:         64,
			WriteBufferEvictDenominator: 10,
		},
		Verifier: VerifierConfig{
			Path:                    "",
			Enabled:                 true,
			CrashProbabilityPercent: 1,
			ArtifactDir:             ".",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "pmemtrace.log",
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	if cfg.Engine.CacheEvictDenominator < 1 || cfg.Engine.WriteBufferEvictDenominator < 1 {
		return nil, fmt.Errorf("eviction denominators must be >= 1")
	}
	if cfg.Verifier.CrashProbabilityPercent < 0 || cfg.Verifier.CrashProbabilityPercent > 100 {
		return nil, fmt.Errorf("crash_probability_percent must be in [0,100], got %d", cfg.Verifier.CrashProbabilityPercent)
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
