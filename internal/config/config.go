package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"

	"alphabias/domain/channel"
	"alphabias/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Study    StudyConfig
	Paths    PathConfig
	Database DatabaseConfig
	Server   ServerConfig
	LogLevel string
}

// StudyConfig holds the toy study settings
type StudyConfig struct {
	Trials               int
	Seed                 uint64
	Workers              int
	RetainPlots          int
	Strategy             int
	MCScale              float64
	NormalizeToGenerated bool
	// Extrapolate moves the signal region to the high sideband window.
	Extrapolate bool
}

// PathConfig holds file system paths
type PathConfig struct {
	OutputDir string
	// SamplesDir is empty when samples are synthesized.
	SamplesDir   string
	ChannelsFile string
	PlotFormat   string
}

// DatabaseConfig holds database connection settings. An empty URL selects the
// JSON file store.
type DatabaseConfig struct {
	URL string
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port    string
	GinMode string
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Study:    loadStudyConfig(),
		Paths:    loadPathConfig(),
		Database: DatabaseConfig{URL: os.Getenv("DATABASE_URL")},
		Server:   loadServerConfig(),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}

	return config, nil
}

func loadStudyConfig() StudyConfig {
	return StudyConfig{
		Trials:               getEnvIntOrDefault("STUDY_TRIALS", 1000),
		Seed:                 getEnvUintOrDefault("STUDY_SEED", 42),
		Workers:              getEnvIntOrDefault("STUDY_WORKERS", runtime.NumCPU()),
		RetainPlots:          getEnvIntOrDefault("STUDY_RETAIN_PLOTS", 20),
		Strategy:             getEnvIntOrDefault("STUDY_STRATEGY", 2),
		MCScale:              getEnvFloatOrDefault("STUDY_MC_SCALE", 10),
		NormalizeToGenerated: getEnvBoolOrDefault("STUDY_NORMALIZE_TO_GENERATED", false),
		Extrapolate:          getEnvBoolOrDefault("STUDY_EXTRAPOLATE", false),
	}
}

func loadPathConfig() PathConfig {
	return PathConfig{
		OutputDir:    getEnvOrDefault("OUTPUT_DIR", "./plotsAlpha"),
		SamplesDir:   getEnvOrDefault("SAMPLES_DIR", ""),
		ChannelsFile: getEnvOrDefault("CHANNELS_FILE", ""),
		PlotFormat:   getEnvOrDefault("PLOT_FORMAT", "png"),
	}
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),
	}
}

func validateConfig(config *Config) error {
	s := config.Study
	if s.Trials <= 0 {
		return errors.ConfigInvalid("STUDY_TRIALS must be positive")
	}
	if s.Workers <= 0 {
		return errors.ConfigInvalid("STUDY_WORKERS must be positive")
	}
	if s.RetainPlots < 0 {
		return errors.ConfigInvalid("STUDY_RETAIN_PLOTS cannot be negative")
	}
	if s.Strategy < 0 || s.Strategy > 2 {
		return errors.ConfigInvalid(fmt.Sprintf("STUDY_STRATEGY %d is not in 0..2", s.Strategy))
	}
	if !(s.MCScale > 0) {
		return errors.ConfigInvalid("STUDY_MC_SCALE must be positive")
	}
	if config.Paths.OutputDir == "" {
		return errors.ConfigInvalid("OUTPUT_DIR is required")
	}
	switch config.Paths.PlotFormat {
	case "png", "pdf", "svg", "none":
	default:
		return errors.ConfigInvalid(fmt.Sprintf("PLOT_FORMAT %q is not png, pdf, svg or none", config.Paths.PlotFormat))
	}
	return nil
}

// ChannelOverrides maps channel names to their overrides.
type ChannelOverrides map[string]channel.Override

// LoadChannelOverrides reads the YAML channel overrides file. Unknown fields and
// unknown channel names are rejected.
func LoadChannelOverrides(path string) (ChannelOverrides, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var doc struct {
		Channels ChannelOverrides `yaml:"channels"`
	}
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrapf(errors.WithCode(errors.CodeConfigInvalid, err), "failed to parse %s", path)
	}
	for name := range doc.Channels {
		if _, err := channel.Parse(name); err != nil {
			return nil, errors.Wrapf(err, "channels file %s", path)
		}
	}
	return doc.Channels, nil
}

// Resolve returns the channel configuration and priors for name with any
// override applied.
func (o ChannelOverrides) Resolve(name string) (channel.Config, channel.Priors, error) {
	cfg, err := channel.Parse(name)
	if err != nil {
		return channel.Config{}, nil, err
	}
	ov, ok := o[name]
	if !ok {
		return cfg, channel.DefaultPriors(cfg), nil
	}
	return ov.Apply(cfg)
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvUintOrDefault(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
