package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings configure the tool itself. Unlike Environment they carry
// defaults, and can come from flags, LHS_* variables or a YAML file.
type Settings struct {
	ConfigFile       string        `mapstructure:"config"`
	ManifestPath     string        `mapstructure:"manifest"`
	EnvFile          string        `mapstructure:"env-file"`
	OverridesFile    string        `mapstructure:"overrides"`
	APISource        string        `mapstructure:"api-source"`
	WebSource        string        `mapstructure:"web-source"`
	ListenAddr       string        `mapstructure:"listen"`
	LogLevel         string        `mapstructure:"log-level"`
	ReadinessTimeout time.Duration `mapstructure:"readiness-timeout"`
	PreflightTimeout time.Duration `mapstructure:"preflight-timeout"`
	WatchdogInterval time.Duration `mapstructure:"watchdog-interval"`
	ProbeHost        string        `mapstructure:"probe-host"`
	WebRoot          string        `mapstructure:"web-root"`
	WebListenAddr    string        `mapstructure:"web-listen"`
	APIUpstream      string        `mapstructure:"api-upstream"`
	SkipPreflight    bool          `mapstructure:"skip-preflight"`
	RemoveNetwork    bool          `mapstructure:"remove-network"`
	OutputDir        string        `mapstructure:"output"`
}

// Setting keys, shared by flags, the config file and LHS_* variables.
const (
	KeyConfigFile       = "config"
	KeyManifestPath     = "manifest"
	KeyEnvFile          = "env-file"
	KeyOverridesFile    = "overrides"
	KeyAPISource        = "api-source"
	KeyWebSource        = "web-source"
	KeyListenAddr       = "listen"
	KeyLogLevel         = "log-level"
	KeyReadinessTimeout = "readiness-timeout"
	KeyPreflightTimeout = "preflight-timeout"
	KeyWatchdogInterval = "watchdog-interval"
	KeyProbeHost        = "probe-host"
	KeyWebRoot          = "web-root"
	KeyWebListenAddr    = "web-listen"
	KeyAPIUpstream      = "api-upstream"
	KeySkipPreflight    = "skip-preflight"
	KeyRemoveNetwork    = "remove-network"
	KeyOutputDir        = "output"
)

// SettingKeys lists every key, for binding command line flags.
var SettingKeys = []string{
	KeyConfigFile,
	KeyManifestPath,
	KeyEnvFile,
	KeyOverridesFile,
	KeyAPISource,
	KeyWebSource,
	KeyListenAddr,
	KeyLogLevel,
	KeyReadinessTimeout,
	KeyPreflightTimeout,
	KeyWatchdogInterval,
	KeyProbeHost,
	KeyWebRoot,
	KeyWebListenAddr,
	KeyAPIUpstream,
	KeySkipPreflight,
	KeyRemoveNetwork,
	KeyOutputDir,
}

// Defaults of the durations, shared with the CLI flag help.
const (
	DefaultReadinessTimeout = 5 * time.Minute
	DefaultPreflightTimeout = 10 * time.Second
	DefaultWatchdogInterval = 15 * time.Second
)

// NewViper returns a viper instance with the setting defaults and the
// LHS_ environment prefix. Deployment variables are read from the same
// instance without the prefix, see LoadEnvironment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("LHS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyEnvFile, ".env")
	v.SetDefault(KeyAPISource, "./backend")
	v.SetDefault(KeyWebSource, "./frontend")
	v.SetDefault(KeyListenAddr, ":3000")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyReadinessTimeout, DefaultReadinessTimeout)
	v.SetDefault(KeyPreflightTimeout, DefaultPreflightTimeout)
	v.SetDefault(KeyWatchdogInterval, DefaultWatchdogInterval)
	v.SetDefault(KeyProbeHost, "127.0.0.1")
	v.SetDefault(KeyWebRoot, "./frontend/dist")
	v.SetDefault(KeyWebListenAddr, ":8080")
	v.SetDefault(KeyOutputDir, "./deploy")
	v.SetDefault(KeyConfigFile, "")
	v.SetDefault(KeyManifestPath, "")
	v.SetDefault(KeyOverridesFile, "")
	v.SetDefault(KeyAPIUpstream, "")
	v.SetDefault(KeySkipPreflight, false)
	v.SetDefault(KeyRemoveNetwork, false)
	return v
}

// LoadSettings reads the optional config file and decodes the settings.
func LoadSettings(v *viper.Viper) (Settings, error) {
	if file := v.GetString(KeyConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Settings{}, fmt.Errorf("failed to read config %s: %w", file, err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	if s.ReadinessTimeout <= 0 {
		return Settings{}, fmt.Errorf("readiness timeout must be positive, got %s", s.ReadinessTimeout)
	}
	if s.PreflightTimeout <= 0 {
		return Settings{}, fmt.Errorf("preflight timeout must be positive, got %s", s.PreflightTimeout)
	}
	return s, nil
}
