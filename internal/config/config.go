// Package config loads expinfo configuration.
//
// Precedence, lowest to highest: built-in defaults, the first config file
// found (/etc/expinfo/config.yaml, then $HOME/.config/expinfo/config.yaml,
// or the file named by EXPINFO_CONFIG), EXPINFO_* environment variables,
// and runtime overrides passed to Load.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "EXPINFO"

// Config is the full application configuration.
type Config struct {
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`
	Run      RunConfig      `mapstructure:"run" yaml:"run"`
	Hooks    HooksConfig    `mapstructure:"hooks" yaml:"hooks"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
}

// RegistryConfig locates the shared registry file.
type RegistryConfig struct {
	Path         string        `mapstructure:"path" yaml:"path"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// RunConfig controls how jobs are spawned.
type RunConfig struct {
	Shell   string `mapstructure:"shell" yaml:"shell"`
	Numactl string `mapstructure:"numactl" yaml:"numactl"`
}

// HooksConfig controls the motd/prompt files maintained by `expinfo watch`.
type HooksConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir"`
	MotdFile   string `mapstructure:"motd_file" yaml:"motd_file"`
	PromptFile string `mapstructure:"prompt_file" yaml:"prompt_file"`
}

// LoggingConfig controls the CLI logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig controls the read-only status server.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// MotdPath returns the motd hook file path.
func (h HooksConfig) MotdPath() string {
	return filepath.Join(h.Dir, h.MotdFile)
}

// PromptPath returns the prompt hook file path.
func (h HooksConfig) PromptPath() string {
	return filepath.Join(h.Dir, h.PromptFile)
}

var (
	configMu  sync.RWMutex
	appConfig *Config
)

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("registry.path", "/tmp/expinfo/expinfo.json")
	v.SetDefault("registry.lock_timeout", "1s")
	v.SetDefault("registry.poll_interval", "100ms")

	v.SetDefault("run.shell", "/bin/sh")
	v.SetDefault("run.numactl", "numactl")

	v.SetDefault("hooks.dir", "/tmp/expinfo")
	v.SetDefault("hooks.motd_file", "motd")
	v.SetDefault("hooks.prompt_file", "prompt")

	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "console")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
}

// Load builds the configuration and makes it the one returned by GetConfig.
// Each override map is nested the same way as the config file.
func Load(ctx context.Context, overrides ...map[string]any) (*Config, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, o := range overrides {
		for key, val := range flatten("", o) {
			v.Set(key, val)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configMu.Lock()
	appConfig = &cfg
	configMu.Unlock()
	return &cfg, nil
}

// Default returns the built-in configuration, ignoring files and env.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg, decodeHook())
	return &cfg
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// GetConfig returns the configuration from the last successful Load, or nil.
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Registry.Path) == "" {
		errs = append(errs, errors.New("registry.path must not be empty"))
	}
	if c.Registry.PollInterval <= 0 {
		errs = append(errs, errors.New("registry.poll_interval must be positive"))
	}
	if strings.TrimSpace(c.Run.Shell) == "" {
		errs = append(errs, errors.New("run.shell must not be empty"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// ConfigPaths lists the directories searched for config.yaml, in order.
func ConfigPaths() []string {
	paths := []string{"/etc/expinfo"}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths, filepath.Join(home, ".config", "expinfo"))
	}
	return paths
}

func readConfigFile(v *viper.Viper) error {
	if explicit := strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG")); explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", explicit, err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range ConfigPaths() {
		v.AddConfigPath(p)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// flatten turns nested override maps into dotted viper keys.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = val
	}
	return out
}
