package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/thindl/thindl/internal/engine/types"
)

// Settings holds all user-configurable application settings organized by category.
type Settings struct {
	General     GeneralSettings    `mapstructure:"general" yaml:"general"`
	Connections ConnectionSettings `mapstructure:"connections" yaml:"connections"`
	Retry       RetrySettings      `mapstructure:"retry" yaml:"retry"`
	Transfer    TransferSettings   `mapstructure:"transfer" yaml:"transfer"`
}

// GeneralSettings contains application behavior settings.
type GeneralSettings struct {
	DownloadDir string `mapstructure:"download_dir" yaml:"download_dir"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
}

// ConnectionSettings contains network connection parameters.
type ConnectionSettings struct {
	PoolSize      int    `mapstructure:"pool_size" yaml:"pool_size"`
	UserAgent     string `mapstructure:"user_agent" yaml:"user_agent"`
	ProxyURL      string `mapstructure:"proxy_url" yaml:"proxy_url"`
	SkipTLSVerify bool   `mapstructure:"skip_tls_verify" yaml:"skip_tls_verify"`
}

// RetrySettings seed the retry policy of every request that has none.
type RetrySettings struct {
	InitialTimeoutMs  int64   `mapstructure:"initial_timeout_ms" yaml:"initial_timeout_ms"`
	MaxRetries        int     `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// TransferSettings contains body streaming parameters.
type TransferSettings struct {
	BufferSize int  `mapstructure:"buffer_size" yaml:"buffer_size"`
	LenientEOF bool `mapstructure:"lenient_eof" yaml:"lenient_eof"`
	Resumable  bool `mapstructure:"resumable" yaml:"resumable"`
}

// SettingMeta provides metadata for a single setting.
type SettingMeta struct {
	Key         string // Dotted key, also the env var suffix
	Description string
}

// GetSettingsMetadata lists every setting in file order.
func GetSettingsMetadata() []SettingMeta {
	return []SettingMeta{
		{"general.download_dir", "Directory for downloads given without --output."},
		{"general.log_level", "trace, debug, info, warn or error."},
		{"connections.pool_size", "Number of parallel downloads. 0 uses one per CPU."},
		{"connections.user_agent", "User-Agent header. Leave empty for default."},
		{"connections.proxy_url", "http, https or socks5 proxy. Leave empty to use the environment."},
		{"connections.skip_tls_verify", "Accept any TLS certificate."},
		{"retry.initial_timeout_ms", "Connect and read timeout of the first attempt."},
		{"retry.max_retries", "Retries after a timeout before giving up."},
		{"retry.backoff_multiplier", "Each retry grows the timeout by timeout*multiplier."},
		{"transfer.buffer_size", "Bytes read per chunk."},
		{"transfer.lenient_eof", "Treat a connection closed mid-body as a finished download."},
		{"transfer.resumable", "Keep partial files and resume them with Range requests."},
	}
}

const envPrefix = "THINDL"

// DefaultSettings returns a new Settings instance with sensible defaults.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	defaultDir := filepath.Join(homeDir, "Downloads")

	return &Settings{
		General: GeneralSettings{
			DownloadDir: defaultDir,
			LogLevel:    "info",
		},
		Connections: ConnectionSettings{
			PoolSize: 0, // one per CPU
		},
		Retry: RetrySettings{
			InitialTimeoutMs:  types.DefaultTimeout.Milliseconds(),
			MaxRetries:        types.DefaultMaxRetries,
			BackoffMultiplier: types.DefaultBackoffMultiplier,
		},
		Transfer: TransferSettings{
			BufferSize: types.BufferSize,
		},
	}
}

// GetConfigDir returns the directory holding thindl's settings.
func GetConfigDir() string {
	if dir := os.Getenv(envPrefix + "_CONFIG_DIR"); dir != "" {
		return dir
	}
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "thindl")
}

// GetSettingsPath returns the path to the settings YAML file.
func GetSettingsPath() string {
	return filepath.Join(GetConfigDir(), "settings.yaml")
}

// Load reads settings from path, or from GetSettingsPath when path is
// empty. A missing file yields defaults. THINDL_<SECTION>_<KEY> environment
// variables override both.
func Load(path string) (*Settings, error) {
	if path == "" {
		path = GetSettingsPath()
	}

	v := viper.New()
	setDefaults(v, DefaultSettings())

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper, d *Settings) {
	v.SetDefault("general.download_dir", d.General.DownloadDir)
	v.SetDefault("general.log_level", d.General.LogLevel)
	v.SetDefault("connections.pool_size", d.Connections.PoolSize)
	v.SetDefault("connections.user_agent", d.Connections.UserAgent)
	v.SetDefault("connections.proxy_url", d.Connections.ProxyURL)
	v.SetDefault("connections.skip_tls_verify", d.Connections.SkipTLSVerify)
	v.SetDefault("retry.initial_timeout_ms", d.Retry.InitialTimeoutMs)
	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.backoff_multiplier", d.Retry.BackoffMultiplier)
	v.SetDefault("transfer.buffer_size", d.Transfer.BufferSize)
	v.SetDefault("transfer.lenient_eof", d.Transfer.LenientEOF)
	v.SetDefault("transfer.resumable", d.Transfer.Resumable)
}

// validate rejects values the engine cannot use and fills in the rest.
func (s *Settings) validate() error {
	if s.General.DownloadDir == "" {
		s.General.DownloadDir = "."
	}
	if s.General.LogLevel == "" {
		s.General.LogLevel = "info"
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(s.General.LogLevel)); err != nil {
		return fmt.Errorf("general.log_level: unknown level %q", s.General.LogLevel)
	}

	if s.Connections.PoolSize < 0 {
		s.Connections.PoolSize = 0
	}
	if p := s.Connections.ProxyURL; p != "" {
		u, err := url.Parse(p)
		if err != nil {
			return fmt.Errorf("connections.proxy_url: %w", err)
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
		default:
			return fmt.Errorf("connections.proxy_url: unsupported scheme %q", u.Scheme)
		}
	}

	if s.Retry.InitialTimeoutMs <= 0 {
		s.Retry.InitialTimeoutMs = types.DefaultTimeout.Milliseconds()
	}
	if s.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative, got %d", s.Retry.MaxRetries)
	}
	if s.Retry.BackoffMultiplier < 0 {
		return fmt.Errorf("retry.backoff_multiplier must not be negative, got %g", s.Retry.BackoffMultiplier)
	}

	if s.Transfer.BufferSize <= 0 {
		s.Transfer.BufferSize = types.BufferSize
	}
	return nil
}

// Save writes settings to path as YAML atomically.
func Save(path string, s *Settings) error {
	if path == "" {
		path = GetSettingsPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file, then rename
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

// ToRuntimeConfig creates the engine's RuntimeConfig from user Settings.
func (s *Settings) ToRuntimeConfig() *types.RuntimeConfig {
	return &types.RuntimeConfig{
		PoolSize:            s.Connections.PoolSize,
		UserAgent:           s.Connections.UserAgent,
		ProxyURL:            s.Connections.ProxyURL,
		SkipTLSVerification: s.Connections.SkipTLSVerify,
		LenientEndOfStream:  s.Transfer.LenientEOF,
		BufferSize:          s.Transfer.BufferSize,
		InitialTimeout:      time.Duration(s.Retry.InitialTimeoutMs) * time.Millisecond,
		MaxRetries:          s.Retry.MaxRetries,
		BackoffMultiplier:   s.Retry.BackoffMultiplier,
	}
}
