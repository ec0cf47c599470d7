package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/procdash/internal/env"
	"github.com/loykin/procdash/internal/logbuf"
	"github.com/loykin/procdash/internal/logger"
	"github.com/loykin/procdash/internal/portresolve"
	"github.com/loykin/procdash/internal/process"
	apitls "github.com/loykin/procdash/internal/tls"
)

// DefaultPath is the config file read when none is given.
const DefaultPath = "config.toml"

const (
	DefaultTickInterval = 100 * time.Millisecond
	EnvPrefix           = "PROCDASH"
)

var ErrNoProcesses = errors.New("config defines no processes")

// FileConfig represents the top-level TOML structure.
type FileConfig struct {
	LogLines     int           `toml:"log_lines" mapstructure:"log_lines"`
	GracePeriod  time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	PollInterval time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	TickInterval time.Duration `toml:"tick_interval" mapstructure:"tick_interval"`
	PortFallback string        `toml:"port_fallback" mapstructure:"port_fallback"`
	PortResolver string        `toml:"port_resolver" mapstructure:"port_resolver"`
	Env          []string      `toml:"env" mapstructure:"env"`
	EnvFiles     []string      `toml:"env_files" mapstructure:"env_files"`
	Log          LogConfig     `toml:"log" mapstructure:"log"`
	API          APIConfig     `toml:"api" mapstructure:"api"`
	History      HistoryConfig `toml:"history" mapstructure:"history"`
	Processes    []ProcConfig  `toml:"processes" mapstructure:"processes"`
}

// LogConfig is procdash's own diagnostic log, not the children's output.
type LogConfig struct {
	File       string `toml:"file" mapstructure:"file"`
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type APIConfig struct {
	Listen string    `toml:"listen" mapstructure:"listen"`
	TLS    TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig serves the API over HTTPS when cert_file/key_file or dir is set.
type TLSConfig struct {
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type ProcConfig struct {
	Name      string   `toml:"name" mapstructure:"name"`
	Cmd       []string `toml:"cmd" mapstructure:"cmd"`
	Cwd       string   `toml:"cwd" mapstructure:"cwd"`
	Port      int      `toml:"port" mapstructure:"port"`
	Env       []string `toml:"env" mapstructure:"env"`
	Autostart *bool    `toml:"autostart" mapstructure:"autostart"`
}

// Load reads and validates the TOML file at path. Scalar settings can be
// overridden from the environment, e.g. PROCDASH_GRACE_PERIOD=3s or
// PROCDASH_API_LISTEN=:9090.
func Load(path string) (*FileConfig, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	fc.resolvePaths(filepath.Dir(path))
	if err := fc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &fc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_lines", logbuf.DefaultMaxLines)
	v.SetDefault("grace_period", process.DefaultGracePeriod)
	v.SetDefault("poll_interval", process.DefaultPollInterval)
	v.SetDefault("tick_interval", DefaultTickInterval)
	v.SetDefault("port_fallback", string(process.PortFallbackAlways))
	v.SetDefault("port_resolver", portresolve.KindSS)
	v.SetDefault("log.file", "")
	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("api.listen", "")
	v.SetDefault("history.dsn", "")
}

// resolvePaths makes env file and certificate paths relative to the config
// file's directory. Process working directories stay as written: they are
// resolved by the OS relative to where procdash runs.
func (fc *FileConfig) resolvePaths(base string) {
	for i, p := range fc.EnvFiles {
		fc.EnvFiles[i] = relTo(base, p)
	}
	fc.API.TLS.CertFile = relTo(base, fc.API.TLS.CertFile)
	fc.API.TLS.KeyFile = relTo(base, fc.API.TLS.KeyFile)
	fc.API.TLS.Dir = relTo(base, fc.API.TLS.Dir)
}

func relTo(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Validate checks the whole config and reports the first problem found.
func (fc *FileConfig) Validate() error {
	if len(fc.Processes) == 0 {
		return ErrNoProcesses
	}
	if fc.LogLines <= 0 {
		return fmt.Errorf("log_lines must be positive, got %d", fc.LogLines)
	}
	if fc.GracePeriod <= 0 {
		return fmt.Errorf("grace_period must be positive, got %s", fc.GracePeriod)
	}
	if fc.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", fc.PollInterval)
	}
	if fc.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %s", fc.TickInterval)
	}
	if _, err := process.ParsePortFallback(fc.PortFallback); err != nil {
		return err
	}
	if _, err := portresolve.New(fc.PortResolver); err != nil {
		return err
	}
	switch logger.Format(strings.ToLower(fc.Log.Format)) {
	case "", logger.FormatText, logger.FormatJSON:
	default:
		return fmt.Errorf("invalid log.format %q, must be text or json", fc.Log.Format)
	}
	if t := fc.API.TLS; (t.CertFile == "") != (t.KeyFile == "") {
		return errors.New("api.tls: cert_file and key_file must be set together")
	}
	seen := make(map[string]struct{}, len(fc.Processes))
	for i, pc := range fc.Processes {
		name := strings.TrimSpace(pc.Name)
		if name == "" {
			return fmt.Errorf("processes[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("processes[%d]: duplicate name %q", i, name)
		}
		seen[name] = struct{}{}
		if pc.Port < 0 || pc.Port > 65535 {
			return fmt.Errorf("process %s: port %d out of range", name, pc.Port)
		}
		for _, kv := range pc.Env {
			if strings.IndexByte(kv, '=') <= 0 {
				return fmt.Errorf("process %s: env entry %q must be KEY=VALUE", name, kv)
			}
		}
	}
	for _, kv := range fc.Env {
		if strings.IndexByte(kv, '=') <= 0 {
			return fmt.Errorf("env entry %q must be KEY=VALUE", kv)
		}
	}
	return nil
}

// Specs converts the process table into supervisor specs, in file order.
// An empty cmd is accepted; starting such a process only logs a message.
func (fc *FileConfig) Specs() []process.Spec {
	out := make([]process.Spec, 0, len(fc.Processes))
	for _, pc := range fc.Processes {
		autostart := true
		if pc.Autostart != nil {
			autostart = *pc.Autostart
		}
		out = append(out, process.Spec{
			Name:      strings.TrimSpace(pc.Name),
			Command:   append([]string(nil), pc.Cmd...),
			WorkDir:   pc.Cwd,
			Port:      uint16(pc.Port),
			Env:       append([]string(nil), pc.Env...),
			Autostart: autostart,
		})
	}
	return out
}

// ProcessOptions returns the supervisor template for this config.
func (fc *FileConfig) ProcessOptions() (process.Options, error) {
	pf, err := process.ParsePortFallback(fc.PortFallback)
	if err != nil {
		return process.Options{}, err
	}
	res, err := portresolve.New(fc.PortResolver)
	if err != nil {
		return process.Options{}, err
	}
	return process.Options{
		GracePeriod:  fc.GracePeriod,
		PollInterval: fc.PollInterval,
		PortFallback: pf,
		Resolver:     res,
	}, nil
}

// SharedEnv builds the variables applied to every process: env files in
// order, then the top-level env list.
func (fc *FileConfig) SharedEnv() (*env.Env, error) {
	e := env.New()
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, fmt.Errorf("env file %s: %w", p, err)
		}
		for _, kv := range pairs {
			k, v, _ := strings.Cut(kv, "=")
			e.Set(k, v)
		}
	}
	for _, kv := range fc.Env {
		k, v, _ := strings.Cut(kv, "=")
		e.Set(k, v)
	}
	return e, nil
}

// APITLS returns the certificate settings for the HTTP API.
func (fc *FileConfig) APITLS() apitls.Config {
	t := fc.API.TLS
	return apitls.Config{
		CertFile:     t.CertFile,
		KeyFile:      t.KeyFile,
		Dir:          t.Dir,
		AutoGenerate: t.AutoGenerate,
		MinVersion:   t.MinVersion,
		CommonName:   t.CommonName,
		DNSNames:     append([]string(nil), t.DNSNames...),
		ValidDays:    t.ValidDays,
	}
}

// Logger returns the diagnostic logger settings.
func (fc *FileConfig) Logger() logger.Config {
	return logger.Config{
		Slog: logger.SlogConfig{
			Level:      logger.Level(strings.ToLower(fc.Log.Level)),
			Format:     logger.Format(strings.ToLower(fc.Log.Format)),
			TimeStamps: true,
		},
		File: logger.FileConfig{
			Path:       fc.Log.File,
			MaxSizeMB:  fc.Log.MaxSizeMB,
			MaxBackups: fc.Log.MaxBackups,
			MaxAgeDays: fc.Log.MaxAgeDays,
			Compress:   fc.Log.Compress,
		},
	}
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines. Blank lines,
// lines starting with # and an optional leading "export " are handled;
// surrounding quotes on the value are removed.
func loadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		v = strings.TrimSpace(v)
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
			v = v[1 : len(v)-1]
		}
		out = append(out, k+"="+v)
	}
	return out, nil
}
