// Package config loads payassist.yaml and turns it into service settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool"
	"github.com/muskanTaza/Tazapay-VS-Code-Assistant/tool/rpc"
)

const (
	projectConfigName = "payassist.yaml"
	homeConfigDir     = ".payassist"
	homeConfigName    = "config.yaml"
)

// Worker credential variables. The same names are used to read the
// credentials from the host environment and to hand them to the worker.
const (
	APIKeyEnv    = "TAZAPAY_API_KEY"
	APISecretEnv = "TAZAPAY_API_SECRET"
)

// Defaults for a config without a worker section.
var (
	DefaultWorkerCommand = "npx"
	DefaultWorkerArgs    = []string{"-y", "@tazapay/mcp-server"}
)

// File is the on-disk shape of payassist.yaml.
type File struct {
	Worker      WorkerSection       `yaml:"worker"`
	Credentials CredentialsSection  `yaml:"credentials"`
	Timeouts    TimeoutsSection     `yaml:"timeouts"`
	Handshake   *bool               `yaml:"handshake,omitempty"`
	Refresh     string              `yaml:"refresh_schedule,omitempty"`
	History     HistorySection      `yaml:"history"`
	Intents     map[string][]string `yaml:"intents,omitempty"`
}

// WorkerSection describes how the worker process is launched.
type WorkerSection struct {
	Command      string            `yaml:"command,omitempty"`
	Args         []string          `yaml:"args,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	Dir          string            `yaml:"dir,omitempty"`
	MaxFrameSize int               `yaml:"max_frame_bytes,omitempty"`
}

// CredentialsSection holds the worker credentials. Values support ${VAR}
// expansion; when empty the *_env variables (or the defaults) are read.
type CredentialsSection struct {
	APIKey       string `yaml:"api_key,omitempty"`
	APISecret    string `yaml:"api_secret,omitempty"`
	APIKeyEnv    string `yaml:"api_key_env,omitempty"`
	APISecretEnv string `yaml:"api_secret_env,omitempty"`
}

// TimeoutsSection holds call deadlines, e.g. "30s".
type TimeoutsSection struct {
	Invoke    time.Duration `yaml:"invoke,omitempty"`
	Discovery time.Duration `yaml:"discovery,omitempty"`
}

// HistorySection configures the SQLite invocation history.
type HistorySection struct {
	Disabled bool   `yaml:"disabled,omitempty"`
	Path     string `yaml:"path,omitempty"`
}

// Config is the resolved configuration.
type Config struct {
	// Path is the file the config was read from, empty for defaults.
	Path string

	Launch           rpc.LaunchSpec
	MaxFrameSize     int
	DefaultTimeout   time.Duration
	DiscoveryTimeout time.Duration
	Handshake        bool
	RefreshSchedule  string
	HistoryPath      string
	HistoryDisabled  bool
	Intents          tool.IntentTable
}

// ServiceConfig maps the resolved config onto tool.ServiceConfig. The
// caller fills in logger, observer and store.
func (c Config) ServiceConfig() tool.ServiceConfig {
	return tool.ServiceConfig{
		Launch:           c.Launch,
		Intents:          c.Intents,
		DefaultTimeout:   c.DefaultTimeout,
		DiscoveryTimeout: c.DiscoveryTimeout,
		Handshake:        c.Handshake,
		RefreshSchedule:  c.RefreshSchedule,
		MaxFrameSize:     c.MaxFrameSize,
	}
}

// HasCredentials reports whether both worker credentials are set.
func (c Config) HasCredentials() bool {
	return c.Launch.SecretEnv[APIKeyEnv] != "" && c.Launch.SecretEnv[APISecretEnv] != ""
}

// Display returns a printable view of the config with credentials masked.
func (c Config) Display() map[string]any {
	secrets := make(map[string]string, len(c.Launch.SecretEnv))
	for key, value := range c.Launch.SecretEnv {
		secrets[key] = tool.MaskSecret(value)
	}
	path := c.Path
	if path == "" {
		path = "(defaults)"
	}
	history := c.HistoryPath
	if c.HistoryDisabled {
		history = "disabled"
	}
	return map[string]any{
		"path":              path,
		"command":           c.Launch.Command,
		"args":              c.Launch.Args,
		"credentials":       secrets,
		"timeout":           c.DefaultTimeout.String(),
		"discovery_timeout": c.DiscoveryTimeout.String(),
		"handshake":         c.Handshake,
		"refresh_schedule":  c.RefreshSchedule,
		"history":           history,
	}
}

// DiscoverPath resolves the config location with first-match semantics.
func DiscoverPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverPathFrom is a testable variant of DiscoverPath.
func DiscoverPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, homeConfigDir, homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// Load discovers and reads the config. A missing config (without an
// explicit path) yields defaults.
func Load(explicitPath string) (Config, error) {
	path, found, err := DiscoverPath(explicitPath)
	if err != nil {
		return Config{}, err
	}
	if !found {
		return Resolve(File{}, "")
	}
	return LoadFile(path)
}

// LoadFile reads and resolves one config file.
func LoadFile(path string) (Config, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return Resolve(file, path)
}

// Resolve expands environment references, applies defaults and validates.
func Resolve(file File, path string) (Config, error) {
	cfg := Config{
		Path:             path,
		DefaultTimeout:   tool.DefaultInvokeTimeout,
		DiscoveryTimeout: tool.DefaultInvokeTimeout,
		Handshake:        true,
		RefreshSchedule:  strings.TrimSpace(expandEnvValue(file.Refresh)),
		HistoryDisabled:  file.History.Disabled,
		MaxFrameSize:     file.Worker.MaxFrameSize,
	}
	if file.Handshake != nil {
		cfg.Handshake = *file.Handshake
	}
	if file.Timeouts.Invoke < 0 || file.Timeouts.Discovery < 0 {
		return Config{}, errors.New("config: timeouts must not be negative")
	}
	if file.Timeouts.Invoke > 0 {
		cfg.DefaultTimeout = file.Timeouts.Invoke
	}
	if file.Timeouts.Discovery > 0 {
		cfg.DiscoveryTimeout = file.Timeouts.Discovery
	}
	if file.Worker.MaxFrameSize < 0 {
		return Config{}, errors.New("config: worker.max_frame_bytes must not be negative")
	}
	if cfg.RefreshSchedule != "" {
		if _, err := tool.ParseRefreshSchedule(cfg.RefreshSchedule); err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
	}

	baseDir := ""
	if path != "" {
		baseDir = filepath.Dir(path)
	}

	launch, err := resolveLaunch(file.Worker, file.Credentials, baseDir)
	if err != nil {
		return Config{}, err
	}
	cfg.Launch = launch

	if !cfg.HistoryDisabled {
		historyPath := strings.TrimSpace(expandEnvValue(file.History.Path))
		if historyPath != "" && baseDir != "" {
			historyPath = resolveConfigRelative(baseDir, historyPath)
		}
		cfg.HistoryPath = historyPath
	}

	cfg.Intents = tool.DefaultIntents().Merge(file.Intents)
	return cfg, nil
}

func resolveLaunch(worker WorkerSection, creds CredentialsSection, baseDir string) (rpc.LaunchSpec, error) {
	command := strings.TrimSpace(expandEnvValue(worker.Command))
	args := make([]string, 0, len(worker.Args))
	for _, arg := range worker.Args {
		args = append(args, expandEnvValue(arg))
	}
	if command == "" {
		command = DefaultWorkerCommand
		if len(args) == 0 {
			args = append(args, DefaultWorkerArgs...)
		}
	}

	env := expandStringMap(worker.Env)
	for key := range env {
		if key == APIKeyEnv || key == APISecretEnv {
			return rpc.LaunchSpec{}, fmt.Errorf("config: set %s under credentials, not worker.env", key)
		}
	}

	dir := strings.TrimSpace(expandEnvValue(worker.Dir))
	if dir != "" && baseDir != "" {
		dir = resolveConfigRelative(baseDir, dir)
	}

	secrets := map[string]string{}
	if key := credentialValue(creds.APIKey, creds.APIKeyEnv, APIKeyEnv); key != "" {
		secrets[APIKeyEnv] = key
	}
	if secret := credentialValue(creds.APISecret, creds.APISecretEnv, APISecretEnv); secret != "" {
		secrets[APISecretEnv] = secret
	}

	return rpc.LaunchSpec{
		Command:   command,
		Args:      args,
		Env:       env,
		SecretEnv: secrets,
		Dir:       dir,
	}, nil
}

func credentialValue(value, envName, defaultEnv string) string {
	if v := strings.TrimSpace(expandEnvValue(value)); v != "" {
		return v
	}
	name := strings.TrimSpace(envName)
	if name == "" {
		name = defaultEnv
	}
	return strings.TrimSpace(os.Getenv(name))
}

func expandStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = expandEnvValue(value)
	}
	return out
}

func expandEnvValue(value string) string {
	return os.ExpandEnv(value)
}

func resolveConfigRelative(baseDir, p string) string {
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean
	}
	return filepath.Join(baseDir, clean)
}
