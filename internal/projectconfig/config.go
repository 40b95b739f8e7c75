// Package projectconfig provides the ProjectConfig struct and loader for
// .querylens.yaml project-level configuration files.
package projectconfig

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spboyer/querylens/internal/utils"
	"gopkg.in/yaml.v3"
)

// FileName is the project configuration file looked up by Load.
const FileName = ".querylens.yaml"

// Environment variables that override file values.
const (
	EnvAPIURL     = "QUERYLENS_API_URL"
	EnvAPITimeout = "QUERYLENS_API_TIMEOUT"
)

// Default values for project configuration. New() references them and no
// other code should duplicate them.
const (
	DefaultAPITimeoutMs = 10000

	DefaultPollIntervalMs       = 2000
	DefaultPollBudgetMs         = 120000
	DefaultPollRequestTimeoutMs = 2000

	DefaultSubmitTimeoutMs = 10000
	DefaultMaxQueryLength  = 500

	DefaultSessionLogDir = ".querylens/sessions"

	DefaultServerPort = 8000
)

// maxSearchDepth bounds how many directories Load walks up.
const maxSearchDepth = 10

// APIConfig holds backend connection settings. An empty BaseURL means
// requests use relative paths.
type APIConfig struct {
	BaseURL   string `yaml:"base_url,omitempty"`
	TimeoutMs int    `yaml:"timeout_ms,omitempty"`
}

// PollConfig holds evaluation polling settings.
type PollConfig struct {
	IntervalMs       int `yaml:"interval_ms,omitempty"`
	BudgetMs         int `yaml:"budget_ms,omitempty"`
	RequestTimeoutMs int `yaml:"request_timeout_ms,omitempty"`
}

// UIConfig holds interactive client settings.
type UIConfig struct {
	SubmitTimeoutMs int `yaml:"submit_timeout_ms,omitempty"`
	MaxQueryLength  int `yaml:"max_query_length,omitempty"`
}

// SessionLogConfig holds NDJSON session log settings.
type SessionLogConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
}

// ServerConfig holds scripted backend settings.
type ServerConfig struct {
	Port int `yaml:"port,omitempty"`
}

// ProjectConfig is the top-level configuration loaded from .querylens.yaml.
type ProjectConfig struct {
	API        APIConfig        `yaml:"api,omitempty"`
	Poll       PollConfig       `yaml:"poll,omitempty"`
	UI         UIConfig         `yaml:"ui,omitempty"`
	SessionLog SessionLogConfig `yaml:"session_log,omitempty"`
	Server     ServerConfig     `yaml:"server,omitempty"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `yaml:"-"`
}

// New returns a ProjectConfig with all hard-coded defaults populated.
func New() *ProjectConfig {
	return &ProjectConfig{
		API: APIConfig{
			TimeoutMs: DefaultAPITimeoutMs,
		},
		Poll: PollConfig{
			IntervalMs:       DefaultPollIntervalMs,
			BudgetMs:         DefaultPollBudgetMs,
			RequestTimeoutMs: DefaultPollRequestTimeoutMs,
		},
		UI: UIConfig{
			SubmitTimeoutMs: DefaultSubmitTimeoutMs,
			MaxQueryLength:  DefaultMaxQueryLength,
		},
		SessionLog: SessionLogConfig{
			Enabled: utils.Ptr(false),
			Dir:     DefaultSessionLogDir,
		},
		Server: ServerConfig{
			Port: DefaultServerPort,
		},
	}
}

// Load finds .querylens.yaml by walking up from startDir (max 10 levels),
// unmarshals it, fills in missing fields with defaults, then applies
// environment overrides. A relative session_log.dir is taken relative to the
// file's directory. If no config file is found, defaults are returned
// with a nil error. Real I/O errors (e.g. permission denied) are returned.
func Load(startDir string) (*ProjectConfig, error) {
	return load(startDir, os.LookupEnv)
}

func load(startDir string, lookupEnv func(string) (string, bool)) (*ProjectConfig, error) {
	cfg := New()

	path, data, err := findConfigFile(startDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("loading %s: %w", FileName, err)
	default:
		var fileCfg ProjectConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		mergeConfig(cfg, &fileCfg)
		cfg.Path = path
		// Relative directories are anchored at the project root.
		cfg.SessionLog.Dir = utils.ResolvePath(cfg.SessionLog.Dir, filepath.Dir(path))
	}

	if err := applyEnv(cfg, lookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile walks up from dir looking for .querylens.yaml. Returns
// os.ErrNotExist if no config file is found.
func findConfigFile(dir string) (string, []byte, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", nil, fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for i := 0; i < maxSearchDepth; i++ {
		p := filepath.Join(dir, FileName)
		data, err := os.ReadFile(p)
		if err == nil {
			return p, data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break // reached filesystem root
		}
		dir = parent
	}
	return "", nil, os.ErrNotExist
}

// mergeConfig overlays non-zero values from src onto dst.
func mergeConfig(dst, src *ProjectConfig) {
	// API
	if src.API.BaseURL != "" {
		dst.API.BaseURL = src.API.BaseURL
	}
	if src.API.TimeoutMs != 0 {
		dst.API.TimeoutMs = src.API.TimeoutMs
	}

	// Poll
	if src.Poll.IntervalMs != 0 {
		dst.Poll.IntervalMs = src.Poll.IntervalMs
	}
	if src.Poll.BudgetMs != 0 {
		dst.Poll.BudgetMs = src.Poll.BudgetMs
	}
	if src.Poll.RequestTimeoutMs != 0 {
		dst.Poll.RequestTimeoutMs = src.Poll.RequestTimeoutMs
	}

	// UI
	if src.UI.SubmitTimeoutMs != 0 {
		dst.UI.SubmitTimeoutMs = src.UI.SubmitTimeoutMs
	}
	if src.UI.MaxQueryLength != 0 {
		dst.UI.MaxQueryLength = src.UI.MaxQueryLength
	}

	// Session log
	if src.SessionLog.Enabled != nil {
		dst.SessionLog.Enabled = src.SessionLog.Enabled
	}
	if src.SessionLog.Dir != "" {
		dst.SessionLog.Dir = src.SessionLog.Dir
	}

	// Server
	if src.Server.Port != 0 {
		dst.Server.Port = src.Server.Port
	}
}

func applyEnv(cfg *ProjectConfig, lookupEnv func(string) (string, bool)) error {
	if v, ok := lookupEnv(EnvAPIURL); ok && v != "" {
		cfg.API.BaseURL = v
	}
	if v, ok := lookupEnv(EnvAPITimeout); ok && strings.TrimSpace(v) != "" {
		ms, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be an integer number of milliseconds: %w", EnvAPITimeout, err)
		}
		cfg.API.TimeoutMs = ms
	}
	return nil
}

// Validate rejects settings no component can honor.
func (c *ProjectConfig) Validate() error {
	var problems []string
	positive := func(name string, v int) {
		if v <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive, got %d", name, v))
		}
	}
	positive("api.timeout_ms", c.API.TimeoutMs)
	positive("poll.interval_ms", c.Poll.IntervalMs)
	positive("poll.budget_ms", c.Poll.BudgetMs)
	positive("poll.request_timeout_ms", c.Poll.RequestTimeoutMs)
	positive("ui.submit_timeout_ms", c.UI.SubmitTimeoutMs)
	positive("ui.max_query_length", c.UI.MaxQueryLength)
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// APITimeout returns the submission request budget.
func (c *ProjectConfig) APITimeout() time.Duration {
	return ms(c.API.TimeoutMs)
}

// PollInterval returns the delay between evaluation status checks.
func (c *ProjectConfig) PollInterval() time.Duration {
	return ms(c.Poll.IntervalMs)
}

// PollBudget returns the total polling budget.
func (c *ProjectConfig) PollBudget() time.Duration {
	return ms(c.Poll.BudgetMs)
}

// PollRequestTimeout returns the budget of a single status check.
func (c *ProjectConfig) PollRequestTimeout() time.Duration {
	return ms(c.Poll.RequestTimeoutMs)
}

// SubmitTimeout returns the external watchdog bound on a submission.
func (c *ProjectConfig) SubmitTimeout() time.Duration {
	return ms(c.UI.SubmitTimeoutMs)
}

// SessionLogEnabled reports whether session events are written to disk.
func (c *ProjectConfig) SessionLogEnabled() bool {
	return c.SessionLog.Enabled != nil && *c.SessionLog.Enabled
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
