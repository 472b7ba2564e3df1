package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultGlamourStyle     = "dark"
	DefaultPollInterval     = 10 * time.Second
	DefaultSessionKeyPrefix = "0-"
	DefaultAPIPrefix        = "/api"
)

type OIDCConfig struct {
	Authority             string `yaml:"authority"`
	ClientID              string `yaml:"client_id"`
	RedirectURL           string `yaml:"redirect_url"`
	PostLogoutRedirectURI string `yaml:"post_logout_redirect_uri"`
	LogoutURL             string `yaml:"logout_url"`
	Scope                 string `yaml:"scope"`
	ResponseType          string `yaml:"response_type"`
}

type SyncConfig struct {
	ChangeDetection string `yaml:"change_detection"`
}

type SessionConfig struct {
	Ephemeral bool `yaml:"ephemeral"`
}

type MediaConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxBytes    int64         `yaml:"max_bytes"`
	Concurrency int           `yaml:"concurrency"`
}

// FileConfig mirrors config.yaml. Zero values mean "not set".
type FileConfig struct {
	APIURL           string         `yaml:"api_url"`
	APIPrefix        string         `yaml:"api_prefix"`
	RouteLayout      string         `yaml:"route_layout"`
	PollInterval     time.Duration  `yaml:"poll_interval"`
	SessionKeyPrefix string         `yaml:"session_key_prefix"`
	OIDC             OIDCConfig     `yaml:"oidc"`
	Sync             SyncConfig     `yaml:"sync"`
	Session          *SessionConfig `yaml:"session"`
	Media            MediaConfig    `yaml:"media"`
}

type AppConfig struct {
	ConfigPath string
	DBPath     string
	ExportDir  string
	LogFile    string
	LogLevel   string

	APIURL           string
	APIPrefix        string
	RouteLayout      string
	PollInterval     time.Duration
	SessionKeyPrefix string
	OIDC             OIDCConfig
	ChangeDetection  string
	Ephemeral        bool
	Media            MediaConfig
}

func Parse() (AppConfig, error) {
	return ParseArgs(os.Args[1:], os.Getenv)
}

// ParseArgs resolves configuration with precedence flags > env > file > defaults.
func ParseArgs(args []string, getenv func(string) string) (AppConfig, error) {
	var cfg AppConfig

	defaultConfigPath, err := defaultPath(getenv, "XDG_CONFIG_HOME", ".config", "config.yaml")
	if err != nil {
		return cfg, err
	}

	fset := flag.NewFlagSet("chatline", flag.ContinueOnError)
	fset.StringVar(&cfg.ConfigPath, "config", defaultConfigPath, "path to config.yaml")
	fset.StringVar(&cfg.DBPath, "db-path", "", "path to SQLite state file")
	fset.StringVar(&cfg.ExportDir, "export-dir", "", "override export output directory")
	fset.StringVar(&cfg.LogFile, "log-file", "", "path to log file")
	fset.StringVar(&cfg.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	apiURL := fset.String("api-url", "", "backend base URL")
	layout := fset.String("route-layout", "", "REST route layout (chats or conversations)")
	poll := fset.Duration("poll-interval", 0, "message polling interval")
	if err := fset.Parse(args); err != nil {
		return cfg, err
	}

	file, err := LoadFile(cfg.ConfigPath)
	if err != nil {
		return cfg, err
	}
	cfg.applyFile(file)
	cfg.applyEnv(getenv)

	if *apiURL != "" {
		cfg.APIURL = *apiURL
	}
	if *layout != "" {
		cfg.RouteLayout = *layout
	}
	if *poll > 0 {
		cfg.PollInterval = *poll
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	if cfg.DBPath == "" {
		cfg.DBPath, err = defaultPath(getenv, "XDG_DATA_HOME", filepath.Join(".local", "share"), "state.sqlite")
		if err != nil {
			return cfg, err
		}
	}
	if cfg.LogFile == "" {
		cfg.LogFile, err = defaultPath(getenv, "XDG_STATE_HOME", filepath.Join(".local", "state"), "chatline.log")
		if err != nil {
			return cfg, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return cfg, fmt.Errorf("create db dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return cfg, fmt.Errorf("create log dir: %w", err)
	}

	return cfg, nil
}

// LoadFile reads config.yaml. A missing file yields an empty FileConfig.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig
	if strings.TrimSpace(path) == "" {
		return fc, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fc, nil
		}
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fc, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return fc, nil
}

func (c *AppConfig) applyFile(f FileConfig) {
	c.APIURL = f.APIURL
	c.APIPrefix = orDefault(f.APIPrefix, DefaultAPIPrefix)
	c.RouteLayout = orDefault(f.RouteLayout, "chats")
	c.PollInterval = f.PollInterval
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	c.SessionKeyPrefix = orDefault(f.SessionKeyPrefix, DefaultSessionKeyPrefix)
	c.OIDC = f.OIDC
	c.OIDC.Scope = orDefault(c.OIDC.Scope, "openid email profile")
	c.OIDC.ResponseType = orDefault(c.OIDC.ResponseType, "code")
	c.OIDC.RedirectURL = orDefault(c.OIDC.RedirectURL, "http://127.0.0.1:8765/callback")
	c.ChangeDetection = orDefault(f.Sync.ChangeDetection, "heuristic")
	c.Ephemeral = true
	if f.Session != nil {
		c.Ephemeral = f.Session.Ephemeral
	}
	c.Media = f.Media
	if c.Media.Timeout <= 0 {
		c.Media.Timeout = 15 * time.Second
	}
	if c.Media.MaxBytes <= 0 {
		c.Media.MaxBytes = 20 << 20
	}
	if c.Media.Concurrency <= 0 {
		c.Media.Concurrency = 4
	}
}

func (c *AppConfig) applyEnv(getenv func(string) string) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"CHATLINE_API_URL", &c.APIURL},
		{"CHATLINE_AUTHORITY", &c.OIDC.Authority},
		{"CHATLINE_CLIENT_ID", &c.OIDC.ClientID},
		{"CHATLINE_REDIRECT_URL", &c.OIDC.RedirectURL},
		{"CHATLINE_POST_LOGOUT_REDIRECT_URI", &c.OIDC.PostLogoutRedirectURI},
		{"CHATLINE_LOGOUT_URL", &c.OIDC.LogoutURL},
		{"CHATLINE_SCOPE", &c.OIDC.Scope},
		{"CHATLINE_RESPONSE_TYPE", &c.OIDC.ResponseType},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(getenv(o.key)); v != "" {
			*o.dst = v
		}
	}
}

func (c *AppConfig) validate() error {
	switch c.RouteLayout {
	case "chats", "conversations":
	default:
		return fmt.Errorf("invalid route layout %q", c.RouteLayout)
	}
	switch c.ChangeDetection {
	case "heuristic", "exact":
	default:
		return fmt.Errorf("invalid sync.change_detection %q", c.ChangeDetection)
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("api_prefix must start with /: %q", c.APIPrefix)
	}
	return nil
}

func defaultPath(getenv func(string) string, xdgVar, homeRel, name string) (string, error) {
	if base := getenv(xdgVar); base != "" {
		return filepath.Join(filepath.Clean(base), "chatline", name), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, homeRel, "chatline", name), nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
