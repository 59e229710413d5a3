package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ErrTemplateCreated is returned by Load when no config file existed and a
// template was written in its place.
var ErrTemplateCreated = errors.New("config template created")

// Config holds all settings loaded from config.json (or config.toml)
type Config struct {
	Token    string `json:"token" toml:"token"`
	HomePath string `json:"home_path" toml:"home_path"`
	UserID   UserID `json:"user_id" toml:"user_id"`

	Browser BrowserConfig `json:"browser" toml:"browser"`
	Archive ArchiveConfig `json:"archive" toml:"archive"`
	Bot     BotConfig     `json:"bot" toml:"bot"`
	Metrics MetricsConfig `json:"metrics" toml:"metrics"`
}

// BrowserConfig holds navigation settings
type BrowserConfig struct {
	PageSize int `json:"page_size" toml:"page_size"`
	// ConfineToHome stops parent navigation at home_path.
	ConfineToHome *bool `json:"confine_to_home,omitempty" toml:"confine_to_home,omitempty"`
}

// ArchiveConfig holds download packaging settings
type ArchiveConfig struct {
	MaxBytes int64  `json:"max_bytes" toml:"max_bytes"`
	TempDir  string `json:"temp_dir,omitempty" toml:"temp_dir,omitempty"`
}

// BotConfig holds Telegram transport settings
type BotConfig struct {
	APIURL      string   `json:"api_url" toml:"api_url"`
	PollTimeout Duration `json:"poll_timeout" toml:"poll_timeout"`
	// UploadTimeout bounds one archive upload, retries included.
	UploadTimeout Duration `json:"upload_timeout" toml:"upload_timeout"`
	// StatePath is the SQLite file keeping the update offset across restarts.
	StatePath string `json:"state_path" toml:"state_path"`
}

// MetricsConfig holds the Prometheus listener; empty Addr disables it
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" toml:"addr,omitempty"`
}

// UserID is a Telegram user id. JSON accepts a number or a quoted number,
// matching hand-edited configs.
type UserID int64

func (u *UserID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*u = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("user_id: %w", err)
	}
	*u = UserID(n)
	return nil
}

func (u UserID) String() string { return strconv.FormatInt(int64(u), 10) }

// Duration is a time.Duration written as a string ("30s") in config files.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// defaultMaxBytes is the Telegram bot upload ceiling.
const defaultMaxBytes = 50 << 20

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	confine := true
	return &Config{
		Browser: BrowserConfig{
			PageSize:      10,
			ConfineToHome: &confine,
		},
		Archive: ArchiveConfig{
			MaxBytes: defaultMaxBytes,
		},
		Bot: BotConfig{
			APIURL:        "https://api.telegram.org",
			PollTimeout:   Duration(30 * time.Second),
			UploadTimeout: Duration(10 * time.Minute),
			StatePath:     filepath.Join(configDir(), "state.db"),
		},
	}
}

// Confined reports whether browsing stays under home_path.
func (c *Config) Confined() bool {
	return c.Browser.ConfineToHome == nil || *c.Browser.ConfineToHome
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "diskbot")
}

// DefaultPath returns the config file path: ~/.config/diskbot/config.json
func DefaultPath() string {
	return filepath.Join(configDir(), "config.json")
}

// Manager handles loading and accessing configuration
type Manager struct {
	mu     sync.RWMutex
	config *Config
	path   string
}

// NewManager creates a manager reading from path ("" for DefaultPath)
func NewManager(path string) *Manager {
	if path == "" {
		path = DefaultPath()
	}
	return &Manager{config: DefaultConfig(), path: path}
}

// Path returns the config file location
func (m *Manager) Path() string {
	return m.path
}

// Load reads and validates the config file. A missing file is replaced by a
// template and ErrTemplateCreated is returned so the caller can stop.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		if err := GenerateTemplate(m.path); err != nil {
			return err
		}
		return fmt.Errorf("%w at %s", ErrTemplateCreated, m.path)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, filepath.Ext(m.path))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", m.path, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.config = cfg
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.config
}

// Parse decodes a config document over the defaults. ext selects the format:
// ".toml" for TOML, anything else JSON.
func Parse(data []byte, ext string) (*Config, error) {
	cfg := DefaultConfig()
	var err error
	if strings.EqualFold(ext, ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Browser.PageSize <= 0 {
		cfg.Browser.PageSize = 10
	}
	if cfg.Bot.PollTimeout <= 0 {
		cfg.Bot.PollTimeout = Duration(30 * time.Second)
	}
	if cfg.Bot.UploadTimeout <= 0 {
		cfg.Bot.UploadTimeout = Duration(10 * time.Minute)
	}
	// Zero means the default everywhere; archive.Build would read it as no limit
	if cfg.Archive.MaxBytes == 0 {
		cfg.Archive.MaxBytes = defaultMaxBytes
	}
	cfg.HomePath = expandPath(cfg.HomePath)
	cfg.Bot.StatePath = expandPath(cfg.Bot.StatePath)
	cfg.Archive.TempDir = expandPath(cfg.Archive.TempDir)
	return cfg, nil
}

// expandPath expands a leading ~ to the user's home directory and makes the
// result absolute. Empty stays empty.
func expandPath(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	if input == "~" || strings.HasPrefix(input, "~/") || strings.HasPrefix(input, "~\\") {
		if home, err := os.UserHomeDir(); err == nil {
			input = filepath.Join(home, input[1:])
		}
	}
	if abs, err := filepath.Abs(input); err == nil {
		return abs
	}
	return filepath.Clean(input)
}

// Validate checks the settings the process cannot start without. A missing
// user_id is allowed: every sender is then rejected and logged with its id.
func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("config: token is required")
	}
	if c.HomePath == "" {
		return errors.New("config: home_path is required")
	}
	info, err := os.Stat(c.HomePath)
	if err != nil {
		return fmt.Errorf("config: home path %s doesn't exist: %w", c.HomePath, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: home path %s is not a directory", c.HomePath)
	}
	if c.Archive.MaxBytes < 0 {
		return errors.New("config: archive.max_bytes must not be negative")
	}
	return nil
}

// GenerateTemplate writes a config with placeholder credentials to path,
// backing up any existing file first.
func GenerateTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		timestamp := time.Now().Format("20060102-150405")
		ext := filepath.Ext(path)
		backupPath := strings.TrimSuffix(path, ext) + ".backup." + timestamp + ext

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing config: %w", err)
		}
		if err := os.WriteFile(backupPath, data, 0o600); err != nil {
			return fmt.Errorf("failed to write backup: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := DefaultConfig()
	cfg.Token = "Your token"
	if home, err := os.UserHomeDir(); err == nil {
		cfg.HomePath = home
	}

	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}

	// The file will hold a bot token
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
