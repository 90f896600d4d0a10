// Package config handles loading and managing mailtrail configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/wesm/mailtrail/internal/correspondence"
	"github.com/wesm/mailtrail/internal/fileutil"
	"github.com/wesm/mailtrail/internal/imap"
)

// Store kinds.
const (
	StoreSQLite = "sqlite"
	StoreIMAP   = "imap"
)

// Transports for the MCP server.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Config represents the mailtrail configuration.
type Config struct {
	Data     DataConfig     `toml:"data"`
	Store    StoreConfig    `toml:"store"`
	Search   SearchConfig   `toml:"search"`
	Server   ServerConfig   `toml:"server"`
	Entities []EntityConfig `toml:"entities"`

	DomainCategories []DomainCategoryConfig `toml:"domain_categories"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	ConfigPath string `toml:"-"`
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir  string `toml:"data_dir"`
	CacheDir string `toml:"cache_dir"`
}

// StoreConfig selects and configures the mail store adapter.
type StoreConfig struct {
	Kind           string      `toml:"kind"`
	OwnerAddresses []string    `toml:"owner_addresses"`
	IMAP           imap.Config `toml:"imap"`
}

// SearchConfig holds search and cache tuning.
type SearchConfig struct {
	DefaultDays       int    `toml:"default_days"`
	DefaultLimit      int    `toml:"default_limit"`
	MaxLimit          int    `toml:"max_limit"`
	AutoFileThreshold int    `toml:"auto_file_threshold"`
	PreviewSize       int    `toml:"preview_size"`
	BackfillWindow    int    `toml:"backfill_window"`
	BackfillInterval  string `toml:"backfill_interval"`
}

// ServerConfig holds MCP and HTTP server configuration.
type ServerConfig struct {
	Transport        string   `toml:"transport"`
	HTTPAddr         string   `toml:"http_addr"`
	APIKey           string   `toml:"api_key"`
	CORSOrigins      []string `toml:"cors_origins"`
	BackfillSchedule string   `toml:"backfill_schedule"` // Cron expression, empty disables
}

// IsLoopback reports whether the HTTP address binds only to localhost.
func (s ServerConfig) IsLoopback() bool {
	host, _ := splitAddr(s.HTTPAddr)
	switch host {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	return false
}

// EntityConfig names a correspondent organization.
type EntityConfig struct {
	Name     string   `toml:"name"`
	Domains  []string `toml:"domains"`
	Contacts []string `toml:"contacts"`
}

// DomainCategoryConfig labels a group of sender domains, for example
// "marketing" or "clients", in pending-mail summaries.
type DomainCategoryConfig struct {
	Name    string   `toml:"name"`
	Domains []string `toml:"domains"`
}

// DefaultHome returns the default mailtrail home directory.
// Respects MAILTRAIL_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("MAILTRAIL_HOME"); h != "" {
		return fileutil.ExpandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailtrail"
	}
	return filepath.Join(home, ".mailtrail")
}

// NewDefaultConfig returns a configuration with default values rooted at
// homeDir.
func NewDefaultConfig(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Data:    DataConfig{DataDir: homeDir},
		Store:   StoreConfig{Kind: StoreSQLite},
		Search: SearchConfig{
			DefaultDays:       30,
			DefaultLimit:      50,
			MaxLimit:          1000,
			AutoFileThreshold: 20,
			PreviewSize:       5,
			BackfillWindow:    200,
			BackfillInterval:  "1h",
		},
		Server: ServerConfig{
			Transport: TransportStdio,
			HTTPAddr:  ":8000",
		},
	}
}

// Load reads the configuration from path. If path is empty, uses
// config.toml under homeDir (or DefaultHome when homeDir is empty). A
// missing default file yields defaults; a missing explicit file is an
// error.
func Load(path, homeDir string) (*Config, error) {
	if homeDir == "" {
		homeDir = DefaultHome()
	}
	homeDir = fileutil.ExpandPath(homeDir)

	explicit := path != ""
	if !explicit {
		path = filepath.Join(homeDir, "config.toml")
	}
	path = fileutil.ExpandPath(path)

	cfg := NewDefaultConfig(homeDir)
	cfg.ConfigPath = path

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		cfg.applyEnv()
		return cfg, cfg.Validate()
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if msg := err.Error(); strings.Contains(msg, "escape") || strings.Contains(msg, "hexadecimal") {
			return nil, fmt.Errorf("decode config: %w (hint: use forward slashes or single-quoted strings for Windows paths)", err)
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.Data.DataDir = fileutil.ExpandPath(cfg.Data.DataDir)
	cfg.Data.CacheDir = fileutil.ExpandPath(cfg.Data.CacheDir)
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies MCP_TRANSPORT, MCP_HOST and MCP_PORT overrides.
func (c *Config) applyEnv() {
	if t := os.Getenv("MCP_TRANSPORT"); t != "" {
		c.Server.Transport = strings.ToLower(t)
	}
	host, port := os.Getenv("MCP_HOST"), os.Getenv("MCP_PORT")
	if host == "" && port == "" {
		return
	}
	curHost, curPort := splitAddr(c.Server.HTTPAddr)
	if host != "" {
		curHost = host
	}
	if port != "" {
		curPort = port
	}
	c.Server.HTTPAddr = curHost + ":" + curPort
}

func splitAddr(addr string) (host, port string) {
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return addr, "8000"
	}
	return addr[:i], addr[i+1:]
}

// Validate checks enumerations and numeric ranges.
func (c *Config) Validate() error {
	switch c.Store.Kind {
	case StoreSQLite:
	case StoreIMAP:
		if err := c.Store.IMAP.Validate(); err != nil {
			return fmt.Errorf("store.imap: %w", err)
		}
	default:
		return fmt.Errorf("store.kind must be %q or %q, got %q", StoreSQLite, StoreIMAP, c.Store.Kind)
	}
	switch c.Server.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("server.transport must be %q or %q, got %q", TransportStdio, TransportHTTP, c.Server.Transport)
	}
	if _, port := splitAddr(c.Server.HTTPAddr); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("server.http_addr has invalid port %q", port)
		}
	}
	s := c.Search
	if s.DefaultDays <= 0 || s.DefaultLimit <= 0 || s.MaxLimit <= 0 {
		return fmt.Errorf("search.default_days, default_limit and max_limit must be positive")
	}
	if s.DefaultLimit > s.MaxLimit {
		return fmt.Errorf("search.default_limit (%d) exceeds max_limit (%d)", s.DefaultLimit, s.MaxLimit)
	}
	if s.AutoFileThreshold <= 0 || s.PreviewSize < 0 || s.BackfillWindow <= 0 {
		return fmt.Errorf("search.auto_file_threshold and backfill_window must be positive")
	}
	if _, err := c.BackfillInterval(); err != nil {
		return err
	}
	for i, e := range c.Entities {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("entities[%d]: name is required", i)
		}
	}
	return nil
}

// BackfillInterval parses search.backfill_interval. Empty means zero,
// which backfills before every domain search.
func (c *Config) BackfillInterval() (time.Duration, error) {
	if c.Search.BackfillInterval == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Search.BackfillInterval)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("search.backfill_interval: invalid duration %q", c.Search.BackfillInterval)
	}
	return d, nil
}

// EnsureHomeDir creates the home and data directories if they do not exist.
func (c *Config) EnsureHomeDir() error {
	for _, dir := range []string{c.HomeDir, c.Data.DataDir} {
		if dir == "" {
			continue
		}
		if err := fileutil.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath returns the path to the SQLite mirror.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Data.DataDir, "mailtrail.db")
}

// CacheDir returns the result cache directory.
func (c *Config) CacheDir() string {
	if c.Data.CacheDir != "" {
		return c.Data.CacheDir
	}
	return filepath.Join(c.Data.DataDir, "cache")
}

// Directory builds the entity directory from [[entities]].
func (c *Config) Directory() *correspondence.Directory {
	entities := make([]correspondence.Entity, len(c.Entities))
	for i, e := range c.Entities {
		entities[i] = correspondence.Entity{Name: e.Name, Domains: e.Domains, Contacts: e.Contacts}
	}
	return correspondence.NewDirectory(entities)
}

// DomainCategoryMap maps each configured domain to its category. A domain
// listed under several categories keeps the first.
func (c *Config) DomainCategoryMap() map[string]string {
	out := make(map[string]string)
	for _, dc := range c.DomainCategories {
		for _, d := range dc.Domains {
			d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
			if _, ok := out[d]; !ok && d != "" {
				out[d] = dc.Name
			}
		}
	}
	return out
}

// ClampLimit applies the default and maximum result limits.
func (c *Config) ClampLimit(limit int) int {
	if limit <= 0 {
		return c.Search.DefaultLimit
	}
	if limit > c.Search.MaxLimit {
		return c.Search.MaxLimit
	}
	return limit
}
