// Package config handles loading application configuration from a YAML file
// with environment variable overrides.
//
// Config file format (nxt-opds.yaml):
//
//	listen_addr: ":8080"
//	books_dir: "./books"
//	auth_password: "mysecretpassword"
//	backend: "sqlite"
//	refresh_interval: "5m"
//
// Configuration sources, in increasing priority order:
//  1. Built-in defaults
//  2. YAML config file (located by FindConfigFile or explicit path)
//  3. Environment variables (LISTEN_ADDR, BOOKS_DIR, AUTH_PASSWORD, BACKEND, REFRESH_INTERVAL)
package config

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// ListenAddr is loaded from the config file and LISTEN_ADDR but is not
	// read by the server, which listens on ":{Port}" (see internal/httpserver).
	ListenAddr string `yaml:"listen_addr"`

	// BooksDir is the path to the directory where EPUB/PDF files are stored.
	BooksDir string `yaml:"books_dir"`

	// Password is the password matched, together with AuthUser, against HTTP
	// Basic credentials when UseHTTPAuth is set. UseHTTPAuth alone switches
	// authentication on or off; an empty Password matches only an empty
	// password.
	Password string `yaml:"auth_password"`

	// AuthUser is the single username matched against HTTP Basic credentials
	// by the connection server (see internal/httpserver). Case-sensitive.
	AuthUser string `yaml:"auth_user"`

	// Backend selects the catalog backend implementation.
	// "fs"     – in-memory index, metadata stored in .metadata.json (default)
	// "sqlite" – SQLite-indexed backend, metadata stored in .catalog.db
	Backend string `yaml:"backend"`

	// RefreshInterval is how often the catalog automatically rescans the books
	// directory for new or removed files.  Stored as a duration string in YAML
	// (e.g. "5m", "30s", "1h").  Set to "0" to disable background refresh.
	// Parsed into RefreshInterval by Load().
	RefreshIntervalStr string `yaml:"refresh_interval"`

	// RefreshInterval is the parsed form of RefreshIntervalStr.
	// Not marshalled to/from YAML directly.
	RefreshInterval time.Duration `yaml:"-"`

	// BackupDir is the directory where nightly database backups are stored.
	// Defaults to "" which is resolved to {books_dir}/.backups at runtime.
	// Only used when backend is "sqlite".
	BackupDir string `yaml:"backup_dir"`

	// BackupKeep is the number of backup files to retain.
	// Older backups are pruned automatically.  0 or negative means unlimited.
	// Default: 7.
	BackupKeep int `yaml:"backup_keep"`

	// OPDSToken is a token for OPDS feed requests.
	// If empty and Password is set, a stable token is derived from the password.
	// Set explicitly via OPDS_TOKEN env var or opds_token config key.
	// No request handler reads it: a ?token= query parameter does not
	// authenticate a request.
	OPDSToken string `yaml:"opds_token"`

	// ServerName is the library's display name, used as the root feed title,
	// the OpenSearch short name and the web view's library name. The Server
	// response header is a fixed string and does not use it.
	ServerName string `yaml:"server_name"`

	// RootPrefix and HttpPrefix are stripped from every incoming request
	// path before routing, and distinguish OPDS (Atom) clients from web
	// (HTML via XSLT) clients: a path starting with HttpPrefix but not
	// RootPrefix is a web request.
	RootPrefix string `yaml:"root_prefix"`
	HttpPrefix string `yaml:"http_prefix"`

	// UseHTTPAuth enables HTTP Basic authentication on non-image requests.
	UseHTTPAuth bool `yaml:"use_http_auth"`

	// RememberClients enables the persistent client-fingerprint list so a
	// once-authenticated client is recognized without a fresh Basic-Auth
	// header on later connections.
	RememberClients bool `yaml:"remember_clients"`

	// BanClients enables the per-IP failed-attempt counter; once an IP
	// reaches WrongAttemptsCount it is served 403 without a credential
	// prompt until administratively reset.
	BanClients         bool `yaml:"ban_clients"`
	WrongAttemptsCount int  `yaml:"wrong_attempts_count"`

	// UseAbsoluteUri controls whether emitted feed links are rewritten to
	// "http://{Host}/{prefix}/..." (true) or left relative (false).
	UseAbsoluteUri bool `yaml:"use_absolute_uri"`

	// ItemsPerOPDSPage is the pagination threshold for book lists. The router
	// uses it for Atom feeds and for HTML web pages alike; ItemsPerWebPage is
	// loaded but not read by the router.
	ItemsPerOPDSPage int `yaml:"items_per_opds_page"`
	ItemsPerWebPage  int `yaml:"items_per_web_page"`

	// ConvertorPath is the path to an external FB2->EPUB/MOBI converter
	// binary. It is loaded but not read: conversion always uses the built-in
	// converter.
	ConvertorPath string `yaml:"convertor_path"`

	// OPDSStructure is the semicolon-joined "key:0|1" menu-visibility gate
	// string, e.g. "genres:0;author-details:1". Parse with ParsedOPDSStructure.
	OPDSStructure string `yaml:"opds_structure"`

	// AuthorizedClients is the comma-joined persistent client-fingerprint
	// list. Parse with ParsedAuthorizedClients.
	AuthorizedClients string `yaml:"authorized_clients"`

	// Port and Timeout tune the connection server's accept loop (see
	// internal/httpserver). MaxConnections is loaded but not read: the
	// server's concurrent-connection cap is a fixed 100.
	Port           int           `yaml:"port"`
	Timeout        time.Duration `yaml:"-"`
	TimeoutStr     string        `yaml:"timeout"`
	MaxConnections int           `yaml:"max_connections"`

	// CoverCacheCapacity bounds the number of cover/thumbnail JPEGs the
	// router's in-memory LRU cache (internal/covercache) holds at once.
	CoverCacheCapacity int `yaml:"cover_cache_capacity"`

	// Debug reloads the web-view HTML template on every request instead of
	// compiling it once at startup, for editing the template without
	// restarting the server.
	Debug bool `yaml:"debug"`
}

// opdsEndpoints is the set of gate keys recognized in OPDSStructure; any
// other key is ignored, and a key absent from the string defaults to
// enabled, per spec.
var opdsEndpoints = []string{
	"newdate", "newtitle", "authorsindex", "author-details", "author-series",
	"author-no-series", "author-alphabetic", "author-by-date",
	"sequencesindex", "genres",
}

// ParsedOPDSStructure parses the OPDSStructure gate string into a
// per-endpoint enabled map. Keys missing from the string default to true.
func (c Config) ParsedOPDSStructure() map[string]bool {
	out := make(map[string]bool, len(opdsEndpoints))
	for _, k := range opdsEndpoints {
		out[k] = true
	}
	for _, pair := range strings.Split(c.OPDSStructure, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		if _, known := out[kv[0]]; !known {
			continue
		}
		out[kv[0]] = kv[1] == "1"
	}
	return out
}

// ParsedAuthorizedClients splits the comma-joined AuthorizedClients list.
func (c Config) ParsedAuthorizedClients() []string {
	if c.AuthorizedClients == "" {
		return nil
	}
	var out []string
	for _, f := range strings.Split(c.AuthorizedClients, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		BooksDir:           "./books",
		Backend:            "fs",
		RefreshIntervalStr: "5m",
		RefreshInterval:    5 * time.Minute,
		BackupKeep:         7,

		AuthUser:           "admin",
		ServerName:         "TinyOPDS",
		RootPrefix:         "/opds",
		HttpPrefix:         "/web",
		WrongAttemptsCount: 3,
		ItemsPerOPDSPage:   50,
		ItemsPerWebPage:    20,
		Port:               8080,
		TimeoutStr:         "30s",
		Timeout:            30 * time.Second,
		MaxConnections:     100,
		CoverCacheCapacity: 256,
	}
}

// Load reads configuration from the YAML file at path (if non-empty), then
// applies environment variable overrides on top. Returns the merged Config.
// If path is empty, only defaults and environment variables are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	// Environment variables always override file values so that Docker /
	// systemd overrides still work even when a config file is present.
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("BOOKS_DIR"); v != "" {
		cfg.BooksDir = v
	}
	if v := os.Getenv("AUTH_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("REFRESH_INTERVAL"); v != "" {
		cfg.RefreshIntervalStr = v
	}
	if v := os.Getenv("BACKUP_DIR"); v != "" {
		cfg.BackupDir = v
	}
	if v := os.Getenv("BACKUP_KEEP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BackupKeep = n
		}
	}
	if v := os.Getenv("OPDS_TOKEN"); v != "" {
		cfg.OPDSToken = v
	}

	// If no explicit OPDS token but a password is set, derive a stable token
	// from the password so OPDS reader URLs remain valid across restarts.
	if cfg.OPDSToken == "" && cfg.Password != "" {
		cfg.OPDSToken = deriveOPDSToken(cfg.Password)
	}

	// Parse the refresh interval string into a Duration.
	// An empty string or "0" disables background refresh.
	if cfg.RefreshIntervalStr != "" && cfg.RefreshIntervalStr != "0" {
		if d, err := time.ParseDuration(cfg.RefreshIntervalStr); err == nil {
			cfg.RefreshInterval = d
		}
		// Invalid strings are silently ignored; the default (5m) is preserved
		// unless the YAML or env explicitly set a valid value.
	} else {
		cfg.RefreshInterval = 0
	}

	if cfg.TimeoutStr != "" {
		if d, err := time.ParseDuration(cfg.TimeoutStr); err == nil {
			cfg.Timeout = d
		}
	}

	return cfg, nil
}

// deriveOPDSToken returns a stable 32-character hex token derived from the
// given password. It is deterministic: the same password always produces the
// same token. This allows OPDS reader URLs to remain valid across restarts
// without requiring explicit token configuration.
func deriveOPDSToken(password string) string {
	h := sha256.Sum256([]byte("nxt-opds-token:" + password))
	return fmt.Sprintf("%x", h[:16]) // 16 bytes = 32 hex chars
}

// FindConfigFile returns the path to the first config file found in the
// standard search order, or "" if none is found.
//
// Search order:
//  1. NXT_OPDS_CONFIG environment variable (explicit override)
//  2. ./nxt-opds.yaml (current working directory)
//  3. ~/.config/nxt-opds/config.yaml (XDG user config)
func FindConfigFile() string {
	// 1. Explicit path via environment variable.
	if p := os.Getenv("NXT_OPDS_CONFIG"); p != "" {
		return p
	}

	// 2. Config file in the current working directory.
	if _, err := os.Stat("nxt-opds.yaml"); err == nil {
		return "nxt-opds.yaml"
	}

	// 3. XDG user config directory.
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "nxt-opds", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
