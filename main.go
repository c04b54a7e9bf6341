package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/banux/tinyopds/internal/config"
	"github.com/banux/tinyopds/internal/httpserver"
	"github.com/banux/tinyopds/internal/logging"
	"github.com/banux/tinyopds/internal/router"

	fsbackend "github.com/banux/tinyopds/internal/backend/fs"
	sqlitebackend "github.com/banux/tinyopds/internal/backend/sqlite"
	"github.com/banux/tinyopds/internal/catalog"
)

func main() {
	log := logging.New(os.Getenv("TINYOPDS_VERBOSE") != "")

	cfgPath := config.FindConfigFile()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.WriteLine(logging.Error, "configuration error: %v", err)
		os.Exit(1)
	}
	if cfgPath != "" {
		log.WriteLine(logging.Info, "loaded configuration from %q", cfgPath)
	}
	if cfg.UseHTTPAuth && cfg.Password == "" {
		log.WriteLine(logging.Warning, "auth_password is not set - HTTP Basic authentication accepts only an empty password")
	}

	if err := os.MkdirAll(cfg.BooksDir, 0755); err != nil {
		log.WriteLine(logging.Error, "cannot create books directory %q: %v", cfg.BooksDir, err)
		os.Exit(1)
	}

	var cat catalog.Catalog
	switch cfg.Backend {
	case "sqlite":
		b, err := sqlitebackend.New(cfg.BooksDir)
		if err != nil {
			log.WriteLine(logging.Error, "sqlite catalog backend error: %v", err)
			os.Exit(1)
		}
		cat = b
		log.WriteLine(logging.Info, "using SQLite catalog backend (%s/.catalog.db)", cfg.BooksDir)
	default: // "fs" or unset
		b, err := fsbackend.New(cfg.BooksDir)
		if err != nil {
			log.WriteLine(logging.Error, "catalog backend error: %v", err)
			os.Exit(1)
		}
		cat = b
		log.WriteLine(logging.Info, "using in-memory (fs) catalog backend")
	}
	log.WriteLine(logging.Info, "catalog loaded from %q", cfg.BooksDir)

	if r, ok := cat.(catalog.Refresher); ok && cfg.RefreshInterval > 0 {
		log.WriteLine(logging.Info, "background catalog refresh enabled (interval: %s)", cfg.RefreshInterval)
		go func() {
			ticker := time.NewTicker(cfg.RefreshInterval)
			defer ticker.Stop()
			for range ticker.C {
				if err := r.Refresh(); err != nil {
					log.WriteLine(logging.Warning, "background catalog refresh error: %v", err)
				} else {
					log.WriteLine(logging.Info, "catalog refreshed")
				}
			}
		}()
	}

	if bu, ok := cat.(catalog.Backupper); ok {
		backupDir := cfg.BackupDir
		if backupDir == "" {
			backupDir = filepath.Join(cfg.BooksDir, ".backups")
		}
		log.WriteLine(logging.Info, "nightly database backup enabled (dir: %s, keep: %d)", backupDir, cfg.BackupKeep)
		go runNightlyBackup(log, bu, backupDir, cfg.BackupKeep)
	}

	opdsRouter := router.New(&cfg, cat)
	statePath := filepath.Join(cfg.BooksDir, ".tinyopds-auth.json")
	srv := httpserver.New(&cfg, opdsRouter, log, statePath)

	log.WriteLine(logging.Info, "TinyOPDS starting on port %d", cfg.Port)
	if err := srv.ListenAndServe(); err != nil {
		log.WriteLine(logging.Error, "server error: %v", err)
		os.Exit(1)
	}
}

// runNightlyBackup sleeps until the next local midnight, then calls
// bu.Backup every 24 hours. Intended to run in a goroutine.
func runNightlyBackup(log logging.Log, bu catalog.Backupper, backupDir string, keep int) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
		time.Sleep(time.Until(next))

		path, err := bu.Backup(backupDir, keep)
		if err != nil {
			log.WriteLine(logging.Warning, "nightly backup error: %v", err)
		} else {
			log.WriteLine(logging.Info, "nightly backup created: %s", path)
		}
	}
}
