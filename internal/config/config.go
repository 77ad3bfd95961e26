package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration loaded from config.yaml.
type Config struct {
	ProjectName  string   `yaml:"project_name"  json:"project_name"`
	ContentRoots []string `yaml:"content_roots" json:"content_roots"`
	LibraryRoots []string `yaml:"library_roots" json:"library_roots"`
	SDKRoots     []string `yaml:"sdk_roots"     json:"sdk_roots"`
	ExcludePaths []string `yaml:"exclude_paths" json:"exclude_paths"`

	Schedule   string `yaml:"schedule"    json:"schedule"`
	ScanPaused bool   `yaml:"scan_paused" json:"scan_paused"`

	// SmartModeScanning selects asynchronous indexing-queue flushes; when
	// false the queue drains synchronously on the scan goroutine.
	SmartModeScanning bool `yaml:"smart_mode_scanning" json:"smart_mode_scanning"`

	// UseDependencyStatusCache enables StatusMark issuing around provider
	// collection.
	UseDependencyStatusCache bool `yaml:"use_dependency_status_cache" json:"use_dependency_status_cache"`

	HistoryRetentionDays int `yaml:"history_retention_days" json:"history_retention_days"`

	DBPath   string `yaml:"db_path"   json:"-"`
	HTTPAddr string `yaml:"http_addr" json:"-"`
	LogLevel string `yaml:"log_level" json:"-"`

	ScanWorkers ScanWorkers `yaml:"scan_workers" json:"scan_workers"`
}

// ScanWorkers holds concurrency knobs for the scan engine.
type ScanWorkers struct {
	// Providers bounds how many providers scan in parallel.
	Providers int `yaml:"providers" json:"providers"`
	// Walkers bounds the directory readers inside one provider.
	Walkers int `yaml:"walkers" json:"walkers"`
	// ClassifierCacheSize is the LRU size of the stamp classifier.
	ClassifierCacheSize int `yaml:"classifier_cache_size" json:"classifier_cache_size"`
}

// applyDefaults fills zero/empty fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.ProjectName == "" {
		c.ProjectName = "workspace"
	}
	if c.Schedule == "" {
		c.Schedule = "0 2 * * *"
	}
	if c.HistoryRetentionDays == 0 {
		c.HistoryRetentionDays = 90
	}
	if c.DBPath == "" {
		c.DBPath = "/data/scandex.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ScanWorkers.Providers == 0 {
		c.ScanWorkers.Providers = 4
	}
	if c.ScanWorkers.Walkers == 0 {
		c.ScanWorkers.Walkers = 2
	}
	if c.ScanWorkers.ClassifierCacheSize == 0 {
		c.ScanWorkers.ClassifierCacheSize = 65536
	}
}

// Load reads and parses the YAML config file at path. If the file does not
// exist, Load returns a default Config so the binary can start without a
// mounted config file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		var cfg Config
		cfg.applyDefaults()
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}
