// Package config provides XML-based configuration management for the guided upload server.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/trinity/guided-upload/internal/persistence"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"GuidedUpload"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Data-preparation backend
	Backend BackendConfig `xml:"Backend"`

	// Saved flow state
	Persistence PersistenceConfig `xml:"Persistence"`

	// Live flow limits
	Sessions SessionsConfig `xml:"Sessions"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// BackendConfig points at the data-preparation service
type BackendConfig struct {
	BaseURL         string `xml:"BaseURL"`
	TimeoutSeconds  int    `xml:"TimeoutSeconds"`
	MaxRetries      int    `xml:"MaxRetries"`
	RetryIntervalMs int    `xml:"RetryIntervalMs"`
}

// PersistenceConfig selects where flow state is saved
type PersistenceConfig struct {
	Driver        string `xml:"Driver"` // file, duckdb or memory
	DataDirectory string `xml:"DataDirectory"`
	SaveTimeoutMs int    `xml:"SaveTimeoutMs"`
}

// SessionsConfig bounds the number and lifetime of live flows
type SessionsConfig struct {
	MaxFlows               int `xml:"MaxFlows"`
	SessionTimeoutMinutes  int `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int `xml:"CleanupIntervalMinutes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
	ShowErrorDetails     bool   `xml:"ShowErrorDetails"`
	RulesFile            string `xml:"RulesFile"`
	DuckDBThreads        int    `xml:"DuckDBThreads"`
	DuckDBMemoryLimit    string `xml:"DuckDBMemoryLimit"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 60,
			IdleTimeout:  120,
			BodyLimit:    "2M",
		},
		Backend: BackendConfig{
			BaseURL:         "http://localhost:8000",
			TimeoutSeconds:  30,
			MaxRetries:      2,
			RetryIntervalMs: 250,
		},
		Persistence: PersistenceConfig{
			Driver:        "file",
			DataDirectory: "./data",
			SaveTimeoutMs: 5000,
		},
		Sessions: SessionsConfig{
			MaxFlows:               100,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
			ShowErrorDetails:     true,
			DuckDBThreads:        4,
			DuckDBMemoryLimit:    "1GB",
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Guided Upload Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var memoryLimitPattern = regexp.MustCompile(`^(?i)\d+(\.\d+)?\s*(b|[kmgt]i?b)$`)

// Validate rejects settings the server cannot start with
func (c *AppConfig) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid Server/Port %d", c.Server.Port)
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("Backend/BaseURL is required")
	}
	if c.Backend.MaxRetries < 0 {
		return fmt.Errorf("invalid Backend/MaxRetries %d", c.Backend.MaxRetries)
	}
	switch strings.ToLower(c.Persistence.Driver) {
	case "", "file", "duckdb", "memory":
	default:
		return fmt.Errorf("invalid Persistence/Driver %q", c.Persistence.Driver)
	}
	if c.Advanced.DuckDBThreads < 0 {
		return fmt.Errorf("invalid Advanced/DuckDBThreads %d", c.Advanced.DuckDBThreads)
	}
	if l := strings.TrimSpace(c.Advanced.DuckDBMemoryLimit); l != "" && !memoryLimitPattern.MatchString(l) {
		return fmt.Errorf("invalid Advanced/DuckDBMemoryLimit %q", c.Advanced.DuckDBMemoryLimit)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if url := os.Getenv("BACKEND_URL"); url != "" {
		c.Backend.BaseURL = url
	}

	// DATA_DIR override
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Persistence.DataDirectory = dataDir
	}

	if driver := os.Getenv("PERSISTENCE_DRIVER"); driver != "" {
		c.Persistence.Driver = driver
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Persistence.DataDirectory) {
		c.Persistence.DataDirectory = filepath.Join(configDir, c.Persistence.DataDirectory)
	}
	if c.Advanced.RulesFile != "" && !filepath.IsAbs(c.Advanced.RulesFile) {
		c.Advanced.RulesFile = filepath.Join(configDir, c.Advanced.RulesFile)
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Persistence.DataDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// BackendTimeout is the per-attempt timeout of backend requests
func (c *AppConfig) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

// RetryInterval is the initial backoff between backend retries
func (c *AppConfig) RetryInterval() time.Duration {
	return time.Duration(c.Backend.RetryIntervalMs) * time.Millisecond
}

// SaveTimeout bounds one write of flow state
func (c *AppConfig) SaveTimeout() time.Duration {
	return time.Duration(c.Persistence.SaveTimeoutMs) * time.Millisecond
}

// SessionTimeout is how long an idle flow stays in memory
func (c *AppConfig) SessionTimeout() time.Duration {
	return time.Duration(c.Sessions.SessionTimeoutMinutes) * time.Minute
}

// DuckOptions carries the DuckDB tuning into the duckdb driver
func (c *AppConfig) DuckOptions() persistence.DuckOptions {
	return persistence.DuckOptions{
		Threads:     c.Advanced.DuckDBThreads,
		MemoryLimit: c.Advanced.DuckDBMemoryLimit,
	}
}

// CleanupInterval is the period of the idle flow sweep
func (c *AppConfig) CleanupInterval() time.Duration {
	return time.Duration(c.Sessions.CleanupIntervalMinutes) * time.Minute
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	if strings.EqualFold(c.Persistence.Driver, "memory") {
		return nil
	}
	if err := os.MkdirAll(c.Persistence.DataDirectory, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Persistence.DataDirectory, err)
	}
	return nil
}
