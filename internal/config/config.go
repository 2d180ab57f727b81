// Package config provides configuration management for UnifiedViews.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with UV_ prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./config.yaml, ./configs/config.yaml, ~/.unifiedviews/config.yaml, /etc/unifiedviews/config.yaml)
//  3. .env files
//  4. Environment variables (UV_ prefix)
//
// # Usage Example
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Triple store: %s\n", cfg.TripleStore.QueryEndpoint)
//
// # Environment Variables
//
// Environment variables override all other configuration sources.
// Use UV_ prefix and underscores for nested keys:
//   - UV_SERVER_PORT=8095
//   - UV_COUCHDB_URL=http://localhost:5984
//   - UV_TRIPLESTORE_QUERY_ENDPOINT=http://localhost:8890/sparql
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends.
const (
	BackendCouchDB = "couchdb"
	BackendMemory  = "memory"
)

// Config is the root configuration structure for UnifiedViews.
type Config struct {
	// Server contains HTTP server configuration
	Server ServerConfig `mapstructure:"server"`

	// CouchDB contains database connection settings
	CouchDB CouchDBConfig `mapstructure:"couchdb"`

	// Storage selects the persistence backend
	Storage StorageConfig `mapstructure:"storage"`

	// TripleStore contains the SPARQL endpoint settings used for browsing data units
	TripleStore TripleStoreConfig `mapstructure:"triplestore"`

	// Files contains the filesystem locations used for DPUs and executions
	Files FilesConfig `mapstructure:"files"`

	// Scheduler contains the schedule evaluation settings
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// Cleanup contains settings of the execution deleter
	Cleanup CleanupConfig `mapstructure:"cleanup"`

	// Logging contains logging settings
	Logging LoggingConfig `mapstructure:"logging"`

	// Security contains security and rate limiting settings
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 8080)
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Debug enables debug logging and additional endpoints
	Debug bool `mapstructure:"debug"`

	// TLSEnabled enables HTTPS
	TLSEnabled bool `mapstructure:"tls_enabled"`

	// TLSCert is the path to the TLS certificate file
	TLSCert string `mapstructure:"tls_cert"`

	// TLSKey is the path to the TLS private key file
	TLSKey string `mapstructure:"tls_key"`
}

// CouchDBConfig contains CouchDB connection settings.
type CouchDBConfig struct {
	// URL is the CouchDB server URL (e.g., http://localhost:5984)
	URL string `mapstructure:"url"`

	// Database is the database name to use
	Database string `mapstructure:"database"`

	// Username for CouchDB authentication
	Username string `mapstructure:"username"`

	// Password for CouchDB authentication
	Password string `mapstructure:"password"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is couchdb or memory
	Backend string `mapstructure:"backend"`
}

// TripleStoreConfig contains the SPARQL endpoint settings.
type TripleStoreConfig struct {
	// QueryEndpoint is the SPARQL 1.1 query endpoint URL
	QueryEndpoint string `mapstructure:"query_endpoint"`

	// UpdateEndpoint is the SPARQL 1.1 update endpoint URL (optional)
	UpdateEndpoint string `mapstructure:"update_endpoint"`

	// Username and Password are sent with HTTP digest authentication;
	// endpoints accepting only basic authentication are not supported
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// Timeout bounds a single request against the endpoint
	Timeout time.Duration `mapstructure:"timeout"`

	// DefaultPageSize is the number of rows shown per page when none is requested
	DefaultPageSize int `mapstructure:"default_page_size"`

	// MaxPageSize caps the requested page size
	MaxPageSize int `mapstructure:"max_page_size"`

	// CountCacheTTL is how long result sizes are cached per query
	CountCacheTTL time.Duration `mapstructure:"count_cache_ttl"`

	// GraphPrefix is prepended to data unit names to form graph IRIs when an
	// execution does not record one
	GraphPrefix string `mapstructure:"graph_prefix"`
}

// FilesConfig contains filesystem locations.
type FilesConfig struct {
	// WorkingDir is the root of execution working directories
	WorkingDir string `mapstructure:"working_dir"`

	// LibraryDir holds installed DPU JARs, one directory per template
	LibraryDir string `mapstructure:"library_dir"`

	// UploadDir is where uploads are unpacked before installation
	UploadDir string `mapstructure:"upload_dir"`

	// MaxUploadSize is the upload limit in bytes
	MaxUploadSize int64 `mapstructure:"max_upload_size"`

	// WatchLibrary enables reporting of JAR changes made outside the application
	WatchLibrary bool `mapstructure:"watch_library"`
}

// SchedulerConfig contains schedule evaluation settings.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// CleanupConfig contains settings of the execution deleter.
type CleanupConfig struct {
	// Parallelism is the number of working directories removed concurrently
	Parallelism int `mapstructure:"parallelism"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error, off)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`
}

// SecurityConfig contains security and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AuthEnabled enables JWT authentication. When disabled every request acts as an administrator.
	AuthEnabled bool `mapstructure:"auth_enabled"`

	// JWTSecret is the secret key for signing JWT tokens
	JWTSecret string `mapstructure:"jwt_secret"`

	// JWTExpiration is the JWT token expiration duration (default: 24h)
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`
}

var cfg *Config

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.unifiedviews")
		v.AddConfigPath("/etc/unifiedviews")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			// an explicit but missing file falls back to defaults
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("UV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.tls_enabled", false)

	v.SetDefault("couchdb.url", "http://localhost:5984")
	v.SetDefault("couchdb.database", "unifiedviews")
	v.SetDefault("couchdb.username", "admin")
	v.SetDefault("couchdb.password", "password")

	v.SetDefault("storage.backend", BackendCouchDB)

	v.SetDefault("triplestore.query_endpoint", "http://localhost:8890/sparql")
	v.SetDefault("triplestore.update_endpoint", "")
	v.SetDefault("triplestore.timeout", "60s")
	v.SetDefault("triplestore.default_page_size", 20)
	v.SetDefault("triplestore.max_page_size", 1000)
	v.SetDefault("triplestore.count_cache_ttl", "5m")
	v.SetDefault("triplestore.graph_prefix", "http://unifiedviews.eu/resource/dataunit/")

	v.SetDefault("files.working_dir", "./data/working")
	v.SetDefault("files.library_dir", "./data/dpu")
	v.SetDefault("files.upload_dir", os.TempDir())
	v.SetDefault("files.max_upload_size", 100<<20)
	v.SetDefault("files.watch_library", true)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "30s")

	v.SetDefault("cleanup.parallelism", 4)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.jwt_secret", "change-me-in-production")
	v.SetDefault("security.jwt_expiration", "24h")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	switch cfg.Storage.Backend {
	case BackendCouchDB, "":
		if cfg.CouchDB.URL == "" {
			return fmt.Errorf("couchdb url is required")
		}
		if cfg.CouchDB.Database == "" {
			return fmt.Errorf("couchdb database is required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}

	u, err := url.Parse(cfg.TripleStore.QueryEndpoint)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("triplestore query endpoint must be an absolute URL: %q", cfg.TripleStore.QueryEndpoint)
	}

	if cfg.TripleStore.DefaultPageSize < 1 || cfg.TripleStore.MaxPageSize < 1 {
		return fmt.Errorf("triplestore page sizes must be positive")
	}
	if cfg.TripleStore.DefaultPageSize > cfg.TripleStore.MaxPageSize {
		return fmt.Errorf("triplestore default page size %d exceeds max page size %d",
			cfg.TripleStore.DefaultPageSize, cfg.TripleStore.MaxPageSize)
	}

	if cfg.Cleanup.Parallelism < 1 {
		return fmt.Errorf("cleanup parallelism must be at least 1")
	}

	return nil
}

func Get() *Config {
	return cfg
}

func (c *CouchDBConfig) BuildURL() string {
	if c.Username != "" && c.Password != "" {
		url := strings.Replace(c.URL, "://", "://"+c.Username+":"+c.Password+"@", 1)
		return url
	}
	return c.URL
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
