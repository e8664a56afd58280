// Package config defines process configuration and its layered loading.
//
// Conventions:
// - New() returns a Config filled with defaults.
// - Load(ctx) layers .env, an optional YAML file and FACEWATCH_* env vars.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMemory   = "memory"
)

// Broker drivers.
const (
	BrokerAMQP   = "amqp"
	BrokerMemory = "memory"
)

// Detector drivers.
const (
	DetectorDlib = "dlib"
	DetectorHaar = "haar"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// Addr is the ingestion service listen address, e.g. ":8000".
	Addr string `koanf:"addr"`

	// RecentLimit is the size of GET /faces.
	RecentLimit int `koanf:"recent_limit"`

	// MaxUploadBytes caps a single uploaded face.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`

	Store    StoreConfig    `koanf:"store"`
	Broker   BrokerConfig   `koanf:"broker"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Upload   UploadConfig   `koanf:"upload"`
	Detector DetectorConfig `koanf:"detector"`
	Hub      HubConfig      `koanf:"hub"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

// StoreConfig selects and parameterises the face store.
type StoreConfig struct {
	Driver   string         `koanf:"driver"`
	Postgres PostgresConfig `koanf:"postgres"`
	SQLite   SQLiteConfig   `koanf:"sqlite"`
}

// PostgresConfig holds datastore connection parameters.
type PostgresConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"sslmode"`
	MaxConns int32  `koanf:"max_conns"`
}

// DSN renders a postgres:// connection string.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.User, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Name,
	}
	if p.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(p.SSLMode)
	}
	return u.String()
}

// SQLiteConfig holds the embedded store location.
type SQLiteConfig struct {
	Path        string        `koanf:"path"`
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

// BrokerConfig holds message-broker connection parameters.
type BrokerConfig struct {
	Driver string     `koanf:"driver"`
	AMQP   AMQPConfig `koanf:"amqp"`
	// Queue is the frame queue name.
	Queue string `koanf:"queue"`
	// Priority declares the queue with x-max-priority = MaxPriority.
	Priority    bool  `koanf:"priority"`
	MaxPriority uint8 `koanf:"max_priority"`
	// Durable must match how the queue was first declared on the broker.
	Durable bool `koanf:"durable"`
	// Prefetch bounds unacknowledged deliveries held by the consumer.
	Prefetch int `koanf:"prefetch"`
	// BufferSize bounds the in-memory queue.
	BufferSize int `koanf:"buffer_size"`
}

// AMQPConfig holds RabbitMQ connection parameters.
type AMQPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	VHost    string `koanf:"vhost"`
}

// URL renders an amqp:// connection string.
func (a AMQPConfig) URL() string {
	vhost := a.VHost
	if vhost == "" || vhost == "/" {
		vhost = ""
	}
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(a.User, a.Password),
		Host:   net.JoinHostPort(a.Host, strconv.Itoa(a.Port)),
		Path:   "/" + vhost,
	}
	return u.String()
}

// IngestConfig tells the UploadClient where the ingestion service lives.
type IngestConfig struct {
	URL string `koanf:"url"`
}

// UploadConfig tunes crop uploads.
type UploadConfig struct {
	Timeout     time.Duration `koanf:"timeout"`
	JPEGQuality int           `koanf:"jpeg_quality"`
	// Concurrency bounds parallel crop uploads within one frame.
	Concurrency int `koanf:"concurrency"`
}

// DetectorConfig selects the face detection backend.
type DetectorConfig struct {
	Driver      string `koanf:"driver"`
	ModelDir    string `koanf:"model_dir"`
	CascadePath string `koanf:"cascade_path"`
	// CNN selects dlib's CNN detector; it needs mmod_human_face_detector.dat.
	CNN bool `koanf:"cnn"`
	// MinSize drops detections narrower or shorter than this many pixels.
	MinSize int `koanf:"min_size"`
}

// HubConfig tunes viewer notification delivery.
type HubConfig struct {
	SendTimeout time.Duration `koanf:"send_timeout"`
	SendBuffer  int           `koanf:"send_buffer"`
}

// MetricsConfig controls Prometheus recording.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
	// RefreshInterval paces periodic gauges (stored faces, system stats).
	RefreshInterval time.Duration `koanf:"refresh_interval"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:       "info",
		LogFormat:      "text",
		Addr:           ":8000",
		RecentLimit:    5,
		MaxUploadBytes: 10 << 20,
		Store: StoreConfig{
			Driver: StorePostgres,
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Name:     "faces",
				SSLMode:  "disable",
				MaxConns: 10,
			},
			SQLite: SQLiteConfig{Path: "facewatch.db", BusyTimeout: 5 * time.Second},
		},
		Broker: BrokerConfig{
			Driver: BrokerAMQP,
			AMQP: AMQPConfig{
				Host:  "localhost",
				Port:  5672,
				User:  "guest",
				VHost: "/",
			},
			Queue:       "screens",
			Priority:    true,
			MaxPriority: 10,
			Prefetch:    1,
			BufferSize:  1024,
		},
		Ingest: IngestConfig{URL: "http://127.0.0.1:8000"},
		Upload: UploadConfig{
			Timeout:     10 * time.Second,
			JPEGQuality: 90,
			Concurrency: 1,
		},
		Detector: DetectorConfig{
			Driver:   DetectorDlib,
			ModelDir: "models",
		},
		Hub: HubConfig{
			SendTimeout: 5 * time.Second,
			SendBuffer:  16,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			RefreshInterval: 10 * time.Second,
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.RecentLimit < 1:
		return fmt.Errorf("%w: recent_limit must be positive", ErrInvalidConfig)
	case c.MaxUploadBytes < 1:
		return fmt.Errorf("%w: max_upload_bytes must be positive", ErrInvalidConfig)
	case c.Upload.JPEGQuality < 1 || c.Upload.JPEGQuality > 100:
		return fmt.Errorf("%w: upload.jpeg_quality must be within 1..100", ErrInvalidConfig)
	case c.Hub.SendTimeout <= 0:
		return fmt.Errorf("%w: hub.send_timeout must be positive", ErrInvalidConfig)
	case c.Metrics.RefreshInterval <= 0:
		return fmt.Errorf("%w: metrics.refresh_interval must be positive", ErrInvalidConfig)
	}

	switch c.Store.Driver {
	case StorePostgres, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("%w: unknown store.driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	switch c.Broker.Driver {
	case BrokerAMQP, BrokerMemory:
	default:
		return fmt.Errorf("%w: unknown broker.driver %q", ErrInvalidConfig, c.Broker.Driver)
	}
	switch c.Detector.Driver {
	case DetectorDlib, DetectorHaar:
	default:
		return fmt.Errorf("%w: unknown detector.driver %q", ErrInvalidConfig, c.Detector.Driver)
	}
	if _, err := url.ParseRequestURI(c.Ingest.URL); err != nil {
		return fmt.Errorf("%w: ingest.url: %v", ErrInvalidConfig, err)
	}
	return nil
}
