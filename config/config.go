package config

import (
	"errors"
	"time"
)

// StorageBackend selects the object store backend.
type StorageBackend string

const (
	StorageLocal StorageBackend = "local"
	StorageGCS   StorageBackend = "gcs"
)

// Config is the top-level configuration struct.  All fields have safe
// defaults via Default(); callers only need to override what they need.
type Config struct {
	// Storage.
	Storage StorageBackend
	Local   LocalConfig
	GCS     GCSConfig

	// Logging / metrics.
	LogLevel string // "debug", "info", "warn", "error"

	// HTTP-adjacent settings consumed by the out-of-scope transport layer;
	// kept here because spec.md §6 names them as configuration, not
	// behaviour this module implements.
	Port        int
	CORSOrigin  string
	SkipDBCheck bool

	Postgres PostgresConfig
	Redis    RedisConfig

	// Revision service knobs.
	MaxUploadBytes int64         // hard cap on ingest size; default 10 MiB
	ThumbMaxEdge   int           // longest edge of derived thumbnails; default 400
	ThumbQuality   int           // WebP quality for thumbnails; default 80
	ThumbCacheTTL  time.Duration // default 1h
	LockTimeout    time.Duration // TTL of the cache lock around thumbnail derivation; default 5s
}

// PostgresConfig configures the metadata store connection.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

// RedisConfig configures the thumbnail cache / distributed lock client.
type RedisConfig struct {
	Addr            string
	Password        string
	DB              int
	MaxRetries      int
	MaxRetryBackoff time.Duration
}

// GCSConfig configures the Google Cloud Storage object store backend.
// Config.Storage must be StorageGCS for these fields to be used; Validate
// rejects StorageGCS with an empty BucketPrefix.
type GCSConfig struct {
	ProjectID    string
	BucketPrefix string // buckets are "<prefix>-raw", "<prefix>-results", "<prefix>-thumb"
	SignedURLTTL time.Duration
}

// LocalConfig configures the local filesystem storage adapter.
type LocalConfig struct {
	RootDir     string
	Permissions uint32 // left zero by Default; not read by storage.LocalStore
}

// Default returns a Config populated with sensible production defaults.
func Default() Config {
	return Config{
		Storage:  StorageLocal,
		LogLevel: "info",

		Port:           8080,
		MaxUploadBytes: 10 * 1024 * 1024,
		ThumbMaxEdge:   400,
		ThumbQuality:   80,
		ThumbCacheTTL:  time.Hour,
		LockTimeout:    5 * time.Second,

		GCS: GCSConfig{
			SignedURLTTL: 15 * time.Minute,
		},

		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Redis: RedisConfig{
			Addr:            "localhost:6379",
			MaxRetries:      10,
			MaxRetryBackoff: 3 * time.Second,
		},
	}
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.MaxUploadBytes <= 0 {
		return errors.New("config: MaxUploadBytes must be positive")
	}
	if c.ThumbMaxEdge <= 0 {
		return errors.New("config: ThumbMaxEdge must be positive")
	}
	if c.ThumbQuality < 1 || c.ThumbQuality > 100 {
		return errors.New("config: ThumbQuality must be between 1 and 100")
	}
	if c.LockTimeout <= 0 {
		return errors.New("config: LockTimeout must be positive")
	}
	if c.Storage == StorageGCS && c.GCS.BucketPrefix == "" {
		return errors.New("config: GCS.BucketPrefix is required when Storage is gcs")
	}
	return nil
}
