// Package config loads application configuration from config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hugamara/sheetaudit/internal/db"
)

// ServerConfig holds the HTTP gateway settings.
type ServerConfig struct {
	Port           int
	AllowedOrigins []string
}

// StorageConfig selects and parameterizes the blob backend.
type StorageConfig struct {
	// Backend is "gcs" or "fs".
	Backend         string
	Bucket          string
	CredentialsJSON string
	Path            string
}

// QueueConfig holds the Pub/Sub wiring.
type QueueConfig struct {
	ProjectID       string
	Topic           string
	Subscription    string
	CredentialsJSON string
}

// RedisConfig holds the advisory lock backend. Addr may be empty; the worker
// then relies on the ledger claim alone.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// WorkerConfig tunes the background worker.
type WorkerConfig struct {
	StaleAfter time.Duration
}

// AppConfig is the full application configuration.
type AppConfig struct {
	Database db.Config
	Server   ServerConfig
	Storage  StorageConfig
	Queue    QueueConfig
	Redis    RedisConfig
	Worker   WorkerConfig
}

// Load reads config.yaml from configPath, with environment overrides mapped
// like SHEETAUDIT_DATABASE_HOST or SHEETAUDIT_QUEUE_TOPIC.
func Load(configPath string) (AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("SHEETAUDIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, key := range []string{
		"database.host", "database.port", "database.user", "database.password",
		"database.dbname", "database.sslmode",
		"server.port", "server.allowed_origins",
		"storage.backend", "storage.bucket", "storage.credentials_json", "storage.path",
		"queue.project_id", "queue.topic", "queue.subscription", "queue.credentials_json",
		"redis.addr", "redis.password", "redis.db",
		"worker.stale_after",
	} {
		if err := v.BindEnv(key); err != nil {
			return AppConfig{}, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return AppConfig{}, fmt.Errorf("failed to read config: %w", err)
		}
		// No config.yaml: defaults plus env vars.
	}

	cfg := AppConfig{
		Database: db.Config{
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
		},
		Server: ServerConfig{
			Port:           v.GetInt("server.port"),
			AllowedOrigins: v.GetStringSlice("server.allowed_origins"),
		},
		Storage: StorageConfig{
			Backend:         v.GetString("storage.backend"),
			Bucket:          v.GetString("storage.bucket"),
			CredentialsJSON: v.GetString("storage.credentials_json"),
			Path:            v.GetString("storage.path"),
		},
		Queue: QueueConfig{
			ProjectID:       v.GetString("queue.project_id"),
			Topic:           v.GetString("queue.topic"),
			Subscription:    v.GetString("queue.subscription"),
			CredentialsJSON: v.GetString("queue.credentials_json"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Worker: WorkerConfig{
			StaleAfter: v.GetDuration("worker.stale_after"),
		},
	}

	if err := validate(cfg); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "sheetaudit")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("storage.backend", "fs")
	v.SetDefault("storage.path", "./data/blobs")

	v.SetDefault("queue.topic", "sheetaudit-extraction")
	v.SetDefault("queue.subscription", "sheetaudit-extraction-worker")

	v.SetDefault("worker.stale_after", "15m")
}

func validate(cfg AppConfig) error {
	switch cfg.Storage.Backend {
	case "gcs":
		if cfg.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the gcs backend")
		}
	case "fs":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the fs backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	if cfg.Queue.ProjectID == "" {
		return fmt.Errorf("queue.project_id is required")
	}

	return nil
}
