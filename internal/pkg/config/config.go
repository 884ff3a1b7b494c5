package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server           ServerConfig           `mapstructure:"server"`
	Database         DatabaseConfig         `mapstructure:"database"`
	NATS             NATSConfig             `mapstructure:"nats"`
	Valkey           ValkeyConfig           `mapstructure:"valkey"`
	Temporal         TemporalConfig         `mapstructure:"temporal"`
	Telemetry        TelemetryConfig        `mapstructure:"telemetry"`
	Auth             AuthConfig             `mapstructure:"auth"`
	Push             PushConfig             `mapstructure:"push"`
	Maps             MapsConfig             `mapstructure:"maps"`
	GeofenceProvider GeofenceProviderConfig `mapstructure:"geofence_provider"`
	Notifications    NotificationsConfig    `mapstructure:"notifications"`
	Logging          LoggingConfig          `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	TempoAddr   string  `mapstructure:"tempo_addr"`
	Enabled     bool    `mapstructure:"enabled"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// AuthConfig configures verification of bearer tokens issued by the
// identity service.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type PushConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	CredentialsFile string  `mapstructure:"credentials_file"`
	ProjectID       string  `mapstructure:"project_id"`
	RatePerSecond   float64 `mapstructure:"rate_per_second"`
}

type MapsConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type GeofenceProviderConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
}

type NotificationsConfig struct {
	DedupTTLSeconds   int `mapstructure:"dedup_ttl_seconds"`
	LiveTimeoutMillis int `mapstructure:"live_timeout_millis"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from .env, file and environment variables.
func Load(service string) (*Config, error) {
	_ = godotenv.Load() // OK if missing

	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "geotrack")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "geotrack")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "geotrack-timers")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("push.enabled", false)
	v.SetDefault("push.rate_per_second", 50)
	v.SetDefault("maps.api_key", "")
	v.SetDefault("geofence_provider.base_url", "")
	v.SetDefault("geofence_provider.timeout_seconds", 5)
	v.SetDefault("geofence_provider.rate_per_second", 5)
	v.SetDefault("notifications.dedup_ttl_seconds", 86400)
	v.SetDefault("notifications.live_timeout_millis", 2000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: GEOTRACK_DATABASE_HOST → database.host
	v.SetEnvPrefix("GEOTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Database.Host == "" {
		errs = append(errs, "database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
	}
	if c.Database.User == "" {
		errs = append(errs, "database.user is required")
	}
	if c.Database.DBName == "" {
		errs = append(errs, "database.dbname is required")
	}
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Temporal.HostPort == "" {
		errs = append(errs, "temporal.host_port is required")
	}
	if c.Temporal.TaskQueue == "" {
		errs = append(errs, "temporal.task_queue is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Sprintf("telemetry.sample_ratio must be within [0,1], got %g", c.Telemetry.SampleRatio))
	}
	if c.Push.Enabled && c.Push.CredentialsFile == "" {
		errs = append(errs, "push.credentials_file is required when push is enabled")
	}
	if c.Push.RatePerSecond <= 0 {
		errs = append(errs, "push.rate_per_second must be positive")
	}
	if c.GeofenceProvider.BaseURL != "" && c.GeofenceProvider.TimeoutSeconds <= 0 {
		errs = append(errs, "geofence_provider.timeout_seconds must be positive")
	}
	if c.Notifications.DedupTTLSeconds <= 0 {
		errs = append(errs, "notifications.dedup_ttl_seconds must be positive")
	}
	if c.Notifications.LiveTimeoutMillis <= 0 {
		errs = append(errs, "notifications.live_timeout_millis must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireAuth is called by services that verify bearer tokens.
func (c *Config) RequireAuth() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config validation failed:\n  - auth.jwt_secret is required")
	}
	return nil
}
