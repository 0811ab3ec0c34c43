package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	JWT     JWTConfig
	Log     LogConfig
	Custody CustodyConfig
}

type AppConfig struct {
	Env  string `envconfig:"APP_ENV" default:"development"`
	Port string `envconfig:"APP_PORT" default:"8080"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

type DBConfig struct {
	Driver   string `envconfig:"DB_DRIVER" default:"postgres"`
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"password"`
	Name     string `envconfig:"DB_NAME" default:"custody"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	TimeZone string `envconfig:"DB_TIMEZONE" default:"UTC"`
	// SQLitePath is used when Driver is sqlite.
	SQLitePath string `envconfig:"DB_SQLITE_PATH" default:"custody.db"`

	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"1h"`
}

// DSN builds the postgres connection string.
func (d DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, d.SSLMode, d.TimeZone,
	)
}

type RedisConfig struct {
	// URL enables the distributed task lock; empty keeps locks in process.
	URL     string        `envconfig:"REDIS_URL"`
	LockTTL time.Duration `envconfig:"LOCK_TTL" default:"30s"`
}

type JWTConfig struct {
	Secret string `envconfig:"JWT_SECRET" default:"supersecret"`
}

type LogConfig struct {
	Level      string `envconfig:"LOG_LEVEL" default:"debug"`
	File       string `envconfig:"LOG_FILE" default:"./logs/app.log"`
	MaxSizeMB  int    `envconfig:"LOG_MAX_SIZE_MB" default:"10"`
	MaxBackups int    `envconfig:"LOG_MAX_BACKUPS" default:"7"`
	MaxAgeDays int    `envconfig:"LOG_MAX_AGE_DAYS" default:"7"`
	Stdout     bool   `envconfig:"LOG_STDOUT" default:"false"`
}

type CustodyConfig struct {
	DefaultGeofenceRadius float64 `envconfig:"GEOFENCE_DEFAULT_RADIUS" default:"100"`
	TravelTolerance       float64 `envconfig:"LIFECYCLE_TRAVEL_TOLERANCE" default:"0.5"`
	AverageSpeedKmh       float64 `envconfig:"SCHEDULER_AVERAGE_SPEED_KMH" default:"30"`
	EvidenceDir           string  `envconfig:"EVIDENCE_DIR" default:"./evidence"`
	HashAlgorithm         string  `envconfig:"EVIDENCE_HASH_ALGORITHM" default:"sha256"`
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, relying on env vars")
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.DB.Driver)
	}
	if c.Custody.DefaultGeofenceRadius < 10 || c.Custody.DefaultGeofenceRadius > 1000 {
		return fmt.Errorf("GEOFENCE_DEFAULT_RADIUS must be within 10-1000 m, got %v", c.Custody.DefaultGeofenceRadius)
	}
	if c.Custody.TravelTolerance < 0 {
		return fmt.Errorf("LIFECYCLE_TRAVEL_TOLERANCE must not be negative")
	}
	if c.Custody.AverageSpeedKmh <= 0 {
		return fmt.Errorf("SCHEDULER_AVERAGE_SPEED_KMH must be positive")
	}
	return nil
}
