package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/subosito/gotenv"
)

const (
	StoreRedis  = "redis"
	StoreMemory = "memory"

	RelayHub      = "hub"
	RelayCollider = "collider"

	DirectoryStatic   = "static"
	DirectoryPostgres = "postgres"
)

type Config struct {
	Addr        string  `env:"ADDR" envDefault:":8080"`
	MetricsAddr string  `env:"METRICS_ADDR" envDefault:":9090"`
	Debug       bool    `env:"DEBUG" envDefault:"false"`
	LogLevel    string  `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string  `env:"LOG_FORMAT" envDefault:"console"`
	StaticDir   string  `env:"STATIC_DIR" envDefault:"../frontend/dist"`
	PublicWSURL string  `env:"PUBLIC_WS_URL"`
	InstanceID  string  `env:"INSTANCE_ID"`
	RateLimit   float64 `env:"RATE_LIMIT" envDefault:"20"`

	Rooms     RoomsConfig
	Redis     RedisConfig
	Relay     RelayConfig
	ICE       ICEConfig
	Directory DirectoryConfig
	Postgres  PostgresConfig
}

type RoomsConfig struct {
	Store       string        `env:"ROOM_STORE" envDefault:"redis"`
	TTL         time.Duration `env:"ROOM_TTL" envDefault:"24h"`
	MaxAttempts int           `env:"CAS_MAX_ATTEMPTS" envDefault:"10"`
	Backoff     time.Duration `env:"CAS_BACKOFF" envDefault:"0s"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
	Prefix   string `env:"REDIS_PREFIX" envDefault:"webrtc"`
}

type RelayConfig struct {
	Mode        string `env:"RELAY_MODE" envDefault:"hub"`
	ColliderURL string `env:"COLLIDER_URL"`
}

type ICEConfig struct {
	Mode         string        `env:"ICE_MODE" envDefault:"stun-turn"`
	STUNURLs     []string      `env:"STUN_URLS" envSeparator:","`
	TURNURLs     []string      `env:"TURN_URLS" envSeparator:","`
	TURNUsername string        `env:"TURN_USERNAME"`
	TURNPassword string        `env:"TURN_PASSWORD"`
	TURNSecret   string        `env:"TURN_SECRET"`
	TURNTTL      time.Duration `env:"TURN_TTL" envDefault:"24h"`
}

type DirectoryConfig struct {
	Backend string `env:"DIRECTORY_BACKEND" envDefault:"static"`
	// Devices seeds the static directory as "user=device,user=device".
	Devices string `env:"DIRECTORY_DEVICES"`
}

type PostgresConfig struct {
	URL string `env:"POSTGRES_URL"`

	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Name     string `env:"POSTGRES_NAME" envDefault:"rendezvous"`
	SSL      string `env:"POSTGRES_SSL" envDefault:"disable"`
}

func (p *PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSL,
	)
}

// New loads optional .env files and parses the process environment.
func New() (*Config, error) {
	LoadDotEnv()
	return load(nil)
}

// load parses environ, or the process environment when environ is nil.
func load(environ map[string]string) (*Config, error) {
	c, err := env.ParseAsWithOptions[Config](env.Options{Environment: environ})
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.Rooms.Store {
	case StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("ROOM_STORE must be %q or %q, got %q", StoreRedis, StoreMemory, c.Rooms.Store)
	}
	if c.Rooms.MaxAttempts < 1 {
		return fmt.Errorf("CAS_MAX_ATTEMPTS must be at least 1, got %d", c.Rooms.MaxAttempts)
	}
	if c.Rooms.Backoff < 0 {
		return errors.New("CAS_BACKOFF must not be negative")
	}
	switch c.Relay.Mode {
	case RelayHub:
	case RelayCollider:
		if c.Relay.ColliderURL == "" {
			return errors.New("COLLIDER_URL is required when RELAY_MODE=collider")
		}
	default:
		return fmt.Errorf("RELAY_MODE must be %q or %q, got %q", RelayHub, RelayCollider, c.Relay.Mode)
	}
	switch c.Directory.Backend {
	case DirectoryStatic, DirectoryPostgres:
	default:
		return fmt.Errorf("DIRECTORY_BACKEND must be %q or %q, got %q", DirectoryStatic, DirectoryPostgres, c.Directory.Backend)
	}
	if c.RateLimit < 0 {
		return errors.New("RATE_LIMIT must not be negative")
	}
	return nil
}

// LoadDotEnv reads .env files from the usual locations without overriding
// variables that are already set.
func LoadDotEnv() {
	paths := []string{
		".env",
		filepath.Join("backend", ".env"),
		"../.env",
	}
	for _, p := range paths {
		if err := gotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", p).Msg("env load warning")
		}
	}
}
