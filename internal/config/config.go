package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Backends selectable through KANBAN_STORE_BACKEND, KANBAN_BUS_BACKEND and
// KANBAN_MOVE_DEDUPE.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	BusLocal = "local"
	BusRedis = "redis"
	BusNATS  = "nats"

	DedupeMemory = "memory"
	DedupeRedis  = "redis"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Store     StoreConfig
	Bus       BusConfig
	Hub       HubConfig
	WS        WSConfig
	Dwell     DwellConfig
	Move      MoveConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server settings. There is no write timeout: board
// WebSocket connections outlive any single request deadline.
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	CORSOrigins       []string
}

// DatabaseConfig holds PostgreSQL connection and pool settings.
type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string //nolint:gosec // G117: DB connection config
	DBName            string
	SSLMode           string
	MaxConns          int
	MinConns          int
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	// AutoMigrate applies pending schema migrations at startup.
	AutoMigrate bool
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string
	ConnectTimeout time.Duration
}

type StoreConfig struct {
	Backend string
}

// BusConfig selects how board events travel between instances.
type BusConfig struct {
	Backend string
}

// HubConfig tunes per-subscriber delivery.
type HubConfig struct {
	OutboxSize   int
	WriteTimeout time.Duration
}

// WSConfig holds board WebSocket settings.
type WSConfig struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	MaxMissedPongs    int
	MessagesPerSecond float64
	Burst             int
	ReadLimit         int64
	OriginPatterns    []string
}

// DwellConfig holds the dwell-time classifier settings.
type DwellConfig struct {
	Interval      time.Duration
	MinPopulation int
	GracePeriod   time.Duration
	BandK         float64
}

type MoveConfig struct {
	Dedupe    string
	DedupeTTL time.Duration
}

// RateLimitConfig is the per-IP limit on the HTTP API.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only.
func Load() (*Config, error) {
	server, err := loadServer()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	db, err := loadDatabase()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	redisDB, err := getEnvInt("KANBAN_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	natsTimeout, err := getEnvDuration("KANBAN_NATS_CONNECT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	hub, err := loadHub()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	ws, err := loadWS()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	dwell, err := loadDwell()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	dedupeTTL, err := getEnvDuration("KANBAN_MOVE_DEDUPE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	rps, err := getEnvFloat("KANBAN_RATE_LIMIT_RPS", 50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	burst, err := getEnvInt("KANBAN_RATE_LIMIT_BURST", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Server:   server,
		Database: db,
		Redis: RedisConfig{
			Addr:     getEnv("KANBAN_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("KANBAN_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		NATS: NATSConfig{
			URL:            getEnv("KANBAN_NATS_URL", "nats://localhost:4222"),
			ConnectTimeout: natsTimeout,
		},
		Store: StoreConfig{Backend: strings.ToLower(getEnv("KANBAN_STORE_BACKEND", StorePostgres))},
		Bus:   BusConfig{Backend: strings.ToLower(getEnv("KANBAN_BUS_BACKEND", BusLocal))},
		Hub:   hub,
		WS:    ws,
		Dwell: dwell,
		Move: MoveConfig{
			Dedupe:    strings.ToLower(getEnv("KANBAN_MOVE_DEDUPE", DedupeMemory)),
			DedupeTTL: dedupeTTL,
		},
		RateLimit: RateLimitConfig{RequestsPerSecond: rps, Burst: burst},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("KANBAN_LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("KANBAN_LOG_FORMAT", "json")),
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

func loadServer() (ServerConfig, error) {
	readHeader, err := getEnvDuration("KANBAN_SERVER_READ_HEADER_TIMEOUT", 10*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}
	idle, err := getEnvDuration("KANBAN_SERVER_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}
	shutdown, err := getEnvDuration("KANBAN_SERVER_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return ServerConfig{}, err
	}
	return ServerConfig{
		Addr:              getEnv("KANBAN_SERVER_ADDR", ":8080"),
		ReadHeaderTimeout: readHeader,
		IdleTimeout:       idle,
		ShutdownTimeout:   shutdown,
		CORSOrigins:       getEnvList("KANBAN_CORS_ORIGINS", []string{"http://localhost:5173"}),
	}, nil
}

func loadDatabase() (DatabaseConfig, error) {
	port, err := getEnvInt("KANBAN_DB_PORT", 5432)
	if err != nil {
		return DatabaseConfig{}, err
	}
	maxConns, err := getEnvInt("KANBAN_DB_MAX_CONNS", 25)
	if err != nil {
		return DatabaseConfig{}, err
	}
	minConns, err := getEnvInt("KANBAN_DB_MIN_CONNS", 2)
	if err != nil {
		return DatabaseConfig{}, err
	}
	lifetime, err := getEnvDuration("KANBAN_DB_MAX_CONN_LIFETIME", time.Hour)
	if err != nil {
		return DatabaseConfig{}, err
	}
	idle, err := getEnvDuration("KANBAN_DB_MAX_CONN_IDLE_TIME", 30*time.Minute)
	if err != nil {
		return DatabaseConfig{}, err
	}
	health, err := getEnvDuration("KANBAN_DB_HEALTH_CHECK_PERIOD", time.Minute)
	if err != nil {
		return DatabaseConfig{}, err
	}
	migrate, err := getEnvBool("KANBAN_DB_AUTO_MIGRATE", true)
	if err != nil {
		return DatabaseConfig{}, err
	}
	return DatabaseConfig{
		Host:              getEnv("KANBAN_DB_HOST", "localhost"),
		Port:              port,
		User:              getEnv("KANBAN_DB_USER", "kanban"),
		Password:          getEnv("KANBAN_DB_PASSWORD", ""),
		DBName:            getEnv("KANBAN_DB_NAME", "kanban_dev"),
		SSLMode:           getEnv("KANBAN_DB_SSLMODE", "disable"),
		MaxConns:          maxConns,
		MinConns:          minConns,
		MaxConnLifetime:   lifetime,
		MaxConnIdleTime:   idle,
		HealthCheckPeriod: health,
		AutoMigrate:       migrate,
	}, nil
}

func loadHub() (HubConfig, error) {
	outbox, err := getEnvInt("KANBAN_HUB_OUTBOX_SIZE", 64)
	if err != nil {
		return HubConfig{}, err
	}
	write, err := getEnvDuration("KANBAN_HUB_WRITE_TIMEOUT", 5*time.Second)
	if err != nil {
		return HubConfig{}, err
	}
	return HubConfig{OutboxSize: outbox, WriteTimeout: write}, nil
}

func loadWS() (WSConfig, error) {
	ping, err := getEnvDuration("KANBAN_WS_PING_INTERVAL", 10*time.Second)
	if err != nil {
		return WSConfig{}, err
	}
	pong, err := getEnvDuration("KANBAN_WS_PONG_TIMEOUT", 5*time.Second)
	if err != nil {
		return WSConfig{}, err
	}
	missed, err := getEnvInt("KANBAN_WS_MAX_MISSED_PONGS", 2)
	if err != nil {
		return WSConfig{}, err
	}
	mps, err := getEnvFloat("KANBAN_WS_MESSAGES_PER_SECOND", 20)
	if err != nil {
		return WSConfig{}, err
	}
	burst, err := getEnvInt("KANBAN_WS_BURST", 40)
	if err != nil {
		return WSConfig{}, err
	}
	readLimit, err := getEnvInt("KANBAN_WS_READ_LIMIT", 32<<10)
	if err != nil {
		return WSConfig{}, err
	}
	return WSConfig{
		PingInterval:      ping,
		PongTimeout:       pong,
		MaxMissedPongs:    missed,
		MessagesPerSecond: mps,
		Burst:             burst,
		ReadLimit:         int64(readLimit),
		OriginPatterns:    getEnvList("KANBAN_WS_ORIGIN_PATTERNS", nil),
	}, nil
}

func loadDwell() (DwellConfig, error) {
	interval, err := getEnvDuration("KANBAN_DWELL_INTERVAL", 30*time.Second)
	if err != nil {
		return DwellConfig{}, err
	}
	minPop, err := getEnvInt("KANBAN_DWELL_MIN_POPULATION", 10)
	if err != nil {
		return DwellConfig{}, err
	}
	grace, err := getEnvDuration("KANBAN_DWELL_GRACE_PERIOD", time.Hour)
	if err != nil {
		return DwellConfig{}, err
	}
	k, err := getEnvFloat("KANBAN_DWELL_BAND_K", 0.5)
	if err != nil {
		return DwellConfig{}, err
	}
	return DwellConfig{Interval: interval, MinPopulation: minPop, GracePeriod: grace, BandK: k}, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if !slices.Contains([]string{StorePostgres, StoreMemory}, c.Store.Backend) {
		return fmt.Errorf("KANBAN_STORE_BACKEND must be postgres or memory, got %q", c.Store.Backend)
	}
	if !slices.Contains([]string{BusLocal, BusRedis, BusNATS}, c.Bus.Backend) {
		return fmt.Errorf("KANBAN_BUS_BACKEND must be local, redis or nats, got %q", c.Bus.Backend)
	}
	if !slices.Contains([]string{DedupeMemory, DedupeRedis}, c.Move.Dedupe) {
		return fmt.Errorf("KANBAN_MOVE_DEDUPE must be memory or redis, got %q", c.Move.Dedupe)
	}
	if !slices.Contains([]string{"text", "json"}, c.Log.Format) {
		return fmt.Errorf("KANBAN_LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}

	if c.Store.Backend == StorePostgres {
		if c.Database.SSLMode == "disable" {
			log.Warn().Msg("KANBAN_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("KANBAN_DB_PORT must be 1-65535, got %d", c.Database.Port)
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("KANBAN_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
		}
		if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
			return fmt.Errorf("KANBAN_DB_MIN_CONNS must be 0-%d, got %d", c.Database.MaxConns, c.Database.MinConns)
		}
	}
	if c.Bus.Backend == BusRedis || c.Move.Dedupe == DedupeRedis {
		if c.Redis.Addr == "" {
			return errors.New("KANBAN_REDIS_ADDR is required for the redis bus or dedupe")
		}
	}
	if c.Bus.Backend == BusNATS && c.NATS.URL == "" {
		return errors.New("KANBAN_NATS_URL is required for the nats bus")
	}

	positive := []struct {
		key string
		d   time.Duration
	}{
		{"KANBAN_SERVER_READ_HEADER_TIMEOUT", c.Server.ReadHeaderTimeout},
		{"KANBAN_SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout},
		{"KANBAN_HUB_WRITE_TIMEOUT", c.Hub.WriteTimeout},
		{"KANBAN_WS_PING_INTERVAL", c.WS.PingInterval},
		{"KANBAN_WS_PONG_TIMEOUT", c.WS.PongTimeout},
		{"KANBAN_DWELL_INTERVAL", c.Dwell.Interval},
		{"KANBAN_MOVE_DEDUPE_TTL", c.Move.DedupeTTL},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", p.key, p.d)
		}
	}

	if c.Hub.OutboxSize < 1 {
		return fmt.Errorf("KANBAN_HUB_OUTBOX_SIZE must be >= 1, got %d", c.Hub.OutboxSize)
	}
	if c.WS.MaxMissedPongs < 1 {
		return fmt.Errorf("KANBAN_WS_MAX_MISSED_PONGS must be >= 1, got %d", c.WS.MaxMissedPongs)
	}
	if c.WS.MessagesPerSecond <= 0 || c.WS.Burst < 1 {
		return fmt.Errorf("KANBAN_WS_MESSAGES_PER_SECOND and KANBAN_WS_BURST must be positive, got %g/%d",
			c.WS.MessagesPerSecond, c.WS.Burst)
	}
	if c.WS.ReadLimit < 512 {
		return fmt.Errorf("KANBAN_WS_READ_LIMIT must be >= 512, got %d", c.WS.ReadLimit)
	}
	if c.Dwell.MinPopulation < 1 {
		return fmt.Errorf("KANBAN_DWELL_MIN_POPULATION must be >= 1, got %d", c.Dwell.MinPopulation)
	}
	if c.Dwell.GracePeriod < 0 {
		return fmt.Errorf("KANBAN_DWELL_GRACE_PERIOD must not be negative, got %s", c.Dwell.GracePeriod)
	}
	if c.Dwell.BandK <= 0 {
		return fmt.Errorf("KANBAN_DWELL_BAND_K must be positive, got %g", c.Dwell.BandK)
	}
	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 {
		return fmt.Errorf("KANBAN_RATE_LIMIT_RPS and KANBAN_RATE_LIMIT_BURST must be positive, got %g/%d",
			c.RateLimit.RequestsPerSecond, c.RateLimit.Burst)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
