package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"
)

type Config struct {
	Env      string     `yaml:"env"`
	Link     Link       `yaml:"link"`
	Sweeper  Sweeper    `yaml:"sweeper"`
	Server   HTTPServer `yaml:"http_server"`
	Postgres Postgres   `yaml:"postgres"`
	Redis    Redis      `yaml:"redis"`
}

// Link holds the lifecycle parameters of the link engine.
type Link struct {
	BaseURL      string        `yaml:"base_url"`
	IDLength     int           `yaml:"id_length"`
	DefaultTTL   time.Duration `yaml:"default_ttl"`
	MaxTTL       time.Duration `yaml:"max_ttl"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

var defaultLink = Link{
	BaseURL:      "http://localhost:8080/api/v1/links",
	IDLength:     16,
	DefaultTTL:   24 * time.Hour,
	MaxTTL:       7 * 24 * time.Hour,
	CacheTTL:     time.Hour,
	StoreTimeout: 3 * time.Second,
}

// Sweeper holds the cadence and bounds of the background expiry sweep.
type Sweeper struct {
	Interval  time.Duration `yaml:"interval"`
	Retention time.Duration `yaml:"retention"`
	BatchSize int           `yaml:"batch_size"`
}

var defaultSweeper = Sweeper{
	Interval:  5 * time.Minute,
	Retention: 30 * 24 * time.Hour,
	BatchSize: 1000,
}

type HTTPServer struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	CertFile       string        `yaml:"cert_file"`
	KeyFile        string        `yaml:"key_file"`
}

var defaultHTTPServer = HTTPServer{
	Port:           8080,
	ReadTimeout:    5 * time.Second,
	WriteTimeout:   10 * time.Second,
	IdleTimeout:    time.Minute,
	MaxHeaderBytes: 1 << 20,
}

func (s *HTTPServer) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type Postgres struct {
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	DB              string        `yaml:"db"`
	SSLMode         string        `yaml:"sslmode"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
}

var defaultPostgres = Postgres{
	Host:            "localhost",
	Port:            5432,
	SSLMode:         "disable",
	ConnMaxIdleTime: 5 * time.Minute,
	ConnMaxLifetime: 30 * time.Minute,
	MaxIdleConns:    5,
	MaxOpenConns:    25,
}

func (p *Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DB, p.SSLMode)
}

type Redis struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

var defaultRedis = Redis{
	Host: "localhost",
	Port: 6379,
}

func (r *Redis) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

func Load(path string) (*Config, error) {
	const op = "config.Load"

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to open config file: %w", op, err)
	}
	defer f.Close()

	var cfg Config
	setDefaults(&cfg)

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: failed to decode config file: %w", op, err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	cfg.Env = EnvDev
	cfg.Link = defaultLink
	cfg.Sweeper = defaultSweeper
	cfg.Server = defaultHTTPServer
	cfg.Postgres = defaultPostgres
	cfg.Redis = defaultRedis
}
