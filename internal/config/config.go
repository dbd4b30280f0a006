package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Port            string        `yaml:"port" envconfig:"APP_PORT"`
	LogLevel        string        `yaml:"log_level" envconfig:"APP_LOG_LEVEL"`
	LogFormat       string        `yaml:"log_format" envconfig:"APP_LOG_FORMAT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"APP_SHUTDOWN_TIMEOUT"`
	AuthRealm       string        `yaml:"auth_realm" envconfig:"APP_AUTH_REALM"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host" envconfig:"DB_HOST"`
	Port            string        `yaml:"port" envconfig:"DB_PORT"`
	User            string        `yaml:"user" envconfig:"DB_USER"`
	Password        string        `yaml:"password" envconfig:"DB_PASSWORD"`
	DBName          string        `yaml:"dbname" envconfig:"DB_NAME"`
	SSLMode         string        `yaml:"sslmode" envconfig:"DB_SSLMODE"`
	MaxConns        int32         `yaml:"max_conns" envconfig:"DB_MAX_CONNS"`
	MinConns        int32         `yaml:"min_conns" envconfig:"DB_MIN_CONNS"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" envconfig:"DB_MAX_CONN_LIFETIME"`
	MigrationsPath  string        `yaml:"migrations_path" envconfig:"DB_MIGRATIONS_PATH"`
}

var dsnQuoter = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// DSN returns a keyword/value connection string understood by pgx. Values are
// quoted so passwords may contain spaces and quotes.
func (c PostgresConfig) DSN() string {
	pairs := []struct{ key, value string }{
		{"host", c.Host},
		{"port", c.Port},
		{"user", c.User},
		{"password", c.Password},
		{"dbname", c.DBName},
		{"sslmode", c.SSLMode},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, fmt.Sprintf("%s='%s'", p.key, dsnQuoter.Replace(p.value)))
	}
	return strings.Join(parts, " ")
}

// URL returns the connection string in the form golang-migrate expects.
func (c PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, c.Port),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

type WalletConfig struct {
	RPCHost     string        `yaml:"rpc_host" envconfig:"WALLET_RPC_HOST"`
	RPCUser     string        `yaml:"rpc_user" envconfig:"WALLET_RPC_USER"`
	RPCPassword string        `yaml:"rpc_password" envconfig:"WALLET_RPC_PASSWORD"`
	Network     string        `yaml:"network" envconfig:"WALLET_NETWORK"`
	Label       string        `yaml:"label" envconfig:"WALLET_LABEL"`
	DisableTLS  bool          `yaml:"disable_tls" envconfig:"WALLET_DISABLE_TLS"`
	Timeout     time.Duration `yaml:"timeout" envconfig:"WALLET_TIMEOUT"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" envconfig:"KAFKA_TOPIC"`
}

type Config struct {
	App      AppConfig      `yaml:"app"`
	Postgres PostgresConfig `yaml:"postgres"`
	Wallet   WalletConfig   `yaml:"wallet"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

func defaults() Config {
	return Config{
		App: AppConfig{
			Port:            "8080",
			LogLevel:        "info",
			LogFormat:       "json",
			ShutdownTimeout: 15 * time.Second,
			AuthRealm:       "orders",
		},
		Postgres: PostgresConfig{
			Port:            "5432",
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
			MigrationsPath:  "migrations",
		},
		Wallet: WalletConfig{
			Network:    "testnet3",
			DisableTLS: true,
			Timeout:    10 * time.Second,
		},
		Kafka: KafkaConfig{
			Topic: "orders.created",
		},
	}
}

// NewConfig builds the configuration from built-in defaults, the YAML file named
// by CONFIG_FILE (if any), a .env file (if present) and the environment, in that
// order of precedence.
func NewConfig() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}

	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	for _, section := range []any{&cfg.App, &cfg.Postgres, &cfg.Wallet, &cfg.Kafka} {
		if err := envconfig.Process("", section); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	return &cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return nil
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	switch {
	case c.Postgres.Host == "":
		return errors.New("DB_HOST is required")
	case c.Postgres.DBName == "":
		return errors.New("DB_NAME is required")
	case c.Postgres.User == "":
		return errors.New("DB_USER is required")
	}
	return nil
}

// ValidateWallet is checked only by commands that issue payment addresses.
func (c *Config) ValidateWallet() error {
	switch {
	case c.Wallet.RPCHost == "":
		return errors.New("WALLET_RPC_HOST is required")
	case c.Wallet.RPCUser == "" || c.Wallet.RPCPassword == "":
		return errors.New("WALLET_RPC_USER and WALLET_RPC_PASSWORD are required")
	}
	return nil
}
