package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/auctionchain/auction-mirror/internal/logger"
)

var envOverrides = map[string]func(*Config, string){
	"DB_USERNAME":   func(c *Config, v string) { c.DB.Username = v },
	"DB_PASSWORD":   func(c *Config, v string) { c.DB.Password = v },
	"CHAIN_WS_URL":  func(c *Config, v string) { c.Chain.WSURL = v },
	"API_LISTEN_ON": func(c *Config, v string) { c.API.ListenAddr = v },
}

type Config struct {
	Chain     Chain         `toml:"chain"`
	Reconnect Reconnect     `toml:"reconnect"`
	DB        DB            `toml:"db"`
	Indexer   Indexer       `toml:"indexer"`
	API       API           `toml:"api"`
	Timeout   Timeout       `toml:"timeout"`
	Logger    logger.Config `toml:"logger"`
}

type Chain struct {
	WSURL string `toml:"ws_url"`
	// Pallet is the runtime name of the auction pallet, used to derive
	// storage key prefixes.
	Pallet string `toml:"pallet"`
}

type Reconnect struct {
	BaseDelaySeconds int `toml:"base_delay_seconds"`
	MaxDelaySeconds  int `toml:"max_delay_seconds"`
	MaxAttempts      int `toml:"max_attempts"`
}

type DB struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	Username         string `toml:"username"`
	Password         string `toml:"password"`
	DBName           string `toml:"db_name"`
	LogQueries       bool   `toml:"log_queries"`
	DropTableAtStart bool   `toml:"drop_table_at_start"`
}

type Indexer struct {
	QueueSize  int  `toml:"queue_size"`
	DeadLetter bool `toml:"dead_letter"`
}

type API struct {
	Enabled    bool   `toml:"enabled"`
	ListenAddr string `toml:"listen_addr"`
}

type Timeout struct {
	BackoffMaxElapsedTimeSeconds int `toml:"backoff_max_elapsed_time_seconds"`
	RequestTimeoutMillis         int `toml:"request_timeout_millis"`
}

var defaultConfig = Config{
	Chain: Chain{
		WSURL:  "ws://localhost:9944",
		Pallet: "Template",
	},
	Reconnect: Reconnect{
		BaseDelaySeconds: 1,
		MaxDelaySeconds:  30,
		MaxAttempts:      5,
	},
	DB: DB{
		Host: "localhost",
		Port: 5432,
	},
	Indexer: Indexer{
		QueueSize: 64,
	},
	API: API{
		Enabled:    true,
		ListenAddr: ":8472",
	},
	Timeout: Timeout{
		BackoffMaxElapsedTimeSeconds: 300,
		RequestTimeoutMillis:         3000,
	},
	Logger: logger.DefaultConfig(),
}

func Default() Config {
	return defaultConfig
}

func ReadFile(filepath string, cfg *Config) error {
	_, err := toml.DecodeFile(filepath, cfg)
	return err
}

func (cfg *Config) ApplyEnvOverrides() {
	for env, override := range envOverrides {
		if val, ok := os.LookupEnv(env); ok {
			override(cfg, val)
		}
	}
}

func CheckParameters(cfg *Config) error {
	if cfg.Chain.WSURL == "" {
		return errors.New("chain.ws_url must be provided")
	}

	if cfg.Chain.Pallet == "" {
		return errors.New("chain.pallet must be provided")
	}

	if cfg.Reconnect.BaseDelaySeconds <= 0 || cfg.Reconnect.MaxDelaySeconds <= 0 {
		return errors.New("reconnect delays must be positive")
	}

	if cfg.Reconnect.MaxAttempts <= 0 {
		return errors.New("reconnect.max_attempts must be positive")
	}

	if cfg.Indexer.QueueSize <= 0 {
		return errors.New("indexer.queue_size must be positive")
	}

	return nil
}
