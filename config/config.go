// Package config loads proxy settings from data/config.json, .env files and
// MAGIO_-prefixed environment variables, in that order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const configFileName = "config.json"

type Config struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Language   string `json:"language"`
	Quality    string `json:"quality"`
	AppVersion string `json:"app_version"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	DataDir    string `json:"data_dir"`
	Debug      bool   `json:"debug"`
	// RedisURL switches token persistence from the data dir to Redis.
	RedisURL string `json:"redis_url,omitempty"`
	// ServerURL is the externally reachable base URL used in generated
	// playlists. Defaults to http://<host>:<port>.
	ServerURL string `json:"server_url,omitempty"`

	// CacheTimeoutSeconds is the on-disk representation of CacheTimeout.
	CacheTimeoutSeconds int           `json:"cache_timeout"`
	CacheTimeout        time.Duration `json:"-"`
}

func Default() Config {
	return Config{
		Language:            "cz",
		Quality:             "p5",
		AppVersion:          "4.0.25-hf.0",
		Host:                "0.0.0.0",
		Port:                5000,
		CacheTimeout:        time.Hour,
		CacheTimeoutSeconds: 3600,
		DataDir:             "data",
	}
}

// LoadEnvFile loads a .env from the working directory. Errors are ignored
// since the file may not exist.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// Load builds the effective configuration. path may be empty, in which case
// <data dir>/config.json is tried. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, configFileName)
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// defaults + env only
	case err != nil:
		return cfg, fmt.Errorf("could not read config file: %w", err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("could not parse %s: %w", path, err)
		}
		if cfg.CacheTimeoutSeconds > 0 {
			cfg.CacheTimeout = time.Duration(cfg.CacheTimeoutSeconds) * time.Second
		}
		log.Debug().Str("path", path).Msg("loaded config file")
	}

	cfg.applyEnv()

	if cfg.ServerURL == "" {
		cfg.ServerURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return cfg, nil
}

// Save writes the configuration to <data dir>/config.json.
func (c Config) Save() error {
	c.CacheTimeoutSeconds = int(c.CacheTimeout / time.Second)

	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}

	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("could not create data dir: %w", err)
	}
	path := filepath.Join(c.DataDir, configFileName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("could not write config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	setString(&c.Username, "MAGIO_USERNAME")
	setString(&c.Password, "MAGIO_PASSWORD")
	setString(&c.Language, "MAGIO_LANGUAGE")
	setString(&c.Quality, "MAGIO_QUALITY")
	setString(&c.AppVersion, "MAGIO_APP_VERSION")
	setString(&c.Host, "MAGIO_HOST")
	setString(&c.DataDir, "MAGIO_DATA_DIR")
	setString(&c.ServerURL, "MAGIO_SERVER_URL")
	setString(&c.RedisURL, "REDIS_URL")

	if v := os.Getenv("MAGIO_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			log.Warn().Str("value", v).Msg("ignoring invalid MAGIO_PORT")
		} else {
			c.Port = port
		}
	}
	if v := os.Getenv("MAGIO_CACHE_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			log.Warn().Str("value", v).Msg("ignoring invalid MAGIO_CACHE_TIMEOUT")
		} else {
			c.CacheTimeout = time.Duration(secs) * time.Second
			c.CacheTimeoutSeconds = secs
		}
	}
	if v := os.Getenv("MAGIO_DEBUG"); v != "" {
		c.Debug = v == "1" || v == "true"
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Missing lists required settings that are still empty.
func (c Config) Missing() []string {
	var missing []string
	if c.Username == "" {
		missing = append(missing, "MAGIO_USERNAME")
	}
	if c.Password == "" {
		missing = append(missing, "MAGIO_PASSWORD")
	}
	return missing
}
