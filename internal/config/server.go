package config

import (
	"fmt"
	"time"
)

const devJWTSecret = "mindmend-dev-secret"

type Server struct {
	Base
	HTTPAddr string

	Driver          string
	DSN             string
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogSQL          bool

	JWTSecret string
	TokenTTL  time.Duration
}

func LoadServer() (Server, error) {
	base, err := loadBase()
	if err != nil {
		return Server{}, err
	}
	cfg := Server{
		Base:      base,
		HTTPAddr:  envString("HTTP_ADDR", ":3000"),
		Driver:    envString("DB_DRIVER", "sqlite3"),
		DSN:       envString("DB_DSN", ""),
		Path:      envString("SQLITE_PATH", "data/mindmend.db"),
		JWTSecret: envString("JWT_SECRET", ""),
	}

	if cfg.MaxOpenConns, err = envInt("DB_MAX_OPEN_CONNS", 1); err != nil {
		return Server{}, err
	}
	if cfg.MaxIdleConns, err = envInt("DB_MAX_IDLE_CONNS", 1); err != nil {
		return Server{}, err
	}
	if cfg.ConnMaxLifetime, err = envDuration("DB_CONN_MAX_LIFETIME", 0); err != nil {
		return Server{}, err
	}
	if cfg.LogSQL, err = envBool("DB_LOG_SQL", false); err != nil {
		return Server{}, err
	}
	if cfg.TokenTTL, err = envPositiveDuration("TOKEN_TTL", 24*time.Hour); err != nil {
		return Server{}, err
	}

	if cfg.JWTSecret == "" {
		if cfg.AppEnv == "prod" {
			return Server{}, fmt.Errorf("JWT_SECRET is required when APP_ENV=prod")
		}
		cfg.JWTSecret = devJWTSecret
	}

	return cfg, nil
}
