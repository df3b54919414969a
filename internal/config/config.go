// Package config loads modlib settings from MODLIB_* environment variables
// and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/tinoosan/modlib/internal/data"
	"github.com/tinoosan/modlib/internal/downloadcfg"
	"github.com/tinoosan/modlib/internal/repo"
)

const Prefix = "MODLIB_"

type Config struct {
	LibraryDir string `env:"LIBRARY_DIR" validate:"required"`

	Storage struct {
		Backend string `env:"STORAGE" envDefault:"file" validate:"oneof=file memory postgres"`
		// StateDir defaults to <LibraryDir>/state.
		StateDir string `env:"STATE_DIR"`
	}

	Postgres struct {
		Host     string `env:"PG_HOST" envDefault:"localhost"`
		Port     string `env:"PG_PORT" envDefault:"5432" validate:"numeric"`
		DB       string `env:"PG_DB" envDefault:"modlib"`
		User     string `env:"PG_USER" envDefault:"modlib"`
		Password string `env:"PG_PASSWORD"`
		SSLMode  string `env:"PG_SSLMODE" envDefault:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	}

	Transport struct {
		Kind         string        `env:"TRANSPORT" envDefault:"http" validate:"oneof=http aria2"`
		Aria2URL     string        `env:"ARIA2_URL" envDefault:"http://127.0.0.1:6800/jsonrpc" validate:"url"`
		Aria2Secret  string        `env:"ARIA2_SECRET"`
		Aria2Timeout time.Duration `env:"ARIA2_TIMEOUT" envDefault:"3s"`
		Aria2Poll    time.Duration `env:"ARIA2_POLL" envDefault:"2s"`
	}

	Install struct {
		Workers         int    `env:"WORKERS" envDefault:"2" validate:"min=1,max=64"`
		KeepOldVersions bool   `env:"KEEP_OLD_VERSIONS" envDefault:"false"`
		UpdatePolicy    string `env:"UPDATE_POLICY" envDefault:"notify" validate:"oneof=notify install ignore"`
		Collision       string `env:"COLLISION" envDefault:"overwrite" validate:"oneof=overwrite rename error"`
	}

	HTTP struct {
		Addr         string        `env:"HTTP_ADDR" envDefault:":9090" validate:"required"`
		Token        string        `env:"API_TOKEN"`
		ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
		WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	}

	Logging struct {
		Level      string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
		Format     string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=json text"`
		File       string `env:"LOG_FILE"`
		MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB" envDefault:"50" validate:"min=1"`
		MaxBackups int    `env:"LOG_MAX_BACKUPS" envDefault:"3" validate:"min=0"`
	}
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: Prefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	cfg.LibraryDir = filepath.Clean(cfg.LibraryDir)
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = filepath.Join(cfg.LibraryDir, "state")
	}
	return cfg, nil
}

func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if cfg.Transport.Kind == "aria2" && cfg.Transport.Aria2Poll < 100*time.Millisecond {
		return fmt.Errorf("aria2 poll interval must be at least 100ms")
	}
	if cfg.HTTP.ReadTimeout < time.Millisecond || cfg.HTTP.WriteTimeout < time.Millisecond {
		return fmt.Errorf("http timeouts must be at least 1ms")
	}
	return nil
}

func (cfg *Config) PostgresOptions() repo.PostgresOptions {
	p := cfg.Postgres
	return repo.PostgresOptions{Host: p.Host, Port: p.Port, DB: p.DB, User: p.User, Password: p.Password, SSLMode: p.SSLMode}
}

func (cfg *Config) UpdatePolicy() data.UpdatePolicy {
	p, err := data.ParseUpdatePolicy(cfg.Install.UpdatePolicy)
	if err != nil {
		return data.DefaultUpdatePolicy
	}
	return p
}

func (cfg *Config) Collision() downloadcfg.CollisionPolicy {
	p, err := downloadcfg.ParseCollisionPolicy(cfg.Install.Collision)
	if err != nil {
		return downloadcfg.DefaultCollisionPolicy
	}
	return p
}

func (cfg *Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cfg.Logging.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func formatValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	var messages []string
	for _, e := range verrs {
		field := e.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		switch e.Tag() {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must be at least %s", field, e.Param()))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s", field, e.Param()))
		case "oneof":
			messages = append(messages, fmt.Sprintf("%s must be one of: %s", field, e.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, e.Tag()))
		}
	}
	return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
}
