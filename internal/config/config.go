package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var ErrMissingAPIURL = errors.New("AGENTDASH_API_URL is not set")

type Config struct {
	// Client.
	APIURL        string        `yaml:"api_url"`
	StatePath     string        `yaml:"state_path"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`
	StreamTimeout time.Duration `yaml:"stream_timeout"`
	PresetsPath   string        `yaml:"presets_path"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`

	// Dev backend.
	HTTPAddr      string        `yaml:"http_addr"`
	DBDSN         string        `yaml:"db_dsn"`
	UsersPath     string        `yaml:"users_path"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	RefreshWindow time.Duration `yaml:"refresh_window"`
	OllamaModel   string        `yaml:"ollama_model"`
	RoutesPath    string        `yaml:"routes_path"`
	GuestRate     int           `yaml:"guest_rate"`
	CORSOrigins   []string      `yaml:"cors_origins"`
	GitHubAPI     string        `yaml:"github_api"`
	GitHubToken   string        `yaml:"github_token"`
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getduration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Defaults returns the built-in configuration before any file or env is applied.
func Defaults() Config {
	return Config{
		StatePath:     defaultStatePath(),
		HTTPTimeout:   30 * time.Second,
		StreamTimeout: 30 * time.Second,
		LogLevel:      "info",
		LogFormat:     "text",
		HTTPAddr:      ":8080",
		DBDSN:         "file:agentdash-dev.db",
		JWTSecret:     "dev-secret-change-me",
		TokenTTL:      60 * time.Minute,
		RefreshWindow: 7 * 24 * time.Hour,
		GuestRate:     5,
	}
}

// Load reads .env (if present), then the YAML file named by AGENTDASH_CONFIG,
// then environment variables. Later sources win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Defaults()
	if path := os.Getenv("AGENTDASH_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.APIURL = getenv("AGENTDASH_API_URL", cfg.APIURL)
	cfg.StatePath = getenv("AGENTDASH_STATE_PATH", cfg.StatePath)
	cfg.HTTPTimeout = getduration("AGENTDASH_HTTP_TIMEOUT", cfg.HTTPTimeout)
	cfg.StreamTimeout = getduration("AGENTDASH_STREAM_TIMEOUT", cfg.StreamTimeout)
	cfg.PresetsPath = getenv("AGENTDASH_PRESETS_PATH", cfg.PresetsPath)
	cfg.LogLevel = getenv("AGENTDASH_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("AGENTDASH_LOG_FORMAT", cfg.LogFormat)

	cfg.HTTPAddr = getenv("AGENTDASH_HTTP_ADDR", cfg.HTTPAddr)
	cfg.DBDSN = getenv("AGENTDASH_DB_DSN", cfg.DBDSN)
	cfg.UsersPath = getenv("AGENTDASH_USERS_PATH", cfg.UsersPath)
	cfg.JWTSecret = getenv("AGENTDASH_JWT_SECRET", cfg.JWTSecret)
	cfg.TokenTTL = getduration("AGENTDASH_TOKEN_TTL", cfg.TokenTTL)
	cfg.RefreshWindow = getduration("AGENTDASH_REFRESH_WINDOW", cfg.RefreshWindow)
	cfg.OllamaModel = getenv("AGENTDASH_OLLAMA_MODEL", cfg.OllamaModel)
	cfg.RoutesPath = getenv("AGENTDASH_ROUTES_PATH", cfg.RoutesPath)
	cfg.GuestRate = getint("AGENTDASH_GUEST_RATE", cfg.GuestRate)
	cfg.GitHubAPI = getenv("AGENTDASH_GITHUB_API", cfg.GitHubAPI)
	cfg.GitHubToken = getenv("AGENTDASH_GITHUB_TOKEN", cfg.GitHubToken)
	if v := os.Getenv("AGENTDASH_CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = splitList(v)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RequireAPIURL fails when the client has no backend to talk to.
func (c Config) RequireAPIURL() error {
	if c.APIURL == "" {
		return ErrMissingAPIURL
	}
	return nil
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".agentdash", "state.db")
	}
	return filepath.Join(dir, "agentdash", "state.db")
}
