// internal/config/config.go
package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Główny config aplikacji
type Config struct {
	AutoStart           bool   `json:"auto_start"`
	SyncIntervalSeconds int    `json:"sync_interval_seconds"` // 0 = bez cyklicznego resync
	LogLevel            string `json:"log_level,omitempty"`
	Source              string `json:"source"`        // ghl | feed (feed wymaga integrations.feed.watch_dir)
	DeletePolicy        string `json:"delete_policy"` // abort | continue

	Lease       LeaseConfig       `json:"lease"`
	Database    DatabaseConfig    `json:"database"`
	HTTP        HTTPConfig        `json:"http"`
	Redis       RedisConfig       `json:"redis"`
	NATS        NATSConfig        `json:"nats"`
	Permissions PermissionsConfig `json:"permissions"`

	Integrations map[string]json.RawMessage `json:"integrations"` // nazwa -> surowy JSON integracji
}

type LeaseConfig struct {
	Backend    string `json:"backend"` // db | redis
	Name       string `json:"name"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Pusty DSN = sqlite w katalogu aplikacji.
type DatabaseConfig struct {
	Driver string `json:"driver"` // sqlite | postgres | mysql
	DSN    string `json:"dsn,omitempty"`
}

type HTTPConfig struct {
	Addr          string   `json:"addr"` // pusty = serwer wyłączony
	JWTSecret     string   `json:"jwt_secret,omitempty"`
	WebhookSecret string   `json:"webhook_secret,omitempty"`
	PublicRoutes  []string `json:"public_routes"`
}

type RedisConfig struct {
	URL string `json:"url,omitempty"`
}

type NATSConfig struct {
	URL     string `json:"url,omitempty"`
	Subject string `json:"subject"`
}

type PermissionsConfig struct {
	DatabaseURL     string `json:"database_url,omitempty"` // pusty = tabela user_permissions w lokalnej bazie
	CacheTTLSeconds int    `json:"cache_ttl_seconds"`
}

// Domyślne configi integracji (tylko do wygenerowania pierwszego config.json)
type sanityDefaults struct {
	ProjectID  string `json:"project_id"`
	Dataset    string `json:"dataset"`
	APIVersion string `json:"api_version"`
	Token      string `json:"token"`
	PollSec    int    `json:"poll_sec"`
	MaxRetries int    `json:"max_retries"`
}

type ghlDefaults struct {
	BaseURL    string  `json:"base_url"`
	APIKey     string  `json:"api_key"`
	LocationID string  `json:"location_id"`
	Currency   string  `json:"currency"`
	PageSize   int     `json:"page_size"`
	RateLimit  float64 `json:"rate_limit"`
}

type stripeDefaults struct {
	SecretKey string `json:"secret_key"`
	Currency  string `json:"currency"`
}

type triggerDefaults struct {
	URL        string `json:"url"`
	TimeoutSec int    `json:"timeout_sec"`
	Retries    int    `json:"retries"`
}

const (
	SourceGHL  = "ghl"
	SourceFeed = "feed"

	PolicyAbort    = "abort"
	PolicyContinue = "continue"

	LeaseDB    = "db"
	LeaseRedis = "redis"
)

// Default zwraca config zapisywany przy pierwszym uruchomieniu.
func Default() *Config {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	return &Config{
		AutoStart:           false,
		SyncIntervalSeconds: 0,
		LogLevel:            "info",
		Source:              SourceGHL,
		DeletePolicy:        PolicyAbort,
		Lease: LeaseConfig{
			Backend:    LeaseDB,
			Name:       "catalog-resync",
			TTLSeconds: 600,
		},
		Database: DatabaseConfig{Driver: "sqlite"},
		HTTP: HTTPConfig{
			Addr:         "",
			PublicRoutes: []string{"/health", "/metrics", "/api/products", "/api/admin/check", "/api/sync/products"},
		},
		NATS:        NATSConfig{Subject: "catalog.resynced"},
		Permissions: PermissionsConfig{CacheTTLSeconds: 60},
		Integrations: map[string]json.RawMessage{
			"sanity": raw(sanityDefaults{
				ProjectID:  "xxxxxxxx",
				Dataset:    "production",
				APIVersion: "2023-05-03",
				Token:      "",
				PollSec:    0, // > 0 włącza mirror poller
				MaxRetries: 2,
			}),
			"ghl": raw(ghlDefaults{
				BaseURL:    "https://services.leadconnectorhq.com",
				APIKey:     "",
				LocationID: "",
				Currency:   "EUR",
				PageSize:   100,
				RateLimit:  5,
			}),
			"stripe": raw(stripeDefaults{
				SecretKey: "",
				Currency:  "eur",
			}),
			"trigger": raw(triggerDefaults{
				URL:        "",
				TimeoutSec: 120,
				Retries:    0,
			}),
		},
	}
}

func LoadOrCreate(path string) (*Config, bool, error) {
	// upewnij się, że katalog istnieje
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(path, cfg); err != nil {
				return nil, false, fmt.Errorf("write default config: %w", err)
			}
			return cfg, true, nil
		}
		return nil, false, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	if err := json.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, false, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Integrations == nil {
		cfg.Integrations = map[string]json.RawMessage{}
	}
	return &cfg, false, nil
}

func Save(path string, cfg *Config) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}

// Helper do odczytu konkretnej integracji do struktury docelowej
func (c *Config) UnmarshalIntegration(name string, v any) error {
	raw, ok := c.Integrations[name]
	if !ok {
		return fmt.Errorf("integration %q missing in config", name)
	}
	return json.Unmarshal(raw, v)
}

// HasIntegration mówi, czy config zawiera sekcję danej integracji.
func (c *Config) HasIntegration(name string) bool {
	_, ok := c.Integrations[name]
	return ok
}

// envOverrides: zmienna środowiskowa -> (integracja, pole). Sekrety nie muszą leżeć w config.json.
var envOverrides = []struct {
	env, integration, field string
}{
	{"SANITY_TOKEN", "sanity", "token"},
	{"SANITY_PROJECT_ID", "sanity", "project_id"},
	{"SANITY_DATASET", "sanity", "dataset"},
	{"GHL_API_KEY", "ghl", "api_key"},
	{"GHL_LOCATION_ID", "ghl", "location_id"},
	{"STRIPE_SECRET_KEY", "stripe", "secret_key"},
	{"SYNC_TRIGGER_URL", "trigger", "url"},
}

// ApplyEnv wczytuje .env (jeśli jest) i nadpisuje sekrety ze zmiennych środowiskowych.
// Wynik nie jest zapisywany do pliku.
func (c *Config) ApplyEnv(envFiles ...string) error {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}
	_ = godotenv.Load()

	for _, o := range envOverrides {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		if err := c.setIntegrationField(o.integration, o.field, v); err != nil {
			return fmt.Errorf("env %s: %w", o.env, err)
		}
	}

	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		c.HTTP.WebhookSecret = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.HTTP.JWTSecret = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.DSN = v
		if c.Database.Driver == "" || c.Database.Driver == "sqlite" {
			c.Database.Driver = "postgres"
		}
	}
	if v := os.Getenv("PERMISSIONS_DATABASE_URL"); v != "" {
		c.Permissions.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	return nil
}

func (c *Config) setIntegrationField(name, field, value string) error {
	if c.Integrations == nil {
		c.Integrations = map[string]json.RawMessage{}
	}
	m := map[string]any{}
	if raw, ok := c.Integrations[name]; ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
	}
	m[field] = value
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	c.Integrations[name] = b
	return nil
}

// Validate sprawdza wartości, od których zależy przebieg resync.
func (c *Config) Validate() error {
	switch c.Source {
	case SourceGHL, SourceFeed:
	default:
		return fmt.Errorf("unknown source %q (want ghl|feed)", c.Source)
	}
	switch c.DeletePolicy {
	case PolicyAbort, PolicyContinue:
	default:
		return fmt.Errorf("unknown delete_policy %q (want abort|continue)", c.DeletePolicy)
	}
	switch c.Lease.Backend {
	case LeaseDB:
	case LeaseRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("lease backend redis requires redis.url")
		}
	default:
		return fmt.Errorf("unknown lease backend %q (want db|redis)", c.Lease.Backend)
	}
	if c.SyncIntervalSeconds < 0 {
		return fmt.Errorf("sync_interval_seconds must be >= 0")
	}
	return nil
}

func (c *Config) LeaseTTL() time.Duration {
	if c.Lease.TTLSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Lease.TTLSeconds) * time.Second
}

func (c *Config) LeaseName() string {
	if strings.TrimSpace(c.Lease.Name) == "" {
		return "catalog-resync"
	}
	return c.Lease.Name
}

func (c *Config) PermissionsCacheTTL() time.Duration {
	return time.Duration(c.Permissions.CacheTTLSeconds) * time.Second
}
