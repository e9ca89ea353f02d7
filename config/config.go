// Package config loads service configuration from defaults, an optional
// YAML or JSON file, UAS_ environment variables and explicit overrides,
// in that order.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/goliatone/go-uas"
)

// EnvPrefix is stripped from environment variables. A double underscore
// separates levels: UAS_AUTH__SIGNING_KEY sets auth.signing_key.
const EnvPrefix = "UAS_"

type Config struct {
	Auth     uas.Options `koanf:"auth"`
	Server   Server      `koanf:"server"`
	Database Database    `koanf:"database"`
	Redis    Redis       `koanf:"redis"`
	Social   Social      `koanf:"social"`
	Metrics  Metrics     `koanf:"metrics"`
}

type Server struct {
	Addr            string        `koanf:"addr"`
	BasePath        string        `koanf:"base_path"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type Database struct {
	Driver  string `koanf:"driver"`
	DSN     string `koanf:"dsn"`
	Migrate bool   `koanf:"migrate"`
}

// Redis backs the access token denylist. An empty Addr disables it.
type Redis struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

type Social struct {
	StateEncryptionKey string        `koanf:"state_encryption_key"`
	StateHMACKey       string        `koanf:"state_hmac_key"`
	StateTTL           time.Duration `koanf:"state_ttl"`
	DefaultRedirectURL string        `koanf:"default_redirect_url"`
	ErrorRedirectURL   string        `koanf:"error_redirect_url"`
	Google             Provider      `koanf:"google"`
	GitHub             Provider      `koanf:"github"`
}

// Provider is enabled when ClientID is set.
type Provider struct {
	ClientID     string   `koanf:"client_id"`
	ClientSecret string   `koanf:"client_secret"`
	CallbackURL  string   `koanf:"callback_url"`
	Scopes       []string `koanf:"scopes"`
}

func (p Provider) Enabled() bool {
	return p.ClientID != ""
}

type Metrics struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// Defaults returns the configuration every source is layered on.
func Defaults() Config {
	return Config{
		Auth: uas.DefaultOptions(),
		Server: Server{
			Addr:            ":8080",
			BasePath:        "/auth",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: Database{
			Driver:  uas.DriverSQLite,
			DSN:     "file:uas.db?cache=shared",
			Migrate: true,
		},
		Social: Social{
			StateTTL:           10 * time.Minute,
			DefaultRedirectURL: "/",
		},
		Metrics: Metrics{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// SocialProviders reports which providers are configured.
func (c Config) SocialProviders() (google, github bool) {
	return c.Social.Google.Enabled(), c.Social.GitHub.Enabled()
}

// Validate checks the loaded configuration, including the auth options.
func (c Config) Validate() error {
	if err := c.Auth.Validate(); err != nil {
		return err
	}

	err := validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.Driver, validation.Required, validation.In(uas.DriverSQLite, uas.DriverPostgres)),
		validation.Field(&c.Database.DSN, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Addr, validation.Required),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	google, github := c.SocialProviders()
	if google || github {
		err := validation.ValidateStruct(&c.Social,
			validation.Field(&c.Social.StateEncryptionKey, validation.Required, validation.By(aesKeyLength)),
			validation.Field(&c.Social.StateHMACKey, validation.Required, validation.Length(32, 0)),
			validation.Field(&c.Social.StateTTL, validation.Required, validation.Min(time.Second)),
		)
		if err != nil {
			return fmt.Errorf("social: %w", err)
		}
	}
	return nil
}

func aesKeyLength(value any) error {
	key, _ := value.(string)
	switch len(key) {
	case 16, 24, 32:
		return nil
	}
	return fmt.Errorf("must be 16, 24 or 32 bytes long")
}

type loadConfig struct {
	path      string
	overrides map[string]any
	envPrefix string
}

type Option func(*loadConfig)

// WithFile layers a .yaml, .yml or .json file over the defaults.
func WithFile(path string) Option {
	return func(c *loadConfig) {
		c.path = path
	}
}

// WithOverrides layers dotted keys over every other source.
func WithOverrides(values map[string]any) Option {
	return func(c *loadConfig) {
		c.overrides = values
	}
}

func WithEnvPrefix(prefix string) Option {
	return func(c *loadConfig) {
		c.envPrefix = prefix
	}
}

// Load builds and validates the configuration.
func Load(opts ...Option) (*Config, error) {
	lc := &loadConfig{envPrefix: EnvPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(lc)
		}
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if lc.path != "" {
		parser, err := parserFor(lc.path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(lc.path), parser); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", lc.path, err)
		}
	}

	prefix := lc.envPrefix
	if err := k.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, prefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if len(lc.overrides) > 0 {
		if err := k.Load(confmap.Provider(lc.overrides, "."), nil); err != nil {
			return nil, fmt.Errorf("load overrides: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, unmarshalConf(cfg)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// unmarshalConf extends koanf's default decoding so comma separated
// strings, as environment variables carry them, fill list settings.
func unmarshalConf(out *Config) koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           out,
			WeaklyTypedInput: true,
		},
	}
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	}
	return nil, fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
}
