package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/parley/pkg/datastore"
	"github.com/NicolasHaas/parley/pkg/logging"
	"github.com/NicolasHaas/parley/pkg/protocol"
	"github.com/NicolasHaas/parley/pkg/translate"
)

// AnyOrigin in AllowedOrigins accepts every origin.
const AnyOrigin = "*"

// Config holds server configuration.
type Config struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port" validate:"min=1,max=65535"`
	AllowedOrigins []string `yaml:"allowed_origins" validate:"min=1,dive,required"`

	TranslatorURL     string        `yaml:"translator_url" validate:"required,url"`
	TranslatorTimeout time.Duration `yaml:"translator_timeout" validate:"gt=0"`
	SkipDetected      bool          `yaml:"skip_detected_language"` // don't translate text already in the target language

	PairingDelay   time.Duration `yaml:"pairing_delay" validate:"gte=0"`
	SendBuffer     int           `yaml:"send_buffer" validate:"min=1"` // outbound frames queued per client
	MaxMessageSize int64         `yaml:"max_message_size" validate:"min=256"`

	CacheBackend string        `yaml:"cache_backend" validate:"oneof=memory sqlite none"`
	CachePath    string        `yaml:"cache_path" validate:"required_if=CacheBackend sqlite"`
	CacheTTL     time.Duration `yaml:"cache_ttl" validate:"gte=0"` // 0 keeps entries forever

	MetricsInterval time.Duration `yaml:"metrics_interval" validate:"gte=0"` // 0 disables the periodic log line
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format" validate:"omitempty,oneof=text json"`
}

// envConfig mirrors the settings that may come from the environment.
// Unset variables leave the field nil.
type envConfig struct {
	Host              *string        `env:"HOST"`
	Port              *int           `env:"PORT"`
	AllowedOrigins    *string        `env:"ALLOWED_ORIGINS"` // comma separated
	TranslatorURL     *string        `env:"TRANSLATOR_URL"`
	TranslatorTimeout *time.Duration `env:"TRANSLATOR_TIMEOUT"`
	SkipDetected      *bool          `env:"SKIP_DETECTED_LANGUAGE"`
	PairingDelay      *time.Duration `env:"PAIRING_DELAY"`
	SendBuffer        *int           `env:"SEND_BUFFER"`
	MaxMessageSize    *int64         `env:"MAX_MESSAGE_SIZE"`
	CacheBackend      *string        `env:"CACHE_BACKEND"`
	CachePath         *string        `env:"CACHE_PATH"`
	CacheTTL          *time.Duration `env:"CACHE_TTL"`
	MetricsInterval   *time.Duration `env:"METRICS_INTERVAL"`
	LogLevel          *string        `env:"LOG_LEVEL"`
	LogFormat         *string        `env:"LOG_FORMAT"`
}

var configValidate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Port:              3002,
		AllowedOrigins:    []string{"http://localhost:3000"},
		TranslatorURL:     "http://localhost:3000/api/translate",
		TranslatorTimeout: translate.DefaultTimeout,
		PairingDelay:      DefaultPairingDelay,
		SendBuffer:        64,
		MaxMessageSize:    protocol.MaxMessageSize,
		CacheBackend:      datastore.BackendMemory,
		CachePath:         "parley-cache.db",
		CacheTTL:          24 * time.Hour,
		MetricsInterval:   60 * time.Second,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// LoadConfig builds a Config from defaults, the optional YAML file at path
// and the process environment, in that order.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := cfg.LoadYAMLFile(path); err != nil {
			return cfg, err
		}
	}
	es, err := env.EnvironToEnvSet(os.Environ())
	if err != nil {
		return cfg, fmt.Errorf("server: read environment: %w", err)
	}
	if err := cfg.ApplyEnv(es); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadYAMLFile overlays the settings found in a YAML file.
func (c *Config) LoadYAMLFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return fmt.Errorf("server: read config: %w", err)
	}
	return c.LoadYAML(data)
}

// LoadYAML overlays the settings present in data. Absent keys keep their value.
func (c *Config) LoadYAML(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("server: parse config: %w", err)
	}
	return nil
}

// ApplyEnv overlays the variables present in es.
func (c *Config) ApplyEnv(es env.EnvSet) error {
	var e envConfig
	if err := env.Unmarshal(es, &e); err != nil {
		return fmt.Errorf("server: read environment: %w", err)
	}

	setIf(&c.Host, e.Host)
	setIf(&c.Port, e.Port)
	if e.AllowedOrigins != nil {
		c.AllowedOrigins = SplitOrigins(*e.AllowedOrigins)
	}
	setIf(&c.TranslatorURL, e.TranslatorURL)
	setIf(&c.TranslatorTimeout, e.TranslatorTimeout)
	setIf(&c.SkipDetected, e.SkipDetected)
	setIf(&c.PairingDelay, e.PairingDelay)
	setIf(&c.SendBuffer, e.SendBuffer)
	setIf(&c.MaxMessageSize, e.MaxMessageSize)
	setIf(&c.CacheBackend, e.CacheBackend)
	setIf(&c.CachePath, e.CachePath)
	setIf(&c.CacheTTL, e.CacheTTL)
	setIf(&c.MetricsInterval, e.MetricsInterval)
	setIf(&c.LogLevel, e.LogLevel)
	setIf(&c.LogFormat, e.LogFormat)
	return nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// SplitOrigins parses a comma separated origin list.
func SplitOrigins(raw string) []string {
	return lo.Uniq(lo.Compact(lo.Map(strings.Split(raw, ","), func(o string, _ int) string {
		return normalizeOrigin(o)
	})))
}

// Validate reports every setting that cannot work.
func (c Config) Validate() error {
	var errs []error
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if err := logging.Validate(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("server: invalid config: %w", err)
	}
	return nil
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// OriginAllowed reports whether a websocket upgrade from origin is accepted.
// Requests without an Origin header come from non-browser clients and pass.
func (c Config) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	origin = normalizeOrigin(origin)
	return lo.ContainsBy(c.AllowedOrigins, func(allowed string) bool {
		allowed = normalizeOrigin(allowed)
		return allowed == AnyOrigin || allowed == origin
	})
}

func normalizeOrigin(o string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(o), "/"))
}
