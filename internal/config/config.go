package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/i474232898/weatherapi-nodeserver/internal/weather"
)

const (
	PollSourcePolyglot = "polyglot"
	PollSourceLocal    = "local"

	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

type AppConfig struct {
	AppEnv   string `validate:"oneof=dev prod"`
	LogLevel slog.Level

	Polyglot PolyglotConfig

	// WeatherAPIKey and Location seed the controller when Polyglot has no
	// custom parameter for them.
	WeatherAPIKey     string
	Location          string `validate:"omitempty,location"`
	WeatherAPIBaseURL string `validate:"required,url"`

	HTTPTimeout      time.Duration `validate:"gt=0"`
	APIMaxRetries    int           `validate:"gte=0,lte=10"`
	APIRetryInterval time.Duration `validate:"gt=0"`
	RateLimitCalls   int           `validate:"gt=0"`
	RateLimitPeriod  time.Duration `validate:"gt=0"`
	CacheTTL         time.Duration `validate:"gte=0"`

	// PollSource selects who drives polls: Polyglot or the local scheduler.
	PollSource string        `validate:"oneof=polyglot local"`
	ShortPoll  time.Duration `validate:"gt=0"`
	LongPoll   time.Duration `validate:"gt=0"`

	StoreDriver     string        `validate:"oneof=memory sqlite"`
	SQLitePath      string        `validate:"required_if=StoreDriver sqlite"`
	StoreMaxHistory int           `validate:"gte=0"` // 0 = unlimited
	StoreMaxAge     time.Duration `validate:"gte=0"` // 0 = unlimited

	HTTPEnabled     bool
	Port            string        `validate:"required,numeric"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
}

// PolyglotConfig locates the Polyglot MQTT broker.
type PolyglotConfig struct {
	UUID       string `validate:"required"`
	ProfileNum int    `validate:"gte=0"`
	MQTTHost   string `validate:"required,hostname_rfc1123|ip"`
	MQTTPort   int    `validate:"gt=0,lte=65535"`
	Token      string
	CAFile     string
	CertFile   string `validate:"required_with=KeyFile"`
	KeyFile    string `validate:"required_with=CertFile"`

	// Generated is set when no UUID was supplied and one was made up.
	Generated bool
}

// ClientID is the node server id used in MQTT topics.
func (p PolyglotConfig) ClientID() string {
	return fmt.Sprintf("%s_%d", p.UUID, p.ProfileNum)
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &AppConfig{
		AppEnv:            getenvDefault("APP_ENV", "dev"),
		WeatherAPIKey:     strings.TrimSpace(os.Getenv("WEATHERAPI_API_KEY")),
		Location:          strings.TrimSpace(os.Getenv("WEATHER_LOCATION")),
		WeatherAPIBaseURL: getenvDefault("WEATHERAPI_BASE_URL", "https://api.weatherapi.com/v1"),
		APIMaxRetries:     getenvInt("API_MAX_RETRIES", 2),
		RateLimitCalls:    getenvInt("RATE_LIMIT_CALLS", 10),
		PollSource:        getenvDefault("POLL_SOURCE", PollSourcePolyglot),
		StoreDriver:       getenvDefault("STORE_DRIVER", StoreMemory),
		SQLitePath:        getenvDefault("SQLITE_PATH", "data/readings.db"),
		StoreMaxHistory:   getenvInt("STORE_MAX_HISTORY", 288), // 24h at 5-minute freshness
		HTTPEnabled:       getenvBool("HTTP_ENABLED", true),
		Port:              getenvDefault("PORT", "8080"),
	}

	level, err := parseLogLevel(getenvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}
	cfg.LogLevel = level

	pg, err := loadPolyglot()
	if err != nil {
		return nil, err
	}
	cfg.Polyglot = pg

	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"HTTP_TIMEOUT", 10 * time.Second, &cfg.HTTPTimeout},
		{"API_RETRY_INTERVAL", 5 * time.Second, &cfg.APIRetryInterval},
		{"RATE_LIMIT_PERIOD", time.Minute, &cfg.RateLimitPeriod},
		{"CACHE_TTL", 5 * time.Minute, &cfg.CacheTTL},
		{"SHORT_POLL", time.Minute, &cfg.ShortPoll},
		{"LONG_POLL", 10 * time.Minute, &cfg.LongPoll},
		{"STORE_MAX_AGE", 24 * time.Hour, &cfg.StoreMaxAge},
		{"SHUTDOWN_TIMEOUT", 10 * time.Second, &cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		v, err := getenvDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	if err := newValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// pg3Init is the base64 JSON blob Polyglot passes to the node server process.
type pg3Init struct {
	UUID       string      `json:"uuid"`
	ProfileNum json.Number `json:"profileNum"`
	MQTTHost   string      `json:"mqttHost"`
	MQTTPort   json.Number `json:"mqttPort"`
	Token      string      `json:"token"`
}

func loadPolyglot() (PolyglotConfig, error) {
	pg := PolyglotConfig{
		UUID:     strings.TrimSpace(os.Getenv("PG3_UUID")),
		MQTTHost: getenvDefault("PG3_MQTT_HOST", "localhost"),
		CAFile:   strings.TrimSpace(os.Getenv("PG3_MQTT_CA")),
		CertFile: strings.TrimSpace(os.Getenv("PG3_MQTT_CERT")),
		KeyFile:  strings.TrimSpace(os.Getenv("PG3_MQTT_KEY")),
	}

	var err error
	if pg.ProfileNum, err = strictInt("PG3_PROFILE_NUM", getenvDefault("PG3_PROFILE_NUM", "0")); err != nil {
		return pg, err
	}
	if pg.MQTTPort, err = strictInt("PG3_MQTT_PORT", getenvDefault("PG3_MQTT_PORT", "1888")); err != nil {
		return pg, err
	}

	if raw := strings.TrimSpace(os.Getenv("PG3INIT")); raw != "" {
		if err := applyPG3Init(&pg, raw); err != nil {
			return pg, err
		}
	}

	if pg.UUID == "" {
		pg.UUID = uuid.NewString()
		pg.Generated = true
	}
	return pg, nil
}

func applyPG3Init(pg *PolyglotConfig, raw string) error {
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return fmt.Errorf("invalid PG3INIT: %w", err)
	}
	var blob pg3Init
	if err := json.Unmarshal(data, &blob); err != nil {
		return fmt.Errorf("invalid PG3INIT: %w", err)
	}

	if blob.UUID != "" {
		pg.UUID = blob.UUID
	}
	if blob.MQTTHost != "" {
		pg.MQTTHost = blob.MQTTHost
	}
	if blob.Token != "" {
		pg.Token = blob.Token
	}
	if blob.ProfileNum != "" {
		if pg.ProfileNum, err = strictInt("PG3INIT profileNum", blob.ProfileNum.String()); err != nil {
			return err
		}
	}
	if blob.MQTTPort != "" {
		if pg.MQTTPort, err = strictInt("PG3INIT mqttPort", blob.MQTTPort.String()); err != nil {
			return err
		}
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("location", func(fl validator.FieldLevel) bool {
		_, err := weather.ParseLocation(fl.Field().String())
		return err == nil
	})
	return v
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}

func getenvDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

// getenvDuration accepts Go durations ("90s") or whole seconds ("90").
func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func strictInt(name, v string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}
