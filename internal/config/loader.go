package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/example/smartfeeder/internal/devicesync"
	yaml "go.yaml.in/yaml/v3"
)

// Config captures the settings of the feeder service.
type Config struct {
	HTTPPort        int
	SQLiteDSN       string
	SessionTTL      time.Duration
	InvitationTTL   time.Duration
	DefaultTimezone string
	LogLevel        string
	LogFormat       string
	MQTT            MQTTConfig
	Redis           RedisConfig
	ReleaseGuardTTL time.Duration
	DeviceSyncSpec  string
}

// MQTTConfig holds broker settings. An empty Broker disables device messaging.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	PublishRate int
}

// RedisConfig holds release guard storage settings. An empty Addr selects the
// in-process guard.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// fileConfig mirrors Config in the optional YAML file. Durations are Go
// duration strings.
type fileConfig struct {
	HTTPPort        *int   `yaml:"http_port"`
	SQLiteDSN       string `yaml:"sqlite_dsn"`
	SessionTTL      string `yaml:"session_ttl"`
	InvitationTTL   string `yaml:"invitation_ttl"`
	DefaultTimezone string `yaml:"default_timezone"`
	Log             struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	MQTT struct {
		Broker      string `yaml:"broker"`
		ClientID    string `yaml:"client_id"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		PublishRate *int   `yaml:"publish_rate"`
	} `yaml:"mqtt"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       *int   `yaml:"db"`
	} `yaml:"redis"`
	ReleaseGuardTTL string `yaml:"release_guard_ttl"`
	DeviceSyncSpec  string `yaml:"device_sync_spec"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		HTTPPort:        8080,
		SQLiteDSN:       "smartfeeder.db",
		SessionTTL:      24 * time.Hour,
		InvitationTTL:   7 * 24 * time.Hour,
		DefaultTimezone: "UTC",
		LogLevel:        "info",
		LogFormat:       "json",
		MQTT: MQTTConfig{
			ClientID:    "smartfeeder",
			PublishRate: 10,
		},
		ReleaseGuardTTL: 30 * time.Second,
		DeviceSyncSpec:  devicesync.DefaultSpec,
	}
}

// Load builds the configuration from defaults, the YAML file named by
// FEEDER_CONFIG_FILE when set, and FEEDER_ environment variables, in that
// order of precedence from lowest to highest. Every missing or invalid value
// is reported in a single error.
func Load() (Config, error) {
	cfg := Defaults()
	problems := &problems{}

	if path := strings.TrimSpace(os.Getenv("FEEDER_CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path, problems); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg, problems)
	validate(cfg, problems)

	if err := problems.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type problems struct {
	missing []string
	invalid []string
}

func (p *problems) miss(key string)       { p.missing = append(p.missing, key) }
func (p *problems) invalidate(key string) { p.invalid = append(p.invalid, key) }

func (p *problems) err() error {
	var errs []error
	if len(p.missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required configuration: %s", strings.Join(p.missing, ", ")))
	}
	if len(p.invalid) > 0 {
		errs = append(errs, fmt.Errorf("invalid configuration values: %s", strings.Join(p.invalid, ", ")))
	}
	return errors.Join(errs...)
}

func applyFile(cfg *Config, path string, p *problems) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.HTTPPort != nil {
		cfg.HTTPPort = *fc.HTTPPort
	}
	setString(&cfg.SQLiteDSN, fc.SQLiteDSN)
	setDuration(&cfg.SessionTTL, fc.SessionTTL, "session_ttl", p)
	setDuration(&cfg.InvitationTTL, fc.InvitationTTL, "invitation_ttl", p)
	setString(&cfg.DefaultTimezone, fc.DefaultTimezone)
	setString(&cfg.LogLevel, fc.Log.Level)
	setString(&cfg.LogFormat, fc.Log.Format)
	setString(&cfg.MQTT.Broker, fc.MQTT.Broker)
	setString(&cfg.MQTT.ClientID, fc.MQTT.ClientID)
	setString(&cfg.MQTT.Username, fc.MQTT.Username)
	setString(&cfg.MQTT.Password, fc.MQTT.Password)
	if fc.MQTT.PublishRate != nil {
		cfg.MQTT.PublishRate = *fc.MQTT.PublishRate
	}
	setString(&cfg.Redis.Addr, fc.Redis.Addr)
	setString(&cfg.Redis.Password, fc.Redis.Password)
	if fc.Redis.DB != nil {
		cfg.Redis.DB = *fc.Redis.DB
	}
	setDuration(&cfg.ReleaseGuardTTL, fc.ReleaseGuardTTL, "release_guard_ttl", p)
	setString(&cfg.DeviceSyncSpec, fc.DeviceSyncSpec)
	return nil
}

func applyEnv(cfg *Config, p *problems) {
	if value := env("FEEDER_HTTP_PORT"); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil {
			p.invalidate("FEEDER_HTTP_PORT")
		} else {
			cfg.HTTPPort = port
		}
	}
	setString(&cfg.SQLiteDSN, env("FEEDER_SQLITE_DSN"))
	setDuration(&cfg.SessionTTL, env("FEEDER_SESSION_TTL"), "FEEDER_SESSION_TTL", p)
	setDuration(&cfg.InvitationTTL, env("FEEDER_INVITATION_TTL"), "FEEDER_INVITATION_TTL", p)
	setString(&cfg.DefaultTimezone, env("FEEDER_DEFAULT_TIMEZONE"))
	setString(&cfg.LogLevel, env("FEEDER_LOG_LEVEL"))
	setString(&cfg.LogFormat, env("FEEDER_LOG_FORMAT"))

	setString(&cfg.MQTT.Broker, env("FEEDER_MQTT_BROKER"))
	setString(&cfg.MQTT.ClientID, env("FEEDER_MQTT_CLIENT_ID"))
	setString(&cfg.MQTT.Username, env("FEEDER_MQTT_USERNAME"))
	setString(&cfg.MQTT.Password, env("FEEDER_MQTT_PASSWORD"))
	if value := env("FEEDER_MQTT_PUBLISH_RATE"); value != "" {
		rate, err := strconv.Atoi(value)
		if err != nil {
			p.invalidate("FEEDER_MQTT_PUBLISH_RATE")
		} else {
			cfg.MQTT.PublishRate = rate
		}
	}

	setString(&cfg.Redis.Addr, env("FEEDER_REDIS_ADDR"))
	setString(&cfg.Redis.Password, env("FEEDER_REDIS_PASSWORD"))
	if value := env("FEEDER_REDIS_DB"); value != "" {
		db, err := strconv.Atoi(value)
		if err != nil {
			p.invalidate("FEEDER_REDIS_DB")
		} else {
			cfg.Redis.DB = db
		}
	}

	setDuration(&cfg.ReleaseGuardTTL, env("FEEDER_RELEASE_GUARD_TTL"), "FEEDER_RELEASE_GUARD_TTL", p)
	setString(&cfg.DeviceSyncSpec, env("FEEDER_DEVICE_SYNC_SPEC"))
}

// validate checks merged values, naming each bad setting by its environment key.
func validate(cfg Config, p *problems) {
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		p.invalidate("FEEDER_HTTP_PORT")
	}
	if strings.TrimSpace(cfg.SQLiteDSN) == "" {
		p.miss("FEEDER_SQLITE_DSN")
	}
	if cfg.SessionTTL <= 0 {
		p.invalidate("FEEDER_SESSION_TTL")
	}
	if cfg.InvitationTTL <= 0 {
		p.invalidate("FEEDER_INVITATION_TTL")
	}
	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		p.invalidate("FEEDER_DEFAULT_TIMEZONE")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		p.invalidate("FEEDER_LOG_LEVEL")
	}
	switch strings.ToLower(cfg.LogFormat) {
	case "json", "console":
	default:
		p.invalidate("FEEDER_LOG_FORMAT")
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.ClientID == "" {
		p.miss("FEEDER_MQTT_CLIENT_ID")
	}
	if cfg.MQTT.Username != "" && cfg.MQTT.Password == "" {
		p.miss("FEEDER_MQTT_PASSWORD")
	}
	if cfg.MQTT.PublishRate < 0 {
		p.invalidate("FEEDER_MQTT_PUBLISH_RATE")
	}
	if cfg.Redis.DB < 0 {
		p.invalidate("FEEDER_REDIS_DB")
	}
	if cfg.ReleaseGuardTTL <= 0 {
		p.invalidate("FEEDER_RELEASE_GUARD_TTL")
	}
	if err := devicesync.ValidateSpec(cfg.DeviceSyncSpec); err != nil {
		p.invalidate("FEEDER_DEVICE_SYNC_SPEC")
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func setString(dst *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*dst = value
	}
}

// setDuration records key as invalid when value does not parse. Range checks
// happen in validate.
func setDuration(dst *time.Duration, value, key string, p *problems) {
	if value = strings.TrimSpace(value); value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		p.invalidate(key)
		return
	}
	*dst = d
}
