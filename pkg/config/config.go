package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	DB      DBConfig      `mapstructure:"db"`
	Mongo   MongoConfig   `mapstructure:"mongo"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Judge   JudgeConfig   `mapstructure:"judge"`
	Battle  BattleConfig  `mapstructure:"battle"`
	Scoring ScoringConfig `mapstructure:"scoring"`
	Daily   DailyConfig   `mapstructure:"daily"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StorageConfig struct {
	// Driver is one of postgres, mongo or memory.
	Driver string `mapstructure:"driver"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Port     int    `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
	TLS      bool   `mapstructure:"tls"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type JudgeConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	UserAgent   string        `mapstructure:"user_agent"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CatalogTTL  time.Duration `mapstructure:"catalog_ttl"`
	StatusCount int           `mapstructure:"status_count"`
}

type BattleConfig struct {
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	TickInterval      time.Duration `mapstructure:"tick_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	DurationUnit      time.Duration `mapstructure:"duration_unit"`
	JudgeTimeout      time.Duration `mapstructure:"judge_timeout"`
	StoreTimeout      time.Duration `mapstructure:"store_timeout"`
	ReconcileSchedule string        `mapstructure:"reconcile_schedule"`
}

type ScoringConfig struct {
	Win  int `mapstructure:"win"`
	Loss int `mapstructure:"loss"`
	Draw int `mapstructure:"draw"`
}

type DailyConfig struct {
	Timezone         string        `mapstructure:"timezone"`
	LookbackDays     int           `mapstructure:"lookback_days"`
	Concurrency      int           `mapstructure:"concurrency"`
	VerifySchedule   string        `mapstructure:"verify_schedule"`
	GenerateSchedule string        `mapstructure:"generate_schedule"`
	InitialDelay     time.Duration `mapstructure:"initial_delay"`
}

type LogConfig struct {
	Level     string `mapstructure:"level"`
	AddSource bool   `mapstructure:"add_source"`
}

// Location returns the time zone that defines calendar days.
func (c DailyConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("storage.driver", "postgres")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "codebattle")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "codebattle")
	v.SetDefault("mongo.tls", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)

	v.SetDefault("judge.base_url", "https://codeforces.com/api")
	v.SetDefault("judge.user_agent", "CodeBattle-App")
	v.SetDefault("judge.timeout", 20*time.Second)
	v.SetDefault("judge.catalog_ttl", time.Hour)
	v.SetDefault("judge.status_count", 1000)

	v.SetDefault("battle.grace_period", 3*time.Second)
	v.SetDefault("battle.tick_interval", 30*time.Second)
	v.SetDefault("battle.poll_interval", 10*time.Second)
	v.SetDefault("battle.duration_unit", time.Minute)
	v.SetDefault("battle.judge_timeout", 20*time.Second)
	v.SetDefault("battle.store_timeout", 5*time.Second)
	v.SetDefault("battle.reconcile_schedule", "@every 5m")

	v.SetDefault("scoring.win", 10)
	v.SetDefault("scoring.loss", 2)
	v.SetDefault("scoring.draw", 5)

	v.SetDefault("daily.timezone", "UTC")
	v.SetDefault("daily.lookback_days", 1)
	v.SetDefault("daily.concurrency", 4)
	v.SetDefault("daily.verify_schedule", "0 */2 * * *")
	v.SetDefault("daily.generate_schedule", "1 0 * * *")
	v.SetDefault("daily.initial_delay", 5*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.add_source", false)
}

// Load reads ./pkg/config/config.yaml, if present, and the CODEBATTLE_*
// environment.
func Load() (*Config, error) {
	return LoadFrom("./pkg/config")
}

// LoadFrom is Load with an explicit directory for config.yaml.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("CODEBATTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "postgres", "mongo", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver must be postgres, mongo or memory, got %q", c.Storage.Driver))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}

	for name, d := range map[string]time.Duration{
		"battle.grace_period":  c.Battle.GracePeriod,
		"battle.tick_interval": c.Battle.TickInterval,
		"battle.poll_interval": c.Battle.PollInterval,
		"battle.duration_unit": c.Battle.DurationUnit,
		"battle.judge_timeout": c.Battle.JudgeTimeout,
		"battle.store_timeout": c.Battle.StoreTimeout,
		"judge.timeout":        c.Judge.Timeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	s := c.Scoring
	if !(s.Loss < s.Draw && s.Draw < s.Win) {
		errs = append(errs, fmt.Errorf("scoring must satisfy loss < draw < win, got %d/%d/%d", s.Loss, s.Draw, s.Win))
	}

	if _, err := c.Daily.Location(); err != nil {
		errs = append(errs, fmt.Errorf("daily.timezone: %w", err))
	}
	if c.Daily.LookbackDays < 1 {
		errs = append(errs, errors.New("daily.lookback_days must be at least 1"))
	}
	if c.Daily.Concurrency < 1 {
		errs = append(errs, errors.New("daily.concurrency must be at least 1"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	return errors.Join(errs...)
}
