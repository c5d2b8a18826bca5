package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"milestone-reconciler/pkg/config"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
	StoreDriverSQLite   = "sqlite"

	DispatchModeLocal = "local"
	DispatchModeHTTP  = "http"
	DispatchModeMQ    = "mq"
)

type AuthConfig struct {
	// webhook 调用方的共享密钥，为空时不校验
	WebhookSecret string `yaml:"webhook_secret"`
	// scheduler / 内部调用的共享密钥，为空时不校验
	CronSecret string `yaml:"cron_secret"`
	// 用户访问令牌（HS256）密钥，为空时不校验
	JWTSecret         string `yaml:"jwt_secret"`
	MaxFailedAttempts int    `yaml:"max_failed_attempts"`
	LockoutWindow     string `yaml:"lockout_window"`
}

type SchedulerConfig struct {
	Enabled    bool   `yaml:"enabled"`
	RunOnStart bool   `yaml:"run_on_start"`
	Interval   string `yaml:"interval"`
	Limit      int    `yaml:"limit"`
}

type DispatchConfig struct {
	Mode         string `yaml:"mode"`
	Workers      int    `yaml:"workers"`
	QueueSize    int    `yaml:"queue_size"`
	Timeout      string `yaml:"timeout"`
	RecomputeURL string `yaml:"recompute_url"`
}

type ProgressConfig struct {
	TerminalStageNames []string `yaml:"terminal_stage_names"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type LockConfig struct {
	Enabled bool   `yaml:"enabled"`
	TTL     string `yaml:"ttl"`
	Wait    string `yaml:"wait"`
}

type Config struct {
	ServiceName string              `yaml:"service_name"`
	LogLevel    string              `yaml:"log_level"`
	StoreDriver string              `yaml:"store_driver"`
	DB          config.DBConfig     `yaml:"db"`
	SQLite      SQLiteConfig        `yaml:"sqlite"`
	MQ          config.MQConfig     `yaml:"mq"`
	Redis       config.RedisConfig  `yaml:"redis"`
	Server      config.ServerConfig `yaml:"server"`
	OTel        config.OTelConfig   `yaml:"otel"`
	Auth        AuthConfig          `yaml:"auth"`
	Scheduler   SchedulerConfig     `yaml:"scheduler"`
	Dispatch    DispatchConfig      `yaml:"dispatch"`
	Progress    ProgressConfig      `yaml:"progress"`
	Lock        LockConfig          `yaml:"lock"`
}

// Load 使用统一配置中心加载配置：base.yaml + <env>.yaml + secrets.env + 环境变量
func Load() (*Config, error) {
	env := config.GetConfigEnv()
	configDir := config.GetEnv("CONFIG_DIR", "config")
	return LoadFrom(env, configDir)
}

func LoadFrom(env, configDir string) (*Config, error) {
	cfg := defaults()
	if err := config.Load(env, configDir, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideOTelFromEnv(&cfg.OTel)
	overrideFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServiceName: "milestone-reconciler",
		LogLevel:    "info",
		StoreDriver: StoreDriverPostgres,
		Server:      config.ServerConfig{Port: "8085"},
		SQLite:      SQLiteConfig{Path: "milestones.db"},
		Auth: AuthConfig{
			MaxFailedAttempts: 10,
			LockoutWindow:     "15m",
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Interval: "15m",
			Limit:    50,
		},
		Dispatch: DispatchConfig{
			Mode:      DispatchModeLocal,
			Workers:   4,
			QueueSize: 256,
			Timeout:   "10s",
		},
		Lock: LockConfig{
			TTL:  "10s",
			Wait: "2s",
		},
	}
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("WEBHOOK_SECRET"); v != "" {
		cfg.Auth.WebhookSecret = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.Auth.CronSecret = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DISPATCH_MODE"); v != "" {
		cfg.Dispatch.Mode = v
	}
	if v := os.Getenv("RECOMPUTE_URL"); v != "" {
		cfg.Dispatch.RecomputeURL = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

// Validate checks enumerations and durations.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	case StoreDriverSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required for store_driver %q", c.StoreDriver)
		}
	default:
		return fmt.Errorf("unknown store_driver %q", c.StoreDriver)
	}

	switch c.Dispatch.Mode {
	case DispatchModeLocal:
	case DispatchModeHTTP:
		if c.Dispatch.RecomputeURL == "" {
			return fmt.Errorf("dispatch.recompute_url is required for dispatch mode %q", c.Dispatch.Mode)
		}
	case DispatchModeMQ:
		if c.MQ.URL == "" {
			return fmt.Errorf("mq.url is required for dispatch mode %q", c.Dispatch.Mode)
		}
	default:
		return fmt.Errorf("unknown dispatch.mode %q", c.Dispatch.Mode)
	}

	if c.Lock.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when lock.enabled is set")
	}

	for name, v := range map[string]string{
		"scheduler.interval":  c.Scheduler.Interval,
		"dispatch.timeout":    c.Dispatch.Timeout,
		"auth.lockout_window": c.Auth.LockoutWindow,
		"lock.ttl":            c.Lock.TTL,
		"lock.wait":           c.Lock.Wait,
	} {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, v, err)
		}
	}
	return nil
}

// duration parses a validated duration, falling back to def when empty.
func duration(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func (c SchedulerConfig) IntervalDuration() time.Duration {
	return duration(c.Interval, 15*time.Minute)
}

func (c DispatchConfig) TimeoutDuration() time.Duration {
	return duration(c.Timeout, 10*time.Second)
}

func (c AuthConfig) LockoutDuration() time.Duration {
	return duration(c.LockoutWindow, 15*time.Minute)
}

func (c LockConfig) TTLDuration() time.Duration {
	return duration(c.TTL, 10*time.Second)
}

func (c LockConfig) WaitDuration() time.Duration {
	return duration(c.Wait, 2*time.Second)
}
