package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	pkgconfig "trustfund/pkg/config"
	"trustfund/pkg/otel"
)

// StoreConfig 选择实体存储后端：memory 或 postgres
type StoreConfig struct {
	Driver        string `yaml:"driver"`
	AutoMigrate   bool   `yaml:"auto_migrate"`
	MigrationsDir string `yaml:"migrations_dir"`
}

// EscrowConfig 托管程序配置
type EscrowConfig struct {
	ProgramID   string        `yaml:"program_id"`
	LockEnabled bool          `yaml:"lock_enabled"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

// AdminConfig 管理员登录配置，密码保存为 bcrypt 哈希
type AdminConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// OutboxConfig outbox 分发器配置
type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type Config struct {
	Server      pkgconfig.ServerConfig `yaml:"server"`
	DB          pkgconfig.DBConfig     `yaml:"db"`
	Redis       pkgconfig.RedisConfig  `yaml:"redis"`
	MQ          pkgconfig.MQConfig     `yaml:"mq"`
	JWT         pkgconfig.JWTConfig    `yaml:"jwt"`
	Log         pkgconfig.LogConfig    `yaml:"log"`
	Otel        otel.Config            `yaml:"otel"`
	Store       StoreConfig            `yaml:"store"`
	Escrow      EscrowConfig           `yaml:"escrow"`
	Admin       AdminConfig            `yaml:"admin"`
	Outbox      OutboxConfig           `yaml:"outbox"`
	Idempotency IdempotencyConfig      `yaml:"idempotency"`
}

// Load 读取 base.yaml + <env>.yaml，再用环境变量覆盖
func Load(env, dir string) (*Config, error) {
	cfg := Default()
	if err := pkgconfig.Load(env, dir, cfg); err != nil {
		return nil, err
	}

	overrideFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default 返回未配置字段使用的默认值
func Default() *Config {
	return &Config{
		Server: pkgconfig.ServerConfig{Port: ":8080"},
		Log:    pkgconfig.LogConfig{Level: "info"},
		JWT:    pkgconfig.JWTConfig{TTL: 24 * time.Hour},
		Store:  StoreConfig{Driver: "memory"},
		Escrow: EscrowConfig{LockTTL: 10 * time.Second},
		Outbox: OutboxConfig{
			Interval:   time.Second,
			BatchSize:  100,
			MaxRetries: 5,
		},
		Idempotency: IdempotencyConfig{TTL: 24 * time.Hour},
		Otel:        otel.Config{ServiceName: "trustfund", SampleRatio: 1},
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt.secret is required")
	}
	return nil
}

func overrideFromEnv(cfg *Config) {
	pkgconfig.OverrideServerFromEnv(&cfg.Server)
	pkgconfig.OverrideDBFromEnv(&cfg.DB)
	pkgconfig.OverrideRedisFromEnv(&cfg.Redis)
	pkgconfig.OverrideMQFromEnv(&cfg.MQ)
	pkgconfig.OverrideJWTFromEnv(&cfg.JWT)
	pkgconfig.OverrideLogFromEnv(&cfg.Log)

	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = driver
	}
	if id := os.Getenv("ESCROW_PROGRAM_ID"); id != "" {
		cfg.Escrow.ProgramID = id
	}
	if user := os.Getenv("ADMIN_USERNAME"); user != "" {
		cfg.Admin.Username = user
	}
	if hash := os.Getenv("ADMIN_PASSWORD_HASH"); hash != "" {
		cfg.Admin.PasswordHash = hash
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Otel.Endpoint = endpoint
		cfg.Otel.Enabled = true
	}
	if enabled := os.Getenv("OTEL_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			cfg.Otel.Enabled = b
		}
	}
}
