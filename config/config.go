// Package config 进程级配置，全部来自环境变量
package config

import (
	"time"

	"github.com/caarlos0/env/v11"

	"stratus/errors"
)

// Config 进程配置
//
// SQLiteDSN 为空时文档与实例状态走内存实现；RedisAddr 为空时锁走
// 内存实现。两者都只适合单进程部署。
type Config struct {
	HTTPAddr string `env:"STRATUS_HTTP_ADDR" envDefault:":8080"`

	SQLiteDSN string `env:"STRATUS_SQLITE_DSN"`
	RedisAddr string `env:"STRATUS_REDIS_ADDR"`
	NATSURL   string `env:"STRATUS_NATS_URL"`

	Workers   int `env:"STRATUS_WORKERS" envDefault:"4"`
	QueueSize int `env:"STRATUS_QUEUE_SIZE" envDefault:"64"`

	LockTTL        time.Duration `env:"STRATUS_LOCK_TTL" envDefault:"30s"`
	AcquireTimeout time.Duration `env:"STRATUS_LOCK_ACQUIRE_TIMEOUT" envDefault:"1m"`

	RetryAttempts int           `env:"STRATUS_RETRY_ATTEMPTS" envDefault:"3"`
	RetryDelay    time.Duration `env:"STRATUS_RETRY_DELAY" envDefault:"500ms"`

	ProviderTimeout time.Duration `env:"STRATUS_PROVIDER_TIMEOUT" envDefault:"30s"`
	RescheduleDelay time.Duration `env:"STRATUS_RESCHEDULE_DELAY" envDefault:"2s"`
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeValidation, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 配置合法性检查
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return errors.NewError(errors.ErrCodeValidation, "worker count must be positive")
	}
	if c.QueueSize <= 0 {
		return errors.NewError(errors.ErrCodeValidation, "queue size must be positive")
	}
	if c.LockTTL <= 0 {
		return errors.NewError(errors.ErrCodeValidation, "lock ttl must be positive")
	}
	if c.RetryAttempts <= 0 {
		return errors.NewError(errors.ErrCodeValidation, "retry attempts must be positive")
	}
	return nil
}
