package config

import (
	"errors"
	"fmt"
	"time"

	"cdpupgrade/internal/logger"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version" mapstructure:"version"`

	DevTools struct {
		URL    string `yaml:"url" mapstructure:"url"`
		Target string `yaml:"target" mapstructure:"target"`
	} `yaml:"devtools" mapstructure:"devtools"`

	Intercept struct {
		Concurrency     int           `yaml:"concurrency" mapstructure:"concurrency"`
		PendingCapacity int           `yaml:"pending_capacity" mapstructure:"pending_capacity"`
		ProcessTimeout  time.Duration `yaml:"process_timeout" mapstructure:"process_timeout"`
	} `yaml:"intercept" mapstructure:"intercept"`

	Fetch struct {
		Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
		MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	} `yaml:"fetch" mapstructure:"fetch"`

	Proxy struct {
		Addr string `yaml:"addr" mapstructure:"addr"`
	} `yaml:"proxy" mapstructure:"proxy"`

	Metrics struct {
		Addr string `yaml:"addr" mapstructure:"addr"`
	} `yaml:"metrics" mapstructure:"metrics"`

	Log struct {
		Level  string   `yaml:"level" mapstructure:"level"`
		Writer []string `yaml:"writer" mapstructure:"writer"`
		File   string   `yaml:"file" mapstructure:"file"`
	} `yaml:"log" mapstructure:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.DevTools.URL = "http://127.0.0.1:9222"
	c.Intercept.Concurrency = 16
	c.Intercept.PendingCapacity = 256
	c.Intercept.ProcessTimeout = 30 * time.Second
	c.Fetch.Timeout = 25 * time.Second
	c.Fetch.MaxBodyBytes = 64 << 20
	c.Proxy.Addr = "127.0.0.1:8080"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "logs/cdpupgrade.log"
	return c
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	if c.DevTools.URL == "" {
		errs = append(errs, errors.New("devtools.url is required"))
	}
	if c.Intercept.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("intercept.concurrency must be positive, got %d", c.Intercept.Concurrency))
	}
	if c.Intercept.PendingCapacity < 0 {
		errs = append(errs, fmt.Errorf("intercept.pending_capacity must not be negative, got %d", c.Intercept.PendingCapacity))
	}
	if c.Intercept.ProcessTimeout <= 0 {
		errs = append(errs, errors.New("intercept.process_timeout must be positive"))
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("fetch.max_body_bytes must be positive"))
	}
	if c.Fetch.Timeout < 0 {
		errs = append(errs, errors.New("fetch.timeout must not be negative"))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	for _, w := range c.Log.Writer {
		if w != "console" && w != "file" {
			errs = append(errs, fmt.Errorf("unknown log writer %q", w))
		}
	}
	return errors.Join(errs...)
}

// LoggerOptions 转换为日志选项
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{Level: c.Log.Level, Writers: c.Log.Writer, File: c.Log.File}
}
