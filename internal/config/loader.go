package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName = "cdpupgrade"
	envPrefix  = "CDPUPGRADE"
)

// NewViper 创建读取配置文件与环境变量的 viper 实例。
// configFile 为空时在 .、$HOME/.cdpupgrade、/etc/cdpupgrade 中查找 cdpupgrade.yaml/.yml。
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	// CDPUPGRADE_DEVTOOLS_URL 覆盖 devtools.url
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, NewConfig())
	return v
}

// setDefaults 注册默认值，使 AutomaticEnv 能覆盖所有键
func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("version", c.Version)
	v.SetDefault("devtools.url", c.DevTools.URL)
	v.SetDefault("devtools.target", c.DevTools.Target)
	v.SetDefault("intercept.concurrency", c.Intercept.Concurrency)
	v.SetDefault("intercept.pending_capacity", c.Intercept.PendingCapacity)
	v.SetDefault("intercept.process_timeout", c.Intercept.ProcessTimeout)
	v.SetDefault("fetch.timeout", c.Fetch.Timeout)
	v.SetDefault("fetch.max_body_bytes", c.Fetch.MaxBodyBytes)
	v.SetDefault("proxy.addr", c.Proxy.Addr)
	v.SetDefault("metrics.addr", c.Metrics.Addr)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.writer", c.Log.Writer)
	v.SetDefault("log.file", c.Log.File)
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	return findConfigFileInPaths([]string{
		".",
		filepath.Join(home, ".cdpupgrade"),
		"/etc/cdpupgrade",
	})
}

func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, configName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// Load 读取配置文件（不存在时仅使用默认值与环境变量）并校验
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := NewConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
