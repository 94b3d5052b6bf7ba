package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"cdpupgrade/internal/config"
	"cdpupgrade/internal/fetcher"
	"cdpupgrade/internal/logger"
	"cdpupgrade/internal/metrics"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cdpupgrade",
	Short: "将浏览器发出的明文 http 请求升级为 https",
	Long: `cdpupgrade 拦截浏览器的网络请求，把以 http:// 开头的请求改写为 https:// 后再抓取。

两种运行方式:
  browser   通过 Chrome DevTools Protocol 附加到浏览器页面 (chrome --remote-debugging-port=9222)
  proxy     作为 HTTP 正向代理运行

配置文件 cdpupgrade.yaml 依次在当前目录、$HOME/.cdpupgrade/、/etc/cdpupgrade/ 中查找。
环境变量以 CDPUPGRADE_ 为前缀覆盖配置，例如 CDPUPGRADE_DEVTOOLS_URL=http://127.0.0.1:9333`,
	SilenceUsage: true,
}

// Execute 运行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径 (默认 ./cdpupgrade.yaml)")
}

// app 子命令共用的运行时依赖
type app struct {
	cfg     *config.Config
	log     *logger.ZeroLogger
	reg     *prometheus.Registry
	metrics *metrics.Metrics
	fetcher *fetcher.HTTPFetcher
}

// setup 加载配置并初始化日志、指标与抓取原语，overrides 在校验前修改配置
func setup(overrides func(*config.Config)) (*app, error) {
	v := config.NewViper(cfgFile)
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if overrides != nil {
		overrides(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid flags: %w", err)
		}
	}
	l, err := logger.New(cfg.LoggerOptions())
	if err != nil {
		return nil, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		l.Info("已加载配置文件", "path", used)
	}

	reg := prometheus.NewRegistry()
	return &app{
		cfg:     cfg,
		log:     l,
		reg:     reg,
		metrics: metrics.New(reg),
		fetcher: fetcher.New(fetcher.Options{
			Timeout:      cfg.Fetch.Timeout,
			MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
			Logger:       l,
		}),
	}, nil
}

// serveMetrics 配置了 metrics.addr 时在后台暴露指标
func (rt *app) serveMetrics(ctx context.Context) {
	if rt.cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, rt.cfg.Metrics.Addr, rt.reg, rt.log); err != nil {
			rt.log.Err(err, "指标服务退出")
		}
	}()
}

func (rt *app) close() {
	_ = rt.log.Close()
}
