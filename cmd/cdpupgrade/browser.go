package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cdpupgrade/internal/config"
	"cdpupgrade/internal/service"
	"cdpupgrade/pkg/api"
	"cdpupgrade/pkg/domain"
)

var (
	browserDevTools string
	browserTarget   string
)

var browserCmd = &cobra.Command{
	Use:   "browser",
	Short: "附加到浏览器页面并拦截其请求",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(func(c *config.Config) {
			if browserDevTools != "" {
				c.DevTools.URL = browserDevTools
			}
			if browserTarget != "" {
				c.DevTools.Target = browserTarget
			}
		})
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		rt.serveMetrics(ctx)

		svc := api.NewService(rt.log, service.WithFetcher(rt.fetcher), service.WithObserver(rt.metrics))
		defer svc.Shutdown()
		return runBrowser(ctx, svc, rt)
	},
}

func runBrowser(ctx context.Context, svc api.Service, rt *app) error {
	id, err := svc.StartSession(domain.SessionConfig{
		DevToolsURL:     rt.cfg.DevTools.URL,
		Concurrency:     rt.cfg.Intercept.Concurrency,
		PendingCapacity: rt.cfg.Intercept.PendingCapacity,
		ProcessTimeout:  rt.cfg.Intercept.ProcessTimeout,
	})
	if err != nil {
		return err
	}
	defer svc.StopSession(id)

	if err := svc.AttachTarget(id, domain.TargetID(rt.cfg.DevTools.Target)); err != nil {
		return fmt.Errorf("attach target: %w", err)
	}
	if err := svc.EnableInterception(id); err != nil {
		return fmt.Errorf("enable interception: %w", err)
	}
	events, err := svc.SubscribeEvents(id)
	if err != nil {
		return err
	}

	rt.log.Info("拦截已启动，按 Ctrl+C 退出", "devtools", rt.cfg.DevTools.URL)
	for {
		select {
		case <-ctx.Done():
			rt.log.Info("收到退出信号")
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			logEvent(rt, evt)
		}
	}
}

func logEvent(rt *app, evt domain.InterceptEvent) {
	switch evt.Type {
	case domain.EventUpgraded:
		rt.log.Info("请求已升级", "url", evt.URL, "upgraded", evt.UpgradedURL, "status", evt.StatusCode, "target", string(evt.Target))
	case domain.EventFailed:
		rt.log.Warn("请求失败", "url", evt.URL, "error", evt.Error, "target", string(evt.Target))
	default:
		rt.log.Debug("请求原样抓取", "url", evt.URL, "status", evt.StatusCode, "target", string(evt.Target))
	}
}

func init() {
	browserCmd.Flags().StringVar(&browserDevTools, "devtools", "", "DevTools HTTP 地址，覆盖 devtools.url")
	browserCmd.Flags().StringVar(&browserTarget, "target", "", "目标 ID，默认第一个页面")
	rootCmd.AddCommand(browserCmd)
}
