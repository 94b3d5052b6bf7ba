package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"cdpupgrade/internal/config"
	"cdpupgrade/internal/proxy"
	"cdpupgrade/internal/upgrade"
)

var proxyAddr string

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "以 HTTP 正向代理运行",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(func(c *config.Config) {
			if proxyAddr != "" {
				c.Proxy.Addr = proxyAddr
			}
		})
		if err != nil {
			return err
		}
		defer rt.close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		rt.serveMetrics(ctx)

		srv := proxy.New(proxy.Options{
			Addr:         rt.cfg.Proxy.Addr,
			Handler:      upgrade.New(rt.fetcher, upgrade.WithObserver(rt.metrics)),
			Logger:       rt.log,
			MaxBodyBytes: rt.cfg.Fetch.MaxBodyBytes,
		})
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	proxyCmd.Flags().StringVar(&proxyAddr, "addr", "", "监听地址，覆盖 proxy.addr")
	rootCmd.AddCommand(proxyCmd)
}
