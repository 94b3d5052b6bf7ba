package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cdpupgrade/internal/config"
	"cdpupgrade/pkg/api"
	"cdpupgrade/pkg/domain"
)

var targetsDevTools string

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "列出浏览器中的页面目标",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := setup(func(c *config.Config) {
			if targetsDevTools != "" {
				c.DevTools.URL = targetsDevTools
			}
		})
		if err != nil {
			return err
		}
		defer rt.close()

		svc := api.NewService(rt.log)
		id, err := svc.StartSession(domain.SessionConfig{DevToolsURL: rt.cfg.DevTools.URL})
		if err != nil {
			return err
		}
		defer svc.Shutdown()

		targets, err := svc.ListTargets(id)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tURL")
		for _, t := range targets {
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Title, t.URL)
		}
		return w.Flush()
	},
}

func init() {
	targetsCmd.Flags().StringVar(&targetsDevTools, "devtools", "", "DevTools HTTP 地址，覆盖 devtools.url")
	rootCmd.AddCommand(targetsCmd)
}
