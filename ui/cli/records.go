// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/juju/loggo"
	"github.com/juju/pubsub/v2"
	"github.com/spf13/cobra"
	"github.com/stagehand-ops/stagehand/internal/config"
	"github.com/stagehand-ops/stagehand/internal/dashboard"
	"github.com/stagehand-ops/stagehand/internal/i18n"
	"github.com/stagehand-ops/stagehand/internal/jobs"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the instances in the record store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			list, err := store.ListInstances(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(a.out, i18n.T("list.empty"))
				return nil
			}
			w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tZONE\tMACHINE\tEXTERNAL IP\tSTATUS\tUPDATED")
			for _, inst := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					inst.Name, inst.Zone, inst.MachineType, inst.ExternalIP, inst.Status, humanize.Time(inst.UpdatedAt))
			}
			return w.Flush()
		},
	}
}

func newDashboardCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Serve the web dashboard",
		Long: `Serves the browser UI and JSON API. Create, update and backup started
from the dashboard run this binary as a child process; their output is
streamed to the browser over a WebSocket.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			hub := pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
				Logger: loggo.GetLogger("stagehand.dashboard"),
			})
			mgr := jobs.NewManager(store, hub)
			if a.configPath != "" {
				mgr.BaseArgs = []string{"--config", a.configPath}
			}
			defer mgr.Close()

			fmt.Fprintln(a.out, i18n.T("dashboard.listening", a.cfg.Dashboard.Listen))
			return dashboard.New(store, mgr, hub).ListenAndServe(ctx, a.cfg.Dashboard.Listen)
		},
	}
	cmd.Flags().String("listen", "", "Address to listen on, e.g. 127.0.0.1:8080")
	config.BindFlag(cmd, "listen", "dashboard.listen")
	return cmd
}

