package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/fleetmon"
	"github.com/loykin/fleetmon/pkg/client"
)

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	statusFlags := &StatusFlags{}
	cycleFlags := &CycleFlags{}

	root := &cobra.Command{
		Use:           "fleetmon",
		Short:         "Game client fleet monitor",
		Long:          "fleetmon watches the game client processes on this machine and reconciles them against the shared record store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&globalFlags.ConfigPath, "config", "c", "fleetmon.toml", "path to TOML config file")

	root.AddCommand(
		createRunCommand(globalFlags),
		createCycleCommand(globalFlags, cycleFlags),
		createReportCommand(globalFlags),
		createStatusCommand(statusFlags),
	)
	return root
}

func loadMonitor(f *GlobalFlags) (*fleetmon.Monitor, error) {
	cfg, err := fleetmon.LoadConfig(f.ConfigPath)
	if err != nil {
		return nil, err
	}
	return fleetmon.New(cfg)
}

func createRunCommand(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the monitor daemon (scheduled cycles + optional HTTP API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadMonitor(f)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			if err := m.Start(); err != nil {
				return err
			}
			m.Logger().Info("fleetmon daemon started", "config", f.ConfigPath)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			m.Logger().Info("shutting down", "signal", sig.String())

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return m.Stop(ctx)
		},
	}
}

func createCycleCommand(f *GlobalFlags, cf *CycleFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one reconcile cycle and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cf.APIUrl != "" {
				return cycleViaAPI(cf)
			}
			m, err := loadMonitor(f)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()

			res, err := m.RunCycle(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(res)
			return nil
		},
	}
	cmd.Flags().StringVar(&cf.APIUrl, "api-url", "", "daemon API base URL (run the cycle via a running daemon)")
	cmd.Flags().DurationVar(&cf.APITimeout, "api-timeout", 5*time.Minute, "daemon API request timeout")
	return cmd
}

func cycleViaAPI(cf *CycleFlags) error {
	c := client.New(client.Config{BaseURL: cf.APIUrl, Timeout: cf.APITimeout})
	ctx := context.Background()
	if !c.IsReachable(ctx) {
		return fmt.Errorf("daemon not reachable at %s - start it first with 'fleetmon run'", cf.APIUrl)
	}
	res, err := c.TriggerCycle(ctx)
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

func createReportCommand(f *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Send a one-shot fleet status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadMonitor(f)
			if err != nil {
				return err
			}
			defer func() { _ = m.Close() }()
			return m.StatusSummary(cmd.Context())
		},
	}
}

func createStatusCommand(sf *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running daemon's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiURL := sf.APIUrl
			if apiURL == "" {
				apiURL = client.DefaultConfig().BaseURL
			}
			c := client.New(client.Config{BaseURL: apiURL, Timeout: sf.APITimeout})
			ctx := context.Background()
			if !c.IsReachable(ctx) {
				return fmt.Errorf("daemon not reachable at %s - start it first with 'fleetmon run'", apiURL)
			}
			st, err := c.Status(ctx)
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		},
	}
	cmd.Flags().StringVar(&sf.APIUrl, "api-url", "", "daemon API base URL")
	cmd.Flags().DurationVar(&sf.APITimeout, "api-timeout", 10*time.Second, "daemon API request timeout")
	return cmd
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
