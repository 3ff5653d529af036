package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/compwatch/compwatch/internal/control"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running monitor gracefully",
	Long: `Stop the monitoring daemon.

The daemon finishes its in-flight cycle, writes a final snapshot, and
marks the session COMPLETED before the socket closes.

Example:
  $ compwatch stop
  ✓ Monitoring stopped (session 5f2a..., 42 cycles, final score 93.6 EXCELLENT)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		client := control.NewClient(cfg.SocketPath)
		client.SetTimeout(timeout)
		resp, err := client.Send(control.CommandStop)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		if resp.Metrics != nil {
			fmt.Printf("%s Monitoring stopped (session %s, %d cycles, final score %.1f %s)\n",
				green("✓"), resp.Status.SessionID, resp.Status.Cycle,
				resp.Metrics.OverallScore, resp.Metrics.ComplianceLevel)
		} else {
			fmt.Printf("%s Monitoring stopped (session %s, no completed cycles)\n",
				green("✓"), resp.Status.SessionID)
		}
		return nil
	},
}

func init() {
	stopCmd.Flags().Duration("timeout", 60*time.Second, "How long to wait for the in-flight cycle")
	rootCmd.AddCommand(stopCmd)
}
