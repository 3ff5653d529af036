package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/compwatch/compwatch/internal/control"
	"github.com/compwatch/compwatch/internal/monitor"
	"github.com/compwatch/compwatch/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running session's state and latest score",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := control.NewClient(cfg.SocketPath)
		resp, err := client.Send(control.CommandStatus)
		if err != nil {
			return err
		}
		printStatus(resp.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func printStatus(status *monitor.Status) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Printf("\n%s\n\n", cyan("=== Compliance Monitor Status ==="))

	fmt.Printf("  Session:  %s\n", status.SessionID)
	fmt.Printf("  State:    %s\n", stateColor(status.State)(string(status.State)))
	if status.HaltTrigger != "" {
		red := color.New(color.FgRed).SprintFunc()
		fmt.Printf("  Trigger:  %s\n", red(string(status.HaltTrigger)))
	}
	fmt.Printf("  Uptime:   %v\n", status.Uptime.Round(time.Second))
	fmt.Printf("  Cycles:   %d\n", status.Cycle)
	fmt.Printf("  Score:    %s (%s)\n",
		scoreColor(status.OverallScore)(fmt.Sprintf("%.1f", status.OverallScore)),
		status.Level)
	fmt.Printf("  Trend:    %s\n\n", trendIcon(status.Trend))
}

func stateColor(state types.SessionState) func(...interface{}) string {
	switch state {
	case types.StateActive, types.StateCompleted:
		return color.New(color.FgGreen).SprintFunc()
	case types.StateSuspended:
		return color.New(color.FgYellow).SprintFunc()
	case types.StateEmergencyHalt:
		return color.New(color.FgRed, color.Bold).SprintFunc()
	default:
		return color.New(color.FgCyan).SprintFunc()
	}
}

func scoreColor(score float64) func(...interface{}) string {
	switch {
	case score >= 90:
		return color.New(color.FgGreen).SprintFunc()
	case score >= 70:
		return color.New(color.FgYellow).SprintFunc()
	default:
		return color.New(color.FgRed).SprintFunc()
	}
}

func trendIcon(trend types.TrendDirection) string {
	switch trend {
	case types.TrendImproving:
		return color.GreenString("↑ improving")
	case types.TrendDeclining:
		return color.RedString("↓ declining")
	default:
		return "→ stable"
	}
}
