package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/compwatch/compwatch/internal/control"
	"github.com/compwatch/compwatch/internal/types"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the full compliance report",
	Long: `Display the full compliance report for the running session: the
composite score, per-category breakdown, and the correction history.

Example:
  $ compwatch report
  $ compwatch report --json > report.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client := control.NewClient(cfg.SocketPath)
		resp, err := client.Send(control.CommandReport)
		if err != nil {
			return err
		}

		if asJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(resp.Report)
		}
		printReport(resp)
		return nil
	},
}

func init() {
	reportCmd.Flags().Bool("json", false, "Emit the report as JSON")
	rootCmd.AddCommand(reportCmd)
}

func printReport(resp *control.Response) {
	report := resp.Report
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== Compliance Report ==="))
	fmt.Printf("  Session:   %s\n", report.Status.SessionID)
	fmt.Printf("  Generated: %s\n", report.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("  Score:     %s (%s)\n",
		scoreColor(report.Status.OverallScore)(fmt.Sprintf("%.1f", report.Status.OverallScore)),
		report.Status.Level)
	fmt.Printf("  Trend:     %s\n\n", trendIcon(report.Status.Trend))

	if report.Metrics != nil {
		m := report.Metrics
		fmt.Printf("%s\n", yellow("Checks:"))
		fmt.Printf("  Total %d, passed %d, failed %d, critical violations %d\n\n",
			m.TotalChecks, m.PassedChecks, m.FailedChecks, m.CriticalViolations)
	}

	fmt.Printf("%s\n", yellow("Categories:"))
	if len(report.Categories) == 0 {
		fmt.Printf("  %s\n", gray("No results yet"))
	}
	for _, result := range report.Categories {
		fmt.Printf("  %-16s %s  %s\n",
			result.Category,
			scoreColor(result.Score)(fmt.Sprintf("%5.1f", result.Score)),
			gray(fmt.Sprintf("(%d violations, weight %.0f)", len(result.Violations), result.Category.Weight())))
		for _, v := range result.Violations {
			fmt.Printf("    %s %s\n", severityIcon(v.Severity), v.Description)
		}
	}
	fmt.Println()

	fmt.Printf("%s\n", yellow("Corrections:"))
	if len(report.Corrections) == 0 {
		fmt.Printf("  %s\n", gray("No corrections recorded"))
	}
	for _, record := range report.Corrections {
		icon := color.GreenString("✓")
		if !record.Success {
			icon = color.RedString("✗")
		}
		fmt.Printf("  %s [%s] %s %s\n", icon, record.CorrectionType, record.ActionTaken,
			gray(record.Timestamp.Format(time.Kitchen)))
	}
	fmt.Println()
}

func severityIcon(severity types.Severity) string {
	switch severity {
	case types.SeverityCritical:
		return color.RedString("●")
	case types.SeverityWarning:
		return color.YellowString("●")
	default:
		return color.New(color.FgHiBlack).Sprint("○")
	}
}
