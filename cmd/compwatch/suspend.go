package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/compwatch/compwatch/internal/control"
)

var suspendCmd = &cobra.Command{
	Use:   "suspend",
	Short: "Pause monitoring cycles without ending the session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := control.NewClient(cfg.SocketPath)
		resp, err := client.Send(control.CommandSuspend)
		if err != nil {
			return err
		}
		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s Monitoring suspended (session %s)\n", yellow("⏸"), resp.Status.SessionID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(suspendCmd)
}
