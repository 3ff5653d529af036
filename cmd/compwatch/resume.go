package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/compwatch/compwatch/internal/control"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a suspended monitoring session",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := control.NewClient(cfg.SocketPath)
		resp, err := client.Send(control.CommandResume)
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Monitoring resumed (session %s)\n", green("▶"), resp.Status.SessionID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}
