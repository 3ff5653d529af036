// compwatch is the compliance monitoring engine CLI. The run command
// starts the monitoring daemon; the remaining commands talk to it over
// the control socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/compwatch/compwatch/internal/config"
)

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "compwatch",
	Short: "Continuous compliance monitoring engine",
	Long: `compwatch continuously evaluates a workspace against six weighted
compliance categories, attempts automatic remediation, and halts
monitoring when an emergency condition fires.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultFileName,
		"Path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
