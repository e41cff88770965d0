package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "deepresearch",
		Short:         "Plan, search and synthesize cited research reports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./config/config.* or ./config.*)")

	root.AddCommand(
		runCMD(&cfgPath),
		serveCMD(&cfgPath),
		telegramCMD(&cfgPath),
		runsCMD(&cfgPath),
	)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
