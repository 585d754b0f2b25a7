package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "timerctl",
		Short:         "Drive and observe the local timer session",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("timer-type", "t", "main", "Timer slot (main, quick)")
	rootCmd.PersistentFlags().String("activity", "", "Live activity id")
	rootCmd.PersistentFlags().Bool("verbose", false, "Log debug output to stderr")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(controlCmd("pause", "Pause the running session"))
	rootCmd.AddCommand(controlCmd("resume", "Resume a paused session"))
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(completeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
