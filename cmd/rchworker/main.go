package main

import (
	"fmt"
	"os"

	"github.com/rch-lane/xcode-worker/internal/version"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "rchworker",
		Short:   "Dedicated macOS Xcode build/test worker",
		Version: version.Version,
	}

	rootCmd.PersistentFlags().String("config-dir", ".", "Directory to search for an rchworker config file")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Force JSON logging regardless of TTY detection")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug-level logging")

	rootCmd.AddCommand(
		rpcCmd(),
		gcCmd(),
		keygenCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
