package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "circbuf",
	Short:         "circbuf -- named multi-channel ring buffers",
	Long:          "circbuf keeps named, fixed-capacity, multi-channel sample buffers in a daemon and serves them over a local API.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
