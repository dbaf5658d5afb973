package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "tutord",
	Short:         "Tutoring availability and booking engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}
