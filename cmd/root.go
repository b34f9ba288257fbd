package cmd

import (
	"fmt"
	"os"

	"github.com/aspenkv/aspen/cmd/bench"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "aspen",
		Short: "embedded concurrent key-value engine",
		Long: fmt.Sprintf(`aspen (v%s)

An embedded, in-process key-value engine for Go with an
epoch-protected resizable hash index and a budgeted record
log that spills cold data to a storage device.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of aspen",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("aspen v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
