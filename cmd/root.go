package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/si3792/multiagent-distributed-locking/cmd/sim"
	"github.com/si3792/multiagent-distributed-locking/cmd/util"
)

const (
	Version = "1.0.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dlock",
		Short: "distributed locking for multi-agent systems",
		Long: fmt.Sprintf(`dlock (v%s)

A library and toolbox for distributed mutual exclusion in asynchronous,
message-passing multi-agent systems, implementing the Ricart-Agrawala and
Suzuki-Kasami algorithms with failure-aware extensions.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dlock",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dlock v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(sim.SimCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("token serializer to use (json, gob, binary)"))
	key = "log-level"
	RootCmd.PersistentFlags().String(key, "warn", util.WrapString("log level (debug, info, warn, error)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
