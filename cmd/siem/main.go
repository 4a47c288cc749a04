// Command siem runs the SIEM event pipeline stages. Each stage is an
// independent long-running worker sharing nothing but the broker and the
// column store; deployments run one subcommand per process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:  "siem [command]",
		Long: "SIEM streaming event pipeline workers",
	}

	root.AddCommand(
		newNormalizerCmd(),
		newFilterCmd(),
		newWriterCmd(),
		newStreamCorrelatorCmd(),
		newBatchCorrelatorCmd(),
		newAlertsAggregatorCmd(),
		newMigrateCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
