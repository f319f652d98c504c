// The tomoscan command runs tomography scans against a simulated beamline
// and reads their session databases back.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use: "tomoscan",
	Short: "Tomoscan runs tomography scans and reads back their session " +
		"databases.",
	Long: `Tomoscan runs tomography scans against a simulated beamline. ` +
		`Scans come from command-line flags or from an HCL scan file, and ` +
		`every run lands in a session database that the replay command ` +
		`reads back.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
