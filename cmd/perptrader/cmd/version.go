package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  `Display the current version of the perptrader CLI.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("perptrader version %s\n", version)
		fmt.Println("Risk and position management for leveraged perpetual futures")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
