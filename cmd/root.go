package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/respwire/cmd/gen"
)

var RootCmd = &cobra.Command{
	Use:   "respwire",
	Short: "RESP2/RESP3 wire tools",
	Long: `RESP2/RESP3 wire tools: a small RESP server for exercising clients, and a decoder
for inspecting captured RESP traffic.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(InspectCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
