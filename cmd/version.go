package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/respwire/internal/meta"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build information",
	Run: func(cmd *cobra.Command, args []string) {
		info := meta.GetInfo()

		version := info.Version
		if version == "" {
			version = "dev"
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "respwire %s\n", version)
		fmt.Fprintf(out, "  build:      %s (%s)\n", info.Build, info.Branch)
		fmt.Fprintf(out, "  built at:   %s\n", info.BuildTime)
		fmt.Fprintf(out, "  go:         %s %s\n", info.GoVersion, info.GoTag)
		fmt.Fprintf(out, "  platform:   %s\n", info.Platform)
	},
}
