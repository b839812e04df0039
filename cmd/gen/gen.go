package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for respwire",
	Long:  `Generate documentation for respwire, such as man pages`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
