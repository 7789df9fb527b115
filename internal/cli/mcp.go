package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lazypower/ember/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve memory tools over MCP stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		startBackground(ctx, a.engine)
		return mcpserver.Run(ctx, a.engine, VersionString(), os.Stdin, os.Stdout)
	},
}
