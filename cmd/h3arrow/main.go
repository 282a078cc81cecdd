package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/VanDung-dev/H3Arrow-Engine/features"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "H3Arrow-Engine"
)

// Root is the main command.
var Root = &cobra.Command{
	Use:   "h3arrow",
	Short: "Vectorized H3 kernels over Arrow columns.",
	Long: `h3arrow serves H3 cell kernels (validation, hierarchy, geometry and
grid traversal) over Arrow IPC, on a length-prefixed TCP protocol and on
ZeroMQ.

Configuration can be given with flags, a config file (--config), or
environment variables named H3ARROW_<SECTION>_<KEY>, for example
H3ARROW_SERVER_ADDRESS or H3ARROW_AUTH_TOKEN.`,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number and compiled-in features",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("%s v%s\n", Name, Version)
		cmd.Printf("features: %v\n", features.List())
	},
}

func init() {
	Root.AddCommand(versionCmd)
	Root.AddCommand(serveCmd)
}

func main() {
	if err := Root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
