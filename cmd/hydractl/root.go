// Package hydractl is the mesh's command-line front door: a "serve"
// command that boots a Facade and its httpapi.Server, plus read-only
// introspection commands that poll a running instance's httpapi
// endpoints the same way the teacher's cmd_runn subcommands poll its
// REST API with a bearer token.
package hydractl

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	apiAddr  string
	apiToken string
	cfgPath  string
)

// RootCmd is the top-level hydractl command; main wires it to os.Args.
var RootCmd = &cobra.Command{
	Use:   "hydractl",
	Short: "Operate and inspect a hydra mesh instance",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:8080", "base URL of a running instance's httpapi server")
	RootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "bearer token for --api, when it requires one")
	RootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a JSON config file (serve only; falls back to HYDRA_* env vars)")

	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(healthCmd)
	RootCmd.AddCommand(routesCmd)
	RootCmd.AddCommand(metricsCmd)
}

// Execute runs hydractl, exiting the process with status 1 on error.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
