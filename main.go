// Command hydractl boots and inspects a hydra mesh instance. See
// cmd/hydractl for the subcommands (serve, health, routes, metrics).
package main

import "github.com/hydra-mesh/hydra/cmd/hydractl"

func main() {
	hydractl.Execute()
}
