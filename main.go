// Command reqrep runs request/reply servers and talks to them.
package main

import (
	"github.com/reqrep/reqrep/internal/cli"
	"github.com/reqrep/reqrep/internal/client"
	"github.com/reqrep/reqrep/internal/daemon"
)

func init() {
	cli.AddSubcommand(daemon.DaemonCmd)
	cli.AddSubcommand(client.StatusCmd)
	cli.AddSubcommand(client.RequestCmd)
	cli.AddSubcommand(client.ConfigcheckCmd)
	cli.AddSubcommand(client.VersionCmd)
}

func main() {
	cli.Run()
}
