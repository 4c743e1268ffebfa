// Command brokerd runs the remote-support broker.
package main

import (
	"fmt"
	"os"

	"github.com/onlitec/remotebroker/cmd/brokerd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
