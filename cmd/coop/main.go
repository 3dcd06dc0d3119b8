// Command coop is a terminal-session sidecar: it spawns a coding-agent CLI
// under a PTY, classifies its state, and exposes that state plus input
// control over HTTP, WebSocket, and gRPC. See internal/cmd for the flag
// surface and startup sequence.
package main

import (
	"fmt"
	"os"

	"github.com/coopdev/coop/internal/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
