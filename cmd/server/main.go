// Command server runs the blogcore backend. See internal/cli for the
// available subcommands.
package main

import (
	"fmt"
	"os"

	"github.com/sakif/blogcore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
