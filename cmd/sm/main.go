// sm is the CLI for managing multi-agent coding sessions.
package main

import (
	"os"

	"github.com/codetown/sm/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
