// Command namegraph materializes a naming-system entity graph from contract
// event files.
package main

import (
	"os"

	"github.com/roach88/namegraph/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
