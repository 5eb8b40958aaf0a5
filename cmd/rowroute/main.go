// Command rowroute routes captured row changes into outgoing batches.
package main

import (
	"context"
	"os"

	"github.com/roach88/rowroute/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
