// cmd/loyaltyctl/main.go
package main

import (
	"fmt"
	"os"

	"loyalnexus/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
