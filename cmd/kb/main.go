// Package main provides the entry point for the kb CLI.
package main

import (
	"os"

	"github.com/localkb/localkb/cmd/kb/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
