// Package main is the entry point for the semlayer CLI binary.
package main

import (
	"os"

	cli "semlayer/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
