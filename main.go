// Package main is the entry point for the meshtel node and tools.
package main

import (
	"os"

	"firestige.xyz/meshtel/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
