// Package main is the entry point for the mesh daemon.
package main

import (
	"fmt"
	"os"

	"github.com/permissionlesstech/meshcore/cmd/meshcored/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
