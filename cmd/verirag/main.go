// Package main provides the entry point for the verirag CLI.
package main

import (
	"os"

	"github.com/Aman-CERP/verirag/cmd/verirag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
