package main

import (
	"os"

	"github.com/bowserlabs/bowsergen/cmd/bowsergen/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
