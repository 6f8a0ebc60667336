package main

import (
	"os"

	"github.com/antoniostano/vistaar/cmd/vistaar/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
