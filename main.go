package main

import (
	"os"

	"github.com/lupppig/dbu/cmd"
)

const (
	EXIT_SUCCESS = iota
	EXIT_FAILURE
)

func main() {
	// Operation failures are reported by the commands themselves; only
	// usage errors reach here.
	if err := cmd.Execute(); err != nil {
		os.Exit(EXIT_FAILURE)
	}
	os.Exit(EXIT_SUCCESS)
}
