package main

import (
	"fmt"
	"os"

	"github.com/mickamy/queryiq/internal/cli"
)

var version = "dev"

func main() {
	if err := cli.Execute(version); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
