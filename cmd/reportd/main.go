package main

import (
	"fmt"
	"os"

	"github.com/randalmurphal/reportgraph/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "reportd:", err)
		os.Exit(1)
	}
}
