package main

import (
	"fmt"
	"os"

	"sorter/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sortctl:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
