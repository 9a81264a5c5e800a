package main

import (
	"fmt"
	"os"

	"github.com/opentargets/otter/pkg/errs"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == workerArg {
		if err := runWorker(); err != nil {
			fmt.Fprintf(os.Stderr, "otter worker: %v\n", err)
			os.Exit(5)
		}
		return
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "otter: %v\n", err)
		os.Exit(errs.ExitCode(err))
	}
}
