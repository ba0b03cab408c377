// Command testlab creates tracked QA test data and purges it by run.
package main

import (
	"fmt"
	"os"

	"github.com/Freedom-Code-Compliance/testlab-sub000/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
