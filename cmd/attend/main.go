// Command attend attributes browser attention to pages and reports it to a
// native messaging consumer.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/attend/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
