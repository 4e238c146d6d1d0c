package main

import (
	"fmt"
	"os"

	"github.com/bodega-app/bodega/cli"
)

func main() {
	err := cli.Root().Invoke().WithOS().Run()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
