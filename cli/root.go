// Package cli contains the bodega command tree.
package cli

import (
	"fmt"

	"github.com/coder/serpent"
)

// Version is overridden at build time via -ldflags.
var Version = "devel"

func Root() *serpent.Command {
	cmd := &serpent.Command{
		Use:   "bodega",
		Short: "Order notification and payment backend",
		Handler: func(inv *serpent.Invocation) error {
			return inv.Command.HelpHandler(inv)
		},
		HelpHandler: serpent.DefaultHelpFn(),
		Children: []*serpent.Command{
			server(),
			version(),
		},
	}
	return cmd
}

func version() *serpent.Command {
	return &serpent.Command{
		Use:   "version",
		Short: "Print the bodega version",
		Handler: func(inv *serpent.Invocation) error {
			_, _ = fmt.Fprintln(inv.Stdout, Version)
			return nil
		},
	}
}
