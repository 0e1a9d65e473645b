// Command lecturectl runs the lecture pipeline from a terminal and offers
// small tools for inspecting model output.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRoot().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "lecturectl",
		Short:         "Generate lecture packages and inspect model output",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		generateCmd(),
		videoCmd(),
		normalizeCmd(),
		wavCmd(),
		extractCmd(),
	)
	return root
}
