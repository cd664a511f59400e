// SPDX-License-Identifier: MIT

package main

import (
	"errors"

	"github.com/spf13/cobra"
)

// usageError marks invalid invocations; they exit 2 like flag errors.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "streamkeeper",
		Short:         "Adaptive stream resilience daemon",
		Long:          "streamkeeper keeps adaptive playback sessions alive across expired URLs and playback failures.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newClassifyCmd(),
		newVersionCmd(),
	)
	return root
}
