package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	cliruntime "github.com/tomasbasham/cli-runtime"
)

// shownError marks an error whose message the terminal view has already
// written, so it is not printed a second time on exit.
type shownError struct {
	err error
}

func (e *shownError) Error() string { return e.err.Error() }
func (e *shownError) Unwrap() error { return e.err }

// Run executes cmd and returns the process exit code. Errors are written to
// errOut unless they were already shown to the user.
func Run(cmd *cobra.Command, errOut io.Writer) int {
	err := cliruntime.RunNoErrOutput(cmd)
	if err == nil {
		return 0
	}

	var shown *shownError
	if !errors.As(err, &shown) {
		fmt.Fprintf(errOut, "Error: %v\n", err)
	}
	return 1
}
