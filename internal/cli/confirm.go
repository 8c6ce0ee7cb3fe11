package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/peterh/liner"
)

var errNotConfirmed = errors.New("aborted, not confirmed")

// confirmWrite asks the user to confirm a destructive write pass.
//
// Returns nil when the user answered yes, errNotConfirmed otherwise.
// Skipped entirely by the caller when --force is given.
func confirmWrite(device string, errOut io.Writer) error {
	fmt.Fprintf(errOut, "WARNING: All data on %s will be overwritten and lost.\n", device)

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	answer, err := line.Prompt("Continue? [y/N] ")
	if err != nil {
		if errors.Is(err, liner.ErrPromptAborted) {
			return errNotConfirmed
		}

		return err
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	default:
		return errNotConfirmed
	}
}
