package disktest

import (
	"fmt"
	"io"
	"math"
	"os"
	"sync/atomic"
	"time"
)

// RoundOptions parameterises [RunRounds].
type RoundOptions struct {
	// Path of the target file or device.
	Path string

	// OpenEndpoint optionally replaces the OS-backed endpoint for the
	// given path; used to run against custom [rawio.Device]
	// implementations. May be nil.
	OpenEndpoint func(path string, read, write bool) *File

	Algorithm     Algorithm
	Seed          []byte
	InvertPattern bool
	Threads       int
	Quiet         QuietLevel

	// StartRound and Rounds bound the half-open round range
	// [StartRound, Rounds).
	StartRound uint64
	Rounds     uint64

	// DoWrite and DoVerify select the per-round passes. A round that
	// does both writes first and only verifies a successful write.
	DoWrite  bool
	DoVerify bool

	// Seek and MaxBytes select the byte region of every round.
	Seek     uint64
	MaxBytes uint64

	Abort  *atomic.Bool
	Out    io.Writer
	ErrOut io.Writer
}

// RunRounds executes the round range of opts: for every round an
// optional write pass followed by an optional verify pass over the
// same region. The first failing pass aborts all remaining rounds.
//
// Verify-only rounds all use StartRound as the round id, so the
// expected keystream does not depend on how often verification is
// repeated.
func RunRounds(opts RoundOptions) error {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	openEndpoint := opts.OpenEndpoint
	if openEndpoint == nil {
		openEndpoint = OpenFile
	}

	runPass := func(roundID uint64, write bool) error {
		dt := New(Config{
			Algorithm:     opts.Algorithm,
			Seed:          opts.Seed,
			RoundID:       roundID,
			InvertPattern: opts.InvertPattern,
			Threads:       opts.Threads,
			Quiet:         opts.Quiet,
			Abort:         opts.Abort,
			Out:           opts.Out,
			ErrOut:        opts.ErrOut,
		})
		defer dt.Close()

		file := openEndpoint(opts.Path, !write, write)

		var err error
		if write {
			_, err = dt.Write(file, opts.Seek, opts.MaxBytes)
		} else {
			_, err = dt.Verify(file, opts.Seek, opts.MaxBytes)
		}

		return err
	}

	for round := opts.StartRound; round < opts.Rounds; round++ {
		if opts.Rounds > 1 {
			end := fmt.Sprintf("%d)", opts.Rounds)
			if opts.Rounds == math.MaxUint64 {
				end = "inf]"
			}

			newline := ""
			if round > opts.StartRound {
				newline = "\n"
			}

			fmt.Fprintf(out, "%s[%s] Round %d in range [%d, %s ...\n",
				newline, time.Now().Format("2006-01-02 15:04"),
				round, opts.StartRound, end)
		}

		// Verify-only rounds pin the key material to the start round.
		roundID := round
		if !opts.DoWrite {
			roundID = opts.StartRound
		}

		if opts.DoWrite {
			if err := runPass(roundID, true); err != nil {
				return err
			}
		}

		if opts.DoVerify {
			if err := runPass(roundID, false); err != nil {
				return err
			}
		}
	}

	return nil
}
