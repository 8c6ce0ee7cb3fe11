// Package cli implements the disktest command line front end.
//
// The core engine lives in pkg/disktest; this package only parses
// arguments and configuration, wires the abort signal into the shared
// abort flag and prints the seed bookkeeping around a run.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	atomicfile "github.com/natefinch/atomic"

	"github.com/calvinalkan/disktest/pkg/disktest"
)

// Version is the disktest release version.
const Version = "1.0.0"

// Run is the main entry point. Returns the process exit code.
// sigCh may be nil if signal handling is not needed (e.g. in tests).
func Run(_ io.Reader, out, errOut io.Writer, argv []string, env map[string]string, sigCh <-chan os.Signal) int {
	args, err := parseArgs(argv)
	if err != nil {
		fprintln(errOut, "error:", err)
		fprintln(errOut, "")
		fprint(errOut, usageText)

		return 1
	}

	if args.ShowHelp {
		fprint(out, usageText)

		return 0
	}

	if args.ShowVersion {
		fprintln(out, "disktest", Version)

		return 0
	}

	workDir, err := os.Getwd()
	if err != nil {
		workDir = "."
	}

	cfg, err := loadConfig(workDir, args.ConfigPath, env)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	args.applyConfig(cfg)

	algorithm, err := disktest.ParseAlgorithm(args.Algorithm)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	quiet := disktest.QuietLevel(args.Quiet)

	// Resolve the seed, generating one when the user supplied none.
	seed := args.Seed
	if !args.UserSeed {
		seed, err = disktest.GenSeedString(disktest.GeneratedSeedLength)
		if err != nil {
			fprintln(errOut, "error:", err)

			return 1
		}

		if err := storeSeedFile(args.SeedFile, seed); err != nil {
			fprintln(errOut, "error:", err)

			return 1
		}

		if quiet < disktest.QuietNoInfo {
			printGeneratedSeed(out, seed, true)
		}
	}

	if args.Write && !args.Force {
		if err := confirmWrite(args.Device, errOut); err != nil {
			fprintln(errOut, "error:", err)

			return 1
		}
	}

	// The core polls this flag between chunks; the signal watcher is
	// the only writer.
	abort := &atomic.Bool{}

	if sigCh != nil {
		go func() {
			<-sigCh
			abort.Store(true)
		}()
	}

	err = disktest.RunRounds(disktest.RoundOptions{
		Path:          args.Device,
		Algorithm:     algorithm,
		Seed:          []byte(seed),
		InvertPattern: args.InvertPattern,
		Threads:       args.Threads,
		Quiet:         quiet,
		StartRound:    args.StartRound,
		Rounds:        args.Rounds,
		DoWrite:       args.Write,
		DoVerify:      args.Verify,
		Seek:          args.Seek,
		MaxBytes:      args.MaxBytes,
		Abort:         abort,
		Out:           out,
		ErrOut:        errOut,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	if !args.UserSeed && quiet < disktest.QuietNoInfo {
		printGeneratedSeed(out, seed, false)
	}

	if quiet == disktest.QuietNormal {
		fprintln(out, "Success!")
	}

	return 0
}

// printGeneratedSeed reminds the user of the generated seed. Without
// the seed the written data can never be verified again.
func printGeneratedSeed(out io.Writer, seed string, before bool) {
	tense := "is"
	if !before {
		tense = "was"
	}

	fprintln(out, "The generated seed "+tense+":", seed)
	fprintln(out, "Use -s", seed, "to verify this data later.")
}

// storeSeedFile writes the generated seed to path, atomically so a
// crash never leaves a torn seed file behind. A no-op for an empty
// path.
func storeSeedFile(path, seed string) error {
	if path == "" {
		return nil
	}

	if err := atomicfile.WriteFile(path, strings.NewReader(seed+"\n")); err != nil {
		return fmt.Errorf("cannot write seed file %s: %w", path, err)
	}

	return nil
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func fprint(w io.Writer, a ...any) {
	_, _ = fmt.Fprint(w, a...)
}
