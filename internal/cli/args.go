package cli

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/disktest/pkg/disktest"
)

var (
	errDeviceRequired = errors.New("a target file or device path is required")
	errSeedEmpty      = errors.New("seed must not be empty")
	errRoundRange     = errors.New("start round must be smaller than the round count")
)

// Args is one parsed invocation. Algorithm, Threads and Quiet may
// still be overridden by the config file for flags the user did not
// set; see applyConfig.
type Args struct {
	Device        string
	Write         bool
	Verify        bool
	Seed          string
	UserSeed      bool
	SeedFile      string
	Threads       int
	Algorithm     string
	InvertPattern bool
	Seek          uint64
	MaxBytes      uint64
	StartRound    uint64
	Rounds        uint64
	Quiet         int
	Force         bool
	ConfigPath    string
	ShowHelp      bool
	ShowVersion   bool

	// Flags the user set explicitly; config must not override those.
	algorithmSet bool
	threadsSet   bool
	quietSet     bool
}

const usageText = `Usage: disktest [OPTIONS] DEVICE

Write a reproducible pseudo-random stream to DEVICE and/or verify it.
DEVICE may be a regular file, a block device or a raw disk path.
Without -w or -v, a verify pass is run.

Options:
  -w, --write              Write the pseudo-random stream to the device
  -v, --verify             Verify the device against the stream
  -s, --seed SEED          The seed for the random stream (generated if absent)
      --seed-file FILE     Also store a generated seed into FILE
  -j, --threads N          Number of generator threads (0 = all CPUs)
  -A, --algorithm ALG      CHACHA8, CHACHA12, CHACHA20 or CRC (default CHACHA20)
  -i, --invert-pattern     Invert every stream byte
      --seek BYTES         Start position (supports k/m/g/t suffixes)
  -b, --bytes BYTES        Number of bytes to process (default: whole device)
  -R, --rounds N           Number of rounds to run (0 = endless)
      --start-round N      First round index
  -q, --quiet              Quiet level; repeat to get quieter
  -f, --force              Do not ask for confirmation before writing
  -c, --config FILE        Use the specified config file
  -h, --help               Show this help
      --version            Show the version
`

// parseArgs parses argv into an [Args].
func parseArgs(argv []string) (*Args, error) {
	flags := flag.NewFlagSet("disktest", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	flags.Usage = func() {}

	write := flags.BoolP("write", "w", false, "")
	verify := flags.BoolP("verify", "v", false, "")
	seed := flags.StringP("seed", "s", "", "")
	seedFile := flags.String("seed-file", "", "")
	threads := flags.IntP("threads", "j", 0, "")
	algorithm := flags.StringP("algorithm", "A", "CHACHA20", "")
	invert := flags.BoolP("invert-pattern", "i", false, "")
	seek := flags.String("seek", "0", "")
	maxBytes := flags.StringP("bytes", "b", "", "")
	rounds := flags.Uint64P("rounds", "R", 1, "")
	startRound := flags.Uint64("start-round", 0, "")
	quiet := flags.CountP("quiet", "q", "")
	force := flags.BoolP("force", "f", false, "")
	configPath := flags.StringP("config", "c", "", "")
	help := flags.BoolP("help", "h", false, "")
	version := flags.Bool("version", false, "")

	if err := flags.Parse(argv[1:]); err != nil {
		return nil, err
	}

	args := &Args{
		Write:         *write,
		Verify:        *verify,
		SeedFile:      *seedFile,
		Threads:       *threads,
		Algorithm:     *algorithm,
		InvertPattern: *invert,
		StartRound:    *startRound,
		Rounds:        *rounds,
		Quiet:         *quiet,
		Force:         *force,
		ConfigPath:    *configPath,
		ShowHelp:      *help,
		ShowVersion:   *version,
		algorithmSet:  flags.Changed("algorithm"),
		threadsSet:    flags.Changed("threads"),
		quietSet:      flags.Changed("quiet"),
	}

	if args.ShowHelp || args.ShowVersion {
		return args, nil
	}

	// A plain `disktest DEVICE` is a verify run.
	if !args.Write && !args.Verify {
		args.Verify = true
	}

	rest := flags.Args()
	if len(rest) == 0 {
		return nil, errDeviceRequired
	}

	if len(rest) > 1 {
		return nil, fmt.Errorf("unexpected trailing arguments: %s", strings.Join(rest[1:], " "))
	}

	args.Device = rest[0]

	if flags.Changed("seed") {
		if *seed == "" {
			return nil, errSeedEmpty
		}

		args.Seed = *seed
		args.UserSeed = true
	}

	var err error

	args.Seek, err = disktest.Parsebytes(*seek)
	if err != nil {
		return nil, fmt.Errorf("invalid --seek value: %w", err)
	}

	args.MaxBytes = disktest.Unlimited

	if flags.Changed("bytes") {
		args.MaxBytes, err = disktest.Parsebytes(*maxBytes)
		if err != nil {
			return nil, fmt.Errorf("invalid --bytes value: %w", err)
		}
	}

	if args.Rounds == 0 {
		args.Rounds = math.MaxUint64
	}

	if args.StartRound >= args.Rounds {
		return nil, errRoundRange
	}

	return args, nil
}

// applyConfig fills config-file values into the flags the user left at
// their defaults and clamps the quiet level.
func (a *Args) applyConfig(cfg Config) {
	if !a.algorithmSet && cfg.Algorithm != "" {
		a.Algorithm = cfg.Algorithm
	}

	if !a.threadsSet && cfg.Threads != 0 {
		a.Threads = cfg.Threads
	}

	if !a.quietSet && cfg.Quiet != 0 {
		a.Quiet = cfg.Quiet
	}

	if a.Quiet > int(disktest.QuietNoWarn) {
		a.Quiet = int(disktest.QuietNoWarn)
	}
}
