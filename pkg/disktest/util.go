package disktest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Binary and decimal byte-size factors.
const (
	kib uint64 = 1024
	mib uint64 = 1024 * kib
	gib uint64 = 1024 * mib
	tib uint64 = 1024 * gib
	pib uint64 = 1024 * tib
	eib uint64 = 1024 * pib

	kb uint64 = 1000
	mb uint64 = 1000 * kb
	gb uint64 = 1000 * mb
	tb uint64 = 1000 * gb
	pb uint64 = 1000 * tb
	eb uint64 = 1000 * pb
)

// Prettybytes formats a byte count in binary and/or decimal units.
// With exact set, the precise byte count is appended as well.
func Prettybytes(count uint64, binary, decimal, exact bool) string {
	if !binary && !decimal {
		return ""
	}

	if count < kib {
		return fmt.Sprintf("%d bytes", count)
	}

	var sb strings.Builder

	if binary {
		switch {
		case count >= eib:
			fmt.Fprintf(&sb, "%.4f EiB", float64(count/tib)/float64(mib))
		case count >= pib:
			fmt.Fprintf(&sb, "%.4f PiB", float64(count/gib)/float64(mib))
		case count >= tib:
			fmt.Fprintf(&sb, "%.4f TiB", float64(count/mib)/float64(mib))
		case count >= gib:
			fmt.Fprintf(&sb, "%.2f GiB", float64(count/mib)/float64(kib))
		case count >= mib:
			fmt.Fprintf(&sb, "%.1f MiB", float64(count)/float64(mib))
		default:
			fmt.Fprintf(&sb, "%.1f kiB", float64(count)/float64(kib))
		}
	}

	paren := sb.Len() > 0 && (decimal || exact)
	if paren {
		sb.WriteString(" (")
	}

	if decimal {
		switch {
		case count >= eb:
			fmt.Fprintf(&sb, "%.4f EB", float64(count/tb)/float64(mb))
		case count >= pb:
			fmt.Fprintf(&sb, "%.4f PB", float64(count/gb)/float64(mb))
		case count >= tb:
			fmt.Fprintf(&sb, "%.4f TB", float64(count/mb)/float64(mb))
		case count >= gb:
			fmt.Fprintf(&sb, "%.2f GB", float64(count/mb)/float64(kb))
		case count >= mb:
			fmt.Fprintf(&sb, "%.1f MB", float64(count)/float64(mb))
		default:
			fmt.Fprintf(&sb, "%.1f kB", float64(count)/float64(kb))
		}
	}

	if exact {
		if decimal {
			sb.WriteString(", ")
		}

		fmt.Fprintf(&sb, "%d bytes", count)
	}

	if paren {
		sb.WriteString(")")
	}

	return sb.String()
}

// suffixFactors maps size suffixes to their factors, longest suffixes
// first so that "kib" is not consumed as "b" plus junk.
var suffixFactors = []struct {
	suffix string
	factor uint64
}{
	{"eib", eib}, {"pib", pib}, {"tib", tib}, {"gib", gib}, {"mib", mib}, {"kib", kib},
	{"eb", eb}, {"pb", pb}, {"tb", tb}, {"gb", gb}, {"mb", mb}, {"kb", kb},
	{"e", eib}, {"p", pib}, {"t", tib}, {"g", gib}, {"m", mib}, {"k", kib},
}

// Parsebytes parses a human byte-count string such as "100 MiB",
// "1.5g" or "4096". Binary suffixes (k, kib) use powers of 1024,
// decimal ones (kb) powers of 1000. Fractional values are accepted as
// long as the product fits.
func Parsebytes(s string) (uint64, error) {
	str := strings.ToLower(strings.TrimSpace(s))

	for _, sf := range suffixFactors {
		value, found := strings.CutSuffix(str, sf.suffix)
		if !found {
			continue
		}

		value = strings.TrimSpace(value)

		if n, err := strconv.ParseUint(value, 10, 64); err == nil {
			if n != 0 && n > math.MaxUint64/sf.factor {
				return 0, fmt.Errorf("byte count %q overflows", s)
			}

			return n * sf.factor, nil
		}

		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 {
			return 0, fmt.Errorf("cannot parse byte count: %q", s)
		}

		if math.Log2(f)+math.Log2(float64(sf.factor)) >= 61.0 {
			return 0, fmt.Errorf("byte count %q overflows", s)
		}

		return uint64(math.Round(f * float64(sf.factor))), nil
	}

	n, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse byte count: %q", s)
	}

	return n, nil
}

// fold XORs the input into an output of the requested size, byte-wise
// round-robin. Used to squeeze arbitrary-length seeds into the fixed
// key sizes the generators need.
func fold(input []byte, outputSize int) []byte {
	output := make([]byte, outputSize)

	if outputSize > 0 {
		for i, b := range input {
			output[i%outputSize] ^= b
		}
	}

	return output
}

// formatDuration renders d as hh:mm:ss, capped at 99:59:59 with a ">"
// marker beyond the cap.
func formatDuration(d time.Duration) string {
	secs := uint64(d.Seconds())

	const cap99 = 99*60*60 + 59*60 + 59

	prefix := ""
	if secs > cap99 {
		prefix = ">"
		secs = cap99
	}

	h := secs / 3600
	m := secs % 3600 / 60
	s := secs % 60

	return fmt.Sprintf("%s%02d:%02d:%02d", prefix, h, m, s)
}
