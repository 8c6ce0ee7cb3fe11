package disktest

import (
	"fmt"

	"github.com/sixafter/nanoid"
	prng "github.com/sixafter/prng-chacha"
)

// seedAlphabet is the character set of generated seeds. Alphanumeric
// only, so seeds survive copy-paste through shells and labels.
const seedAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GeneratedSeedLength is the length of seeds generated when the user
// does not supply one.
const GeneratedSeedLength = 40

// GenSeedString returns a new random alphanumeric seed of the given
// length.
func GenSeedString(length int) (string, error) {
	gen, err := nanoid.NewGenerator(
		nanoid.WithAlphabet(seedAlphabet),
		nanoid.WithRandReader(prng.Reader),
	)
	if err != nil {
		return "", fmt.Errorf("seed generator: %w", err)
	}

	seed, err := gen.NewWithLength(length)
	if err != nil {
		return "", fmt.Errorf("seed generation: %w", err)
	}

	return seed.String(), nil
}
