package password

import (
	"crypto/rand"
	"math/big"
)

const (
	upperChars     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars     = "abcdefghijklmnopqrstuvwxyz"
	digitChars     = "0123456789"
	generatorSyms  = "!@#$%^&*()"
	generatorChars = upperChars + lowerChars + digitChars + generatorSyms

	// GeneratedLength is the length of passwords returned by GenerateSecure.
	GeneratedLength = 16
)

// GenerateSecure returns a random 16 character password that always passes
// DefaultPolicy. The seeded class characters are shuffled across the whole
// buffer.
func GenerateSecure() (string, error) {
	buf := make([]byte, GeneratedLength)

	seeds := []string{upperChars, lowerChars, digitChars, generatorSyms}
	for i, set := range seeds {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}
	for i := len(seeds); i < len(buf); i++ {
		c, err := pick(generatorChars)
		if err != nil {
			return "", err
		}
		buf[i] = c
	}

	for i := len(buf) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}

	return string(buf), nil
}

func pick(set string) (byte, error) {
	n, err := randInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[n], nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
