package primes

import (
	"fmt"
	"io"
	"math/big"

	berrors "github.com/native-crypto/genrsa/errors"
)

var (
	one   = big.NewInt(1)
	two   = big.NewInt(2)
	three = big.NewInt(3)
)

// Candidate draws a random odd integer of exactly bits bits from random.
//
// ceil(bits/8) bytes are read as a big-endian integer which is shifted right
// until it fits in bits bits. The top bit is then set, and 1 and then 2 are
// added as needed so that the two low bits are set. The result is always
// congruent to 3 mod 4, at least 3, and never carries past bits bits.
func Candidate(random io.Reader, bits int) (*big.Int, error) {
	if bits < 3 {
		return nil, berrors.InvalidBitLengthError("candidate length %d is below the 3-bit minimum", bits)
	}

	buf := make([]byte, (bits+7)/8)
	_, err := io.ReadFull(random, buf)
	if err != nil {
		return nil, fmt.Errorf("reading %d random bytes: %w", len(buf), err)
	}

	c := new(big.Int).SetBytes(buf)
	for c.BitLen() > bits {
		c.Rsh(c, 1)
	}
	c.SetBit(c, bits-1, 1)
	if c.Bit(0) == 0 {
		c.Add(c, one)
	}
	if c.Bit(1) == 0 {
		c.Add(c, two)
	}
	return c, nil
}
