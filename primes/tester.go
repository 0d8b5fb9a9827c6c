package primes

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// DefaultRounds is the number of Miller-Rabin rounds run on a candidate that
// survives trial division and the Fermat check.
const DefaultRounds = 20

// Verdict records which stage of the pipeline decided a primality test.
type Verdict int

const (
	ProbablePrime Verdict = iota
	CompositeSieve
	CompositeFermat
	CompositeMillerRabin
)

func (v Verdict) String() string {
	switch v {
	case ProbablePrime:
		return "prime"
	case CompositeSieve:
		return "sieve"
	case CompositeFermat:
		return "fermat"
	case CompositeMillerRabin:
		return "miller_rabin"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// Tester decides whether an integer is a probable prime. It runs trial
// division against its Sieve, then a base-2 Fermat check, then Miller-Rabin
// with random witnesses, stopping at the first stage that proves the input
// composite.
type Tester struct {
	sieve     *Sieve
	rounds    int
	witnesses io.Reader
}

// NewTester builds a Tester. A nil sieve gets a DefaultSieveLimit table,
// rounds <= 0 means DefaultRounds, and a nil witnesses reader means
// crypto/rand. The witnesses reader is only used for Miller-Rabin bases and
// must be safe for concurrent use if the Tester is shared.
func NewTester(sieve *Sieve, rounds int, witnesses io.Reader) *Tester {
	if sieve == nil {
		sieve = NewSieve(DefaultSieveLimit)
	}
	if rounds <= 0 {
		rounds = DefaultRounds
	}
	if witnesses == nil {
		witnesses = rand.Reader
	}
	return &Tester{
		sieve:     sieve,
		rounds:    rounds,
		witnesses: witnesses,
	}
}

// Sieve returns the small-prime table the Tester divides by.
func (t *Tester) Sieve() *Sieve {
	return t.sieve
}

// Test returns the verdict for n. An error is returned only when the witness
// reader fails.
func (t *Tester) Test(n *big.Int) (Verdict, error) {
	if n.Cmp(two) < 0 {
		return CompositeSieve, nil
	}

	p, found := t.sieve.smallestFactor(n)
	if found {
		if n.IsUint64() && n.Uint64() == uint64(p) {
			return ProbablePrime, nil
		}
		return CompositeSieve, nil
	}

	// Only reachable with a table too small to contain them.
	if n.Cmp(three) <= 0 {
		return ProbablePrime, nil
	}
	if n.Bit(0) == 0 {
		return CompositeSieve, nil
	}

	if !fermat(n) {
		return CompositeFermat, nil
	}

	ok, err := t.millerRabin(n)
	if err != nil {
		return 0, err
	}
	if !ok {
		return CompositeMillerRabin, nil
	}
	return ProbablePrime, nil
}

// IsProbablePrime reports whether n passes every stage. A failing witness
// reader counts as a failed test.
func (t *Tester) IsProbablePrime(n *big.Int) bool {
	v, err := t.Test(n)
	return err == nil && v == ProbablePrime
}

// fermat checks 2^(n-1) == 1 mod n. big.Int.Exp uses Montgomery
// multiplication for odd moduli.
func fermat(n *big.Int) bool {
	nm1 := new(big.Int).Sub(n, one)
	return new(big.Int).Exp(two, nm1, n).Cmp(one) == 0
}

// millerRabin runs t.rounds rounds with witnesses drawn uniformly from
// [2, n-2]. n must be odd and at least 5.
func (t *Tester) millerRabin(n *big.Int) (bool, error) {
	nm1 := new(big.Int).Sub(n, one)
	d := new(big.Int).Set(nm1)
	s := d.TrailingZeroBits()
	d.Rsh(d, s)

	// rand.Int returns a value in [0, n-4], shifted to [2, n-2].
	bound := new(big.Int).Sub(n, three)
	x := new(big.Int)

	for i := 0; i < t.rounds; i++ {
		a, err := rand.Int(t.witnesses, bound)
		if err != nil {
			return false, fmt.Errorf("drawing Miller-Rabin witness: %w", err)
		}
		a.Add(a, two)

		x.Exp(a, d, n)
		if x.Cmp(one) == 0 || x.Cmp(nm1) == 0 {
			continue
		}

		composite := true
		for r := uint(1); r < s; r++ {
			x.Mul(x, x).Mod(x, n)
			if x.Cmp(nm1) == 0 {
				composite = false
				break
			}
			if x.Cmp(one) == 0 {
				break
			}
		}
		if composite {
			return false, nil
		}
	}
	return true, nil
}
