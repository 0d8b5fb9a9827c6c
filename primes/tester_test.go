package primes

import (
	"errors"
	"math/big"
	"testing"

	"github.com/native-crypto/genrsa/test"
)

func TestTesterSmallValues(t *testing.T) {
	for _, tester := range []*Tester{
		NewTester(nil, 0, nil),
		// An empty table pushes every value through Fermat and Miller-Rabin.
		NewTester(NewSieve(0), 0, nil),
	} {
		for n := uint32(0); n <= 10000; n++ {
			got := tester.IsProbablePrime(big.NewInt(int64(n)))
			if got != naivePrime(n) {
				t.Fatalf("IsProbablePrime(%d) = %t with a %d-entry table", n, got, len(tester.Sieve().Primes()))
			}
		}
	}
}

func TestTesterVerdicts(t *testing.T) {
	full := NewTester(nil, 0, nil)
	empty := NewTester(NewSieve(0), 0, nil)

	mersenne := func(p uint) *big.Int {
		m := new(big.Int).Lsh(one, p)
		return m.Sub(m, one)
	}

	testCases := []struct {
		name   string
		tester *Tester
		n      *big.Int
		want   []Verdict
	}{
		{"one", full, big.NewInt(1), []Verdict{CompositeSieve}},
		{"negative", full, big.NewInt(-7), []Verdict{CompositeSieve}},
		{"table prime", full, big.NewInt(1048573), []Verdict{ProbablePrime}},
		{"small factor", full, big.NewInt(1048573 * 3), []Verdict{CompositeSieve}},
		{"M127", full, mersenne(127), []Verdict{ProbablePrime}},
		{"M521", full, mersenne(521), []Verdict{ProbablePrime}},
		{"M61*M89", full, new(big.Int).Mul(mersenne(61), mersenne(89)), []Verdict{CompositeFermat, CompositeMillerRabin}},
		{"fermat composite", empty, big.NewInt(91), []Verdict{CompositeFermat}},
		// 341 = 11*31 passes the base-2 Fermat check.
		{"base 2 pseudoprime", empty, big.NewInt(341), []Verdict{CompositeMillerRabin}},
		// 561 = 3*11*17 is a Carmichael number.
		{"carmichael", empty, big.NewInt(561), []Verdict{CompositeMillerRabin}},
		{"even", empty, big.NewInt(1 << 20), []Verdict{CompositeSieve}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := tc.tester.Test(tc.n)
			test.AssertNotError(t, err, "testing value")
			test.AssertSliceContains(t, tc.want, v)
		})
	}
}

func TestTesterAgreesWithStdlib(t *testing.T) {
	tester := NewTester(nil, 0, nil)
	n := new(big.Int).Lsh(one, 200)
	for range 2000 {
		n.Add(n, one)
		test.AssertEquals(t, tester.IsProbablePrime(n), n.ProbablyPrime(20))
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy source unplugged")
}

func TestTesterWitnessFailure(t *testing.T) {
	tester := NewTester(NewSieve(0), 0, failingReader{})
	_, err := tester.Test(big.NewInt(7919))
	test.AssertError(t, err, "witness reader failure should surface")
	test.AssertContains(t, err.Error(), "entropy source unplugged")
	test.Assert(t, !tester.IsProbablePrime(big.NewInt(7919)), "failed test should not count as prime")

	// Values decided before Miller-Rabin never touch the reader.
	v, err := tester.Test(big.NewInt(91))
	test.AssertNotError(t, err, "Fermat failure needs no witnesses")
	test.AssertEquals(t, v, CompositeFermat)
}

func TestVerdictString(t *testing.T) {
	test.AssertEquals(t, ProbablePrime.String(), "prime")
	test.AssertEquals(t, CompositeSieve.String(), "sieve")
	test.AssertEquals(t, CompositeFermat.String(), "fermat")
	test.AssertEquals(t, CompositeMillerRabin.String(), "miller_rabin")
	test.AssertEquals(t, Verdict(9).String(), "Verdict(9)")
}
