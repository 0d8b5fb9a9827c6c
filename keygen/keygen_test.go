package keygen

import (
	"bytes"
	"context"
	"math/big"
	"math/rand/v2"
	"testing"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"

	berrors "github.com/native-crypto/genrsa/errors"
	"github.com/native-crypto/genrsa/features"
	blog "github.com/native-crypto/genrsa/log"
	"github.com/native-crypto/genrsa/metrics"
	"github.com/native-crypto/genrsa/test"
)

func setup(t *testing.T, cfg Config) (*Generator, *blog.Mock) {
	t.Helper()
	log := blog.NewMock()
	g, err := New(cfg, nil, metrics.NoopRegisterer, log, clock.NewFake())
	test.AssertNotError(t, err, "creating generator")
	return g, log
}

func checkKey(t *testing.T, kp *KeyPair, bits int, e *big.Int) {
	t.Helper()
	test.AssertEquals(t, kp.N.BitLen(), bits)
	test.AssertBigIntEquals(t, kp.E, e)
	test.AssertBigIntEquals(t, new(big.Int).Mul(kp.P, kp.Q), kp.N)
	test.Assert(t, kp.P.Cmp(kp.Q) > 0, "p should be the larger prime")
	test.Assert(t, kp.P.ProbablyPrime(20), "p should be prime")
	test.Assert(t, kp.Q.ProbablyPrime(20), "q should be prime")

	phi := new(big.Int).Sub(kp.N, kp.P)
	phi.Sub(phi, kp.Q).Add(phi, one)
	ed := new(big.Int).Mul(kp.E, kp.D)
	test.AssertBigIntEquals(t, ed.Mod(ed, phi), one)

	test.AssertBigIntEquals(t, kp.Dp, new(big.Int).Mod(kp.D, new(big.Int).Sub(kp.P, one)))
	test.AssertBigIntEquals(t, kp.Dq, new(big.Int).Mod(kp.D, new(big.Int).Sub(kp.Q, one)))
	qqi := new(big.Int).Mul(kp.Q, kp.Qi)
	test.AssertBigIntEquals(t, qqi.Mod(qqi, kp.P), one)

	test.AssertNotError(t, kp.Validate(), "generated key should validate")
}

func TestGenerate(t *testing.T) {
	g, log := setup(t, Config{})
	kp, err := g.Generate(context.Background(), 512, DefaultExponent)
	test.AssertNotError(t, err, "generating key")
	checkKey(t, kp, 512, DefaultExponent)

	test.AssertMetricWithLabelsEquals(t, g.latency, prometheus.Labels{"bits": "512"}, 1)
	test.AssertEquals(t, len(log.GetAllMatching(`Generated RSA key: bits=\[512\] e=\[65537\]`)), 1)
	test.AssertEquals(t, len(log.GetAllMatching(kp.D.String())), 0)
}

func TestGenerateOddLength(t *testing.T) {
	g, _ := setup(t, Config{})
	kp, err := g.GenerateInt(context.Background(), 777, 65537)
	test.AssertNotError(t, err, "generating key")
	checkKey(t, kp, 777, DefaultExponent)
	test.AssertEquals(t, kp.P.BitLen(), 389)
	test.AssertEquals(t, kp.Q.BitLen(), 388)
}

func TestGenerateNeverSharesPrimes(t *testing.T) {
	g, _ := setup(t, Config{})
	seen := map[string]bool{}
	for range 50 {
		kp, err := g.Generate(context.Background(), 512, DefaultExponent)
		test.AssertNotError(t, err, "generating key")
		for _, p := range []*big.Int{kp.P, kp.Q} {
			test.Assert(t, !seen[p.String()], "prime shared between keys")
			seen[p.String()] = true
		}
	}
	test.AssertEquals(t, len(seen), 100)
}

func TestGenerateSmallExponent(t *testing.T) {
	g, log := setup(t, Config{})
	three := big.NewInt(3)
	for range 10 {
		kp, err := g.Generate(context.Background(), 1024, three)
		test.AssertNotError(t, err, "generating key")
		checkKey(t, kp, 1024, three)
		for _, p := range []*big.Int{kp.P, kp.Q} {
			pm1 := new(big.Int).Sub(p, one)
			test.AssertBigIntEquals(t, new(big.Int).GCD(nil, nil, pm1, three), one)
		}
	}
	// About three quarters of prime pairs have a factor congruent to 1 mod 3.
	test.Assert(t, len(log.GetAllMatching("Redrawing prime .*_exponent")) > 0, "expected exponent retries")
}

func TestGenerateInvalidInput(t *testing.T) {
	g, _ := setup(t, Config{})
	testCases := []struct {
		name    string
		bits    int
		e       *big.Int
		errType berrors.ErrorType
	}{
		{"too short", 8, DefaultExponent, berrors.InvalidBitLength},
		{"below minimum", 511, DefaultExponent, berrors.InvalidBitLength},
		{"above maximum", 16385, DefaultExponent, berrors.InvalidBitLength},
		{"even exponent", 1024, big.NewInt(4), berrors.InvalidExponent},
		{"exponent one", 1024, big.NewInt(1), berrors.InvalidExponent},
		{"negative exponent", 1024, big.NewInt(-3), berrors.InvalidExponent},
		{"nil exponent", 1024, nil, berrors.InvalidExponent},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.Generate(context.Background(), tc.bits, tc.e)
			test.AssertError(t, err, "invalid input should be rejected")
			test.Assert(t, berrors.Is(err, tc.errType), "wrong error type: "+err.Error())
		})
	}
}

func TestNewConfig(t *testing.T) {
	_, err := New(Config{MinModulusBits: 4096, MaxModulusBits: 2048}, nil, metrics.NoopRegisterer, blog.NewMock(), clock.NewFake())
	test.AssertError(t, err, "inverted bounds should be rejected")

	_, err = New(Config{MaxCandidates: -1}, nil, metrics.NoopRegisterer, blog.NewMock(), clock.NewFake())
	test.AssertError(t, err, "negative cap should be rejected")

	g, _ := setup(t, Config{MinModulusBits: 2})
	test.AssertEquals(t, g.minBits, 16)
	_, err = g.GenerateInt(context.Background(), 15, 65537)
	test.Assert(t, berrors.Is(err, berrors.InvalidBitLength), "15-bit modulus should be rejected")
}

func TestPrivateKeyPrecompute(t *testing.T) {
	g, _ := setup(t, Config{})
	kp, err := g.Generate(context.Background(), 1024, DefaultExponent)
	test.AssertNotError(t, err, "generating key")

	priv, err := kp.PrivateKey()
	test.AssertNotError(t, err, "converting key")
	test.AssertNotError(t, priv.Validate(), "crypto/rsa should accept the key")
	test.AssertBigIntEquals(t, priv.Precomputed.Dp, kp.Dp)
	test.AssertBigIntEquals(t, priv.Precomputed.Dq, kp.Dq)
	test.AssertBigIntEquals(t, priv.Precomputed.Qinv, kp.Qi)
}

func TestGenerateDeterministic(t *testing.T) {
	err := features.Set(map[string]bool{"SequentialPrimeSearch": true})
	test.AssertNotError(t, err, "setting feature")
	defer features.Reset()

	var seed [32]byte
	copy(seed[:], "deterministic key generation")
	gen := func() *KeyPair {
		g, _ := setup(t, Config{Rand: rand.NewChaCha8(seed)})
		kp, err := g.Generate(context.Background(), 768, DefaultExponent)
		test.AssertNotError(t, err, "generating key")
		return kp
	}
	a, b := gen(), gen()
	test.AssertBigIntEquals(t, a.N, b.N)
	test.AssertBigIntEquals(t, a.D, b.D)
}

// With q drawn before p, the bytes below produce q=131 and p=263, whose
// product is one bit short, and then q=255 (composite) and q=251.
func TestGenerateBitLengthRetry(t *testing.T) {
	err := features.Set(map[string]bool{"SequentialPrimeSearch": true})
	test.AssertNotError(t, err, "setting feature")
	defer features.Reset()

	g, _ := setup(t, Config{
		MinModulusBits: 16,
		Rand:           bytes.NewReader([]byte{0x00, 0x00, 0x07, 0xFF, 0xFB}),
	})
	kp, err := g.GenerateInt(context.Background(), 17, 65537)
	test.AssertNotError(t, err, "generating key")
	test.AssertBigIntEquals(t, kp.P, big.NewInt(263))
	test.AssertBigIntEquals(t, kp.Q, big.NewInt(251))
	checkKey(t, kp, 17, DefaultExponent)
	test.AssertMetricWithLabelsEquals(t, g.retries, prometheus.Labels{"reason": reasonBitLength}, 1)
}

// q=251, then p=271 with 3 | 270, then p=263.
func TestGenerateExponentRetry(t *testing.T) {
	err := features.Set(map[string]bool{"SequentialPrimeSearch": true})
	test.AssertNotError(t, err, "setting feature")
	defer features.Reset()

	g, _ := setup(t, Config{
		MinModulusBits: 16,
		Rand:           bytes.NewReader([]byte{0xFB, 0x00, 0x0F, 0x00, 0x07}),
	})
	three := big.NewInt(3)
	kp, err := g.Generate(context.Background(), 17, three)
	test.AssertNotError(t, err, "generating key")
	test.AssertBigIntEquals(t, kp.P, big.NewInt(263))
	test.AssertBigIntEquals(t, kp.Q, big.NewInt(251))
	checkKey(t, kp, 17, three)
	test.AssertMetricWithLabelsEquals(t, g.retries, prometheus.Labels{"reason": reasonPExponent}, 1)
	test.AssertMetricWithLabelsEquals(t, g.retries, prometheus.Labels{"reason": reasonBitLength}, 0)
}

func TestGenerateRandomFailure(t *testing.T) {
	err := features.Set(map[string]bool{"SequentialPrimeSearch": true})
	test.AssertNotError(t, err, "setting feature")
	defer features.Reset()

	g, _ := setup(t, Config{Rand: bytes.NewReader([]byte{0x01, 0x02})})
	_, err = g.Generate(context.Background(), 512, DefaultExponent)
	test.AssertError(t, err, "exhausted random source should fail generation")
}

func TestGenerateCanceled(t *testing.T) {
	g, _ := setup(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Generate(ctx, 2048, DefaultExponent)
	test.AssertErrorIs(t, err, context.Canceled)
}

func TestGenerateSearchExhausted(t *testing.T) {
	g, _ := setup(t, Config{MaxCandidates: 1, Rand: repeat(0x05)})
	_, err := g.Generate(context.Background(), 512, DefaultExponent)
	test.Assert(t, berrors.Is(err, berrors.SearchExhausted), "capped search should be exhausted")
}

type repeat byte

func (r repeat) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}

func TestDeriveKeyInvariant(t *testing.T) {
	defer func() {
		r := recover()
		test.AssertNotNil(t, r, "expected a panic")
		err, ok := r.(error)
		test.Assert(t, ok, "panic value should be an error")
		test.Assert(t, berrors.Is(err, berrors.ArithmeticInvariant), "wrong panic error")
	}()
	// gcd(phi, e) = 3, so e has no inverse.
	p, q := big.NewInt(11), big.NewInt(7)
	deriveKey(p, q, big.NewInt(77), big.NewInt(60), big.NewInt(3))
}
