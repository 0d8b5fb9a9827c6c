// Package keygen assembles RSA key pairs from primes found by the primes
// package. Two primes are drawn, checked against the public exponent and the
// requested modulus length, redrawn as needed, and the private exponent and
// CRT parameters are derived from the accepted pair.
package keygen

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strconv"

	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/native-crypto/genrsa/core"
	"github.com/native-crypto/genrsa/dedup"
	berrors "github.com/native-crypto/genrsa/errors"
	"github.com/native-crypto/genrsa/features"
	blog "github.com/native-crypto/genrsa/log"
	"github.com/native-crypto/genrsa/primes"
)

const (
	// DefaultMinModulusBits is the smallest modulus a Generator accepts when
	// its Config does not say otherwise.
	DefaultMinModulusBits = 512
	// DefaultMaxModulusBits is the largest modulus a Generator accepts when
	// its Config does not say otherwise.
	DefaultMaxModulusBits = 16384

	// floorModulusBits is the smallest modulus any Config may allow. Below
	// it the pool of distinct half-length primes is too small to draw from.
	floorModulusBits = 16
)

// DefaultExponent is F4, 65537.
var DefaultExponent = big.NewInt(65537)

// Config tunes a Generator. The zero value is usable.
type Config struct {
	// MinModulusBits and MaxModulusBits bound the accepted modulus length.
	// MinModulusBits is raised to 16 if set lower.
	MinModulusBits int
	MaxModulusBits int

	// SieveLimit is the exclusive bound of the trial division table.
	SieveLimit uint32
	// MillerRabinRounds is the number of random-witness rounds per
	// candidate.
	MillerRabinRounds int
	// YieldAfter and MaxCandidates are passed to the prime searches, see
	// primes.SearchConfig.
	YieldAfter    int
	MaxCandidates int

	// Rand supplies candidate bytes and Witnesses supplies Miller-Rabin
	// bases. Both default to crypto/rand.
	Rand      io.Reader
	Witnesses io.Reader
}

// Generator produces RSA key pairs. It owns its small-prime table and, unless
// one is shared with it, its set of already-used primes. A Generator is safe
// for concurrent use.
type Generator struct {
	minBits int
	maxBits int

	search  *primes.Searcher
	clk     clock.Clock
	log     blog.Logger
	tracer  trace.Tracer
	retries *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

// New builds a Generator. A nil seen set gets a fresh in-memory set; pass a
// shared set (for example dedup.Redis) to keep primes unique across
// generators.
func New(cfg Config, seen dedup.Set, stats prometheus.Registerer, logger blog.Logger, clk clock.Clock) (*Generator, error) {
	if cfg.MinModulusBits == 0 {
		cfg.MinModulusBits = DefaultMinModulusBits
	}
	if cfg.MinModulusBits < floorModulusBits {
		cfg.MinModulusBits = floorModulusBits
	}
	if cfg.MaxModulusBits == 0 {
		cfg.MaxModulusBits = DefaultMaxModulusBits
	}
	if cfg.MaxModulusBits < cfg.MinModulusBits {
		return nil, fmt.Errorf("maximum modulus length %d is below minimum %d", cfg.MaxModulusBits, cfg.MinModulusBits)
	}
	if cfg.SieveLimit == 0 {
		cfg.SieveLimit = primes.DefaultSieveLimit
	}
	if cfg.MaxCandidates < 0 {
		return nil, fmt.Errorf("negative candidate cap %d", cfg.MaxCandidates)
	}

	tester := primes.NewTester(primes.NewSieve(cfg.SieveLimit), cfg.MillerRabinRounds, cfg.Witnesses)
	search := primes.NewSearcher(tester, seen, primes.SearchConfig{
		Rand:          cfg.Rand,
		YieldAfter:    cfg.YieldAfter,
		MaxCandidates: cfg.MaxCandidates,
	}, stats, logger)

	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rsa_keygen_retries_total",
		Help: "Number of times a prime was redrawn during key assembly, by reason",
	}, []string{"reason"})
	stats.MustRegister(retries)

	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rsa_keygen_latency_seconds",
		Help:    "Time taken to generate an RSA key pair, by modulus length",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"bits"})
	stats.MustRegister(latency)

	return &Generator{
		minBits: cfg.MinModulusBits,
		maxBits: cfg.MaxModulusBits,
		search:  search,
		clk:     clk,
		log:     logger,
		tracer:  otel.Tracer("github.com/native-crypto/genrsa/keygen"),
		retries: retries,
		latency: latency,
	}, nil
}

type state int

const (
	selectQ state = iota
	selectP
	validate
	derive
	done
)

// retry reasons, used as metric labels
const (
	reasonEqual       = "equal"
	reasonPExponent   = "p_exponent"
	reasonQExponent   = "q_exponent"
	reasonPhiExponent = "phi_exponent"
	reasonBitLength   = "bit_length"
)

// Generate returns a new key pair whose modulus is exactly modulusBits long
// and whose public exponent is e. Neither prime has been returned by this
// Generator, or by anything sharing its dedup set, before.
func (g *Generator) Generate(ctx context.Context, modulusBits int, e *big.Int) (*KeyPair, error) {
	if e == nil || e.Cmp(big.NewInt(1)) <= 0 || e.Bit(0) == 0 {
		return nil, berrors.InvalidExponentError("public exponent must be odd and greater than 1")
	}
	if modulusBits < g.minBits || modulusBits > g.maxBits {
		return nil, berrors.InvalidBitLengthError("modulus length %d is outside [%d, %d]", modulusBits, g.minBits, g.maxBits)
	}

	ctx, span := g.tracer.Start(ctx, "keygen.Generate", trace.WithAttributes(attribute.Int("modulus_bits", modulusBits)))
	defer span.End()

	start := g.clk.Now()
	kp, retries, err := g.assemble(ctx, modulusBits, e)
	span.SetAttributes(attribute.Int("retries", retries))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "key generation failed")
		return nil, err
	}
	g.latency.WithLabelValues(strconv.Itoa(modulusBits)).Observe(g.clk.Since(start).Seconds())

	digest := "unavailable"
	pub, err := kp.PublicKey()
	if err == nil {
		digest, err = core.KeyDigestHex(pub)
	}
	if err != nil {
		g.log.Warningf("Computing digest of generated key: %s", err)
	}
	g.log.Infof("Generated RSA key: bits=[%d] e=[%s] retries=[%d] spkiSHA256=[%s]", modulusBits, e, retries, digest)
	return kp, nil
}

// GenerateInt is Generate with a machine-sized exponent.
func (g *Generator) GenerateInt(ctx context.Context, modulusBits int, e int64) (*KeyPair, error) {
	return g.Generate(ctx, modulusBits, big.NewInt(e))
}

// assemble runs the selection state machine and returns the key pair along
// with the number of primes that were redrawn.
func (g *Generator) assemble(ctx context.Context, modLen int, e *big.Int) (*KeyPair, int, error) {
	qlen := modLen >> 1
	plen := modLen - qlen

	var p, q, n, phi *big.Int
	var kp *KeyPair
	retries := 0
	retry := func(reason string, next state) state {
		retries++
		g.retries.WithLabelValues(reason).Inc()
		g.log.Debugf("Redrawing prime for %d-bit key: %s", modLen, reason)
		return next
	}

	st := selectQ
	for st != done {
		switch st {
		case selectQ, selectP:
			err := g.draw(ctx, &p, &q, plen, qlen)
			if err != nil {
				return nil, retries, err
			}
			st = validate

		case validate:
			if p.Cmp(q) == 0 {
				p = nil
				st = retry(reasonEqual, selectP)
				continue
			}
			if p.Cmp(q) < 0 {
				p, q = q, p
			}
			pm1 := new(big.Int).Sub(p, one)
			if !coprime(pm1, e) {
				p = nil
				st = retry(reasonPExponent, selectP)
				continue
			}
			qm1 := new(big.Int).Sub(q, one)
			if !coprime(qm1, e) {
				q = nil
				st = retry(reasonQExponent, selectQ)
				continue
			}
			n = new(big.Int).Mul(p, q)
			phi = new(big.Int).Sub(n, p)
			phi.Sub(phi, q).Add(phi, one)
			if !coprime(phi, e) {
				p, q = nil, nil
				st = retry(reasonPhiExponent, selectQ)
				continue
			}
			if n.BitLen() != modLen {
				q = nil
				st = retry(reasonBitLength, selectQ)
				continue
			}
			st = derive

		case derive:
			kp = deriveKey(p, q, n, phi, e)
			st = done
		}
	}
	return kp, retries, nil
}

// draw replaces whichever of p and q is nil with a fresh prime. When both are
// missing they are searched for concurrently, unless SequentialPrimeSearch is
// enabled, in which case q is drawn before p.
func (g *Generator) draw(ctx context.Context, p, q **big.Int, plen, qlen int) error {
	if *p == nil && *q == nil && !features.Enabled(features.SequentialPrimeSearch) {
		eg, ctx := errgroup.WithContext(ctx)
		var newP, newQ *big.Int
		eg.Go(func() error {
			var err error
			newQ, err = g.search.Prime(ctx, qlen)
			return err
		})
		eg.Go(func() error {
			var err error
			newP, err = g.search.Prime(ctx, plen)
			return err
		})
		err := eg.Wait()
		if err != nil {
			return err
		}
		*p, *q = newP, newQ
		return nil
	}

	var err error
	if *q == nil {
		*q, err = g.search.Prime(ctx, qlen)
		if err != nil {
			return err
		}
	}
	if *p == nil {
		*p, err = g.search.Prime(ctx, plen)
		if err != nil {
			return err
		}
	}
	return nil
}

var one = big.NewInt(1)

func coprime(a, b *big.Int) bool {
	return new(big.Int).GCD(nil, nil, a, b).Cmp(one) == 0
}

// deriveKey computes the private exponent and CRT parameters for a validated
// pair. p must be the larger prime and gcd(phi, e) must be 1.
func deriveKey(p, q, n, phi, e *big.Int) *KeyPair {
	d := new(big.Int).ModInverse(e, phi)
	if d == nil {
		panic(berrors.ArithmeticInvariantError("public exponent has no inverse modulo phi(n) after coprimality check"))
	}
	qi := new(big.Int).ModInverse(q, p)
	if qi == nil {
		panic(berrors.ArithmeticInvariantError("q has no inverse modulo p"))
	}
	pm1 := new(big.Int).Sub(p, one)
	qm1 := new(big.Int).Sub(q, one)
	return &KeyPair{
		N:  n,
		E:  new(big.Int).Set(e),
		D:  d,
		P:  p,
		Q:  q,
		Dp: new(big.Int).Mod(d, pm1),
		Dq: new(big.Int).Mod(d, qm1),
		Qi: qi,
	}
}
