package primes

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/native-crypto/genrsa/dedup"
	berrors "github.com/native-crypto/genrsa/errors"
	"github.com/native-crypto/genrsa/features"
	blog "github.com/native-crypto/genrsa/log"
)

// DefaultYieldAfter is the number of consecutive failed candidates after
// which a search yields the processor once.
const DefaultYieldAfter = 20

// SearchConfig tunes a Searcher. The zero value searches with crypto/rand,
// yields every DefaultYieldAfter failures and never gives up.
type SearchConfig struct {
	// Rand is the source of candidate bytes. It must be safe for concurrent
	// use unless the SequentialPrimeSearch feature is enabled.
	Rand io.Reader
	// YieldAfter is the length of a run of failures after which the search
	// calls runtime.Gosched.
	YieldAfter int
	// MaxCandidates caps the candidates drawn by one search. Zero means
	// unlimited.
	MaxCandidates int
}

// Searcher finds primes of a requested length that it has never returned
// before. A prime is recorded in the dedup set, by its decimal string, when
// it is returned.
type Searcher struct {
	tester        *Tester
	seen          dedup.Set
	rand          io.Reader
	yieldAfter    int
	maxCandidates int
	candidates    *prometheus.CounterVec
	log           blog.Logger
}

// NewSearcher builds a Searcher. A nil seen set gets a fresh in-memory set
// owned by the Searcher.
func NewSearcher(tester *Tester, seen dedup.Set, cfg SearchConfig, stats prometheus.Registerer, logger blog.Logger) *Searcher {
	if seen == nil {
		seen = dedup.NewMemory()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	if cfg.YieldAfter <= 0 {
		cfg.YieldAfter = DefaultYieldAfter
	}

	candidates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rsa_prime_candidates_total",
		Help: "Number of prime candidates examined, by the stage which decided them",
	}, []string{"result"})
	stats.MustRegister(candidates)

	return &Searcher{
		tester:        tester,
		seen:          seen,
		rand:          cfg.Rand,
		yieldAfter:    cfg.YieldAfter,
		maxCandidates: cfg.MaxCandidates,
		candidates:    candidates,
		log:           logger,
	}
}

// Prime draws candidates until one is a probable prime not already in the
// dedup set. Failed candidates are silently retried. The only errors are
// context cancellation, a broken random source or dedup backend, and
// SearchExhausted when MaxCandidates is set.
func (s *Searcher) Prime(ctx context.Context, bits int) (*big.Int, error) {
	failures := 0
	for drawn := 0; ; drawn++ {
		if s.maxCandidates > 0 && drawn >= s.maxCandidates {
			return nil, berrors.SearchExhaustedError("no %d-bit prime among %d candidates", bits, drawn)
		}
		err := ctx.Err()
		if err != nil {
			return nil, fmt.Errorf("searching for a %d-bit prime: %w", bits, err)
		}

		p, err := s.try(ctx, bits)
		if err != nil {
			return nil, err
		}
		if p != nil {
			s.log.Debugf("Found %d-bit prime after %d candidates", bits, drawn+1)
			return p, nil
		}

		failures++
		if failures%s.yieldAfter == 0 && !features.Enabled(features.NoCooperativeYield) {
			runtime.Gosched()
		}
	}
}

// try examines a single candidate and returns it if it is a new prime.
func (s *Searcher) try(ctx context.Context, bits int) (*big.Int, error) {
	c, err := Candidate(s.rand, bits)
	if err != nil {
		return nil, err
	}

	key := c.String()
	dup, err := s.seen.Contains(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("checking dedup set: %w", err)
	}
	if dup {
		s.candidates.WithLabelValues("duplicate").Inc()
		return nil, nil
	}

	verdict, err := s.tester.Test(c)
	if err != nil {
		return nil, err
	}
	if verdict != ProbablePrime {
		s.candidates.WithLabelValues(verdict.String()).Inc()
		return nil, nil
	}

	// A concurrent search may have recorded the same value since Contains.
	added, err := s.seen.Add(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("recording prime in dedup set: %w", err)
	}
	if !added {
		s.candidates.WithLabelValues("duplicate").Inc()
		return nil, nil
	}
	s.candidates.WithLabelValues(ProbablePrime.String()).Inc()
	return c, nil
}
