package primes

import (
	"math"
	"math/big"
	"sync"
)

// DefaultSieveLimit is the exclusive upper bound of the small-prime table
// used for trial division. The table below 2^20 holds 82025 primes.
const DefaultSieveLimit = 1 << 20

// SmallPrimes returns every prime below limit in ascending order. Each odd
// number is tested against the primes already found, up to its square root.
func SmallPrimes(limit uint32) []uint32 {
	if limit <= 2 {
		return nil
	}
	res := []uint32{2}
	for k := uint32(3); k < limit && k >= 3; k += 2 {
		isPrime := true
		for _, p := range res[1:] {
			if uint64(p)*uint64(p) > uint64(k) {
				break
			}
			if k%p == 0 {
				isPrime = false
				break
			}
		}
		if isPrime {
			res = append(res, k)
		}
	}
	return res
}

// batch is a run of consecutive table primes whose product fits in a uint64.
// Trial division reduces the candidate once per batch and then works on
// machine words.
type batch struct {
	product *big.Int
	primes  []uint32
}

// Sieve owns a small-prime table. The table is computed the first time it is
// needed and is read-only afterwards, so a Sieve may be shared by any number
// of goroutines.
type Sieve struct {
	limit uint32

	once    sync.Once
	primes  []uint32
	batches []batch
}

// NewSieve returns a Sieve covering the primes below limit. Nothing is
// computed until the table is first used.
func NewSieve(limit uint32) *Sieve {
	return &Sieve{limit: limit}
}

// Limit returns the exclusive upper bound of the table.
func (s *Sieve) Limit() uint32 {
	return s.limit
}

func (s *Sieve) init() {
	s.once.Do(func() {
		s.primes = SmallPrimes(s.limit)

		var cur batch
		prod := uint64(1)
		for i, p := range s.primes {
			if prod > math.MaxUint64/uint64(p) {
				cur.product = new(big.Int).SetUint64(prod)
				s.batches = append(s.batches, cur)
				cur = batch{}
				prod = 1
			}
			prod *= uint64(p)
			cur.primes = s.primes[i-len(cur.primes) : i+1]
		}
		if len(cur.primes) > 0 {
			cur.product = new(big.Int).SetUint64(prod)
			s.batches = append(s.batches, cur)
		}
	})
}

// Primes returns the table. Callers must not modify it.
func (s *Sieve) Primes() []uint32 {
	s.init()
	return s.primes
}

// smallestFactor returns the first table prime dividing n, in ascending
// order, and whether one was found.
func (s *Sieve) smallestFactor(n *big.Int) (uint32, bool) {
	s.init()
	var r big.Int
	for _, b := range s.batches {
		rem := r.Mod(n, b.product).Uint64()
		for _, p := range b.primes {
			if rem%uint64(p) == 0 {
				return p, true
			}
		}
	}
	return 0, false
}
