// Package goodkey decides whether an RSA public key is strong enough to hand
// out: its size and exponent, the absence of small factors, the ROCA
// fingerprint, primes too close together, and membership of known-weak or
// administratively blocked key lists.
package goodkey

import (
	"crypto"
	"crypto/rsa"
	"fmt"
	"math/big"
	"reflect"
	"sync"

	"github.com/titanous/rocacheck"

	berrors "github.com/native-crypto/genrsa/errors"
	"github.com/native-crypto/genrsa/primes"
)

// smallPrimeBound is the bound below which no prime may divide a modulus.
const smallPrimeBound = 752

var (
	smallPrimesOnce sync.Once
	smallPrimes     []*big.Int
)

// Config configures a KeyPolicy. The zero value checks 2048 to 16384 bit
// keys, byte-aligned, with any odd exponent of at least 3, and performs no
// list or Fermat checks.
type Config struct {
	// WeakKeyFile is a JSON list of hex-encoded truncated SHA-1 hashes of
	// known weak moduli.
	WeakKeyFile string `yaml:"weakKeyFile"`
	// BlockedKeyFile is a YAML file with a "blocked" list of base64 SHA-256
	// SPKI hashes.
	BlockedKeyFile string `yaml:"blockedKeyFile"`
	// FermatRounds is the number of Fermat factorization rounds used to look
	// for primes that are too close together. Zero disables the check.
	FermatRounds int `yaml:"fermatRounds" validate:"min=0"`

	MinModulusBits int `yaml:"minModulusBits" validate:"omitempty,min=16"`
	MaxModulusBits int `yaml:"maxModulusBits" validate:"omitempty,gtefield=MinModulusBits"`
	MinExponent    int `yaml:"minExponent" validate:"omitempty,min=3"`
	// AllowUnalignedModulus accepts moduli whose length is not a multiple of
	// 8 bits.
	AllowUnalignedModulus bool `yaml:"allowUnalignedModulus"`
}

// KeyPolicy determines which RSA keys are acceptable.
type KeyPolicy struct {
	minBits        int
	maxBits        int
	minExponent    int
	allowUnaligned bool
	fermatRounds   int
	weakRSAList    *WeakRSAKeys
	blockedList    *blockedKeys
}

// NewPolicy returns a KeyPolicy for the given Config, loading any key lists
// it names.
func NewPolicy(config *Config) (KeyPolicy, error) {
	if config == nil {
		config = &Config{}
	}
	kp := KeyPolicy{
		minBits:        config.MinModulusBits,
		maxBits:        config.MaxModulusBits,
		minExponent:    config.MinExponent,
		allowUnaligned: config.AllowUnalignedModulus,
		fermatRounds:   config.FermatRounds,
	}
	if kp.minBits == 0 {
		kp.minBits = 2048
	}
	if kp.maxBits == 0 {
		kp.maxBits = 16384
	}
	if kp.minExponent == 0 {
		kp.minExponent = 3
	}
	if kp.maxBits < kp.minBits {
		return KeyPolicy{}, fmt.Errorf("maximum modulus length %d is below minimum %d", kp.maxBits, kp.minBits)
	}
	if kp.fermatRounds < 0 {
		return KeyPolicy{}, fmt.Errorf("fermat factorization rounds must be non-negative: %d", kp.fermatRounds)
	}

	if config.WeakKeyFile != "" {
		keyList, err := LoadWeakRSASuffixes(config.WeakKeyFile)
		if err != nil {
			return KeyPolicy{}, err
		}
		kp.weakRSAList = keyList
	}
	if config.BlockedKeyFile != "" {
		blocked, err := loadBlockedKeysList(config.BlockedKeyFile)
		if err != nil {
			return KeyPolicy{}, err
		}
		kp.blockedList = blocked
	}
	return kp, nil
}

// GoodKey returns nil if the key is acceptable, and a Malformed error
// describing the first problem found otherwise.
func (policy *KeyPolicy) GoodKey(key crypto.PublicKey) error {
	// Early rejection of unacceptable key types to guard subsequent checks.
	var pub *rsa.PublicKey
	switch t := key.(type) {
	case *rsa.PublicKey:
		pub = t
	case rsa.PublicKey:
		pub = &t
	default:
		return berrors.MalformedError("unsupported key type %v", reflect.TypeOf(key))
	}
	if pub == nil || pub.N == nil {
		return berrors.MalformedError("key is missing its modulus")
	}

	// The blocked list catches keys we know to be compromised, so consult it
	// before anything else.
	if policy.blockedList != nil {
		blocked, err := policy.blockedList.blocked(pub)
		if err != nil {
			return berrors.InternalServerError("error checking blocklist for key: %v", pub)
		}
		if blocked {
			return berrors.MalformedError("public key is forbidden")
		}
	}
	return policy.goodKeyRSA(pub)
}

// goodKeyRSA determines if a RSA pubkey meets our requirements
func (policy *KeyPolicy) goodKeyRSA(key *rsa.PublicKey) error {
	modulus := key.N
	modulusBitLen := modulus.BitLen()
	if modulusBitLen < policy.minBits {
		return berrors.MalformedError("key too small: %d < %d", modulusBitLen, policy.minBits)
	}
	if modulusBitLen > policy.maxBits {
		return berrors.MalformedError("key too large: %d > %d", modulusBitLen, policy.maxBits)
	}
	// Bit lengths that are not a multiple of 8 may cause problems on some
	// client implementations.
	if !policy.allowUnaligned && modulusBitLen%8 != 0 {
		return berrors.MalformedError("key length wasn't a multiple of 8: %d", modulusBitLen)
	}

	if policy.weakRSAList != nil && policy.weakRSAList.Known(key) {
		return berrors.MalformedError("key is on a known weak RSA key list")
	}

	// rsa.PublicKey stores E as an int, so there is no upper bound to check.
	if key.E%2 == 0 || key.E < policy.minExponent {
		return berrors.MalformedError("key exponent should be odd and at least %d: %d", policy.minExponent, key.E)
	}

	// The modulus SHOULD also have the following characteristics: an odd
	// number, not the power of a prime, and have no factors smaller than 752.
	// TODO: We don't yet check for "power of a prime."
	if checkSmallPrimes(modulus) {
		return berrors.MalformedError("key divisible by small prime")
	}
	// Check for weak keys generated by Infineon hardware
	// (see https://crocs.fi.muni.cz/public/papers/rsa_ccs17)
	if rocacheck.IsWeak(key) {
		return berrors.MalformedError("key generated by vulnerable Infineon-based hardware")
	}

	// Check if the key can be easily factored via Fermat's factorization method.
	if policy.fermatRounds > 0 {
		err := checkPrimeFactorsTooClose(modulus, policy.fermatRounds)
		if err != nil {
			return berrors.MalformedError("key generated with factors too close together: %s", err)
		}
	}

	return nil
}

// Returns true iff integer i is divisible by any of the primes below 752.
//
// Short circuits; execution time is dependent on i. Do not use this on secret
// values.
func checkSmallPrimes(i *big.Int) bool {
	smallPrimesOnce.Do(func() {
		for _, p := range primes.SmallPrimes(smallPrimeBound) {
			smallPrimes = append(smallPrimes, big.NewInt(int64(p)))
		}
	})

	var result big.Int
	for _, prime := range smallPrimes {
		result.Mod(i, prime)
		if result.Sign() == 0 {
			return true
		}
	}

	return false
}

// Returns an error if the modulus n is able to be factored into primes p and q
// via Fermat's factorization method. This method relies on the two primes
// being very close together, which means that they were almost certainly not
// picked independently from a uniform random distribution. Basically, if we
// can factor the key this easily, so can anyone else.
func checkPrimeFactorsTooClose(n *big.Int, rounds int) error {
	// Any odd integer is equal to a difference of squares of integers:
	//   n = a^2 - b^2 = (a + b)(a - b)
	// Here we try to find values for a and b, since doing so also gives us the
	// prime factors p = (a + b) and q = (a - b).
	//
	// Start with a = ceil(sqrt(n)). big.Int's Sqrt takes the floor, so add
	// one to get the ceiling.
	one := big.NewInt(1)
	a := new(big.Int).Sqrt(n)
	a.Add(a, one)

	// b2 = a^2 - n is tested for being a perfect square each round.
	b2 := new(big.Int).Mul(a, a)
	b2.Sub(b2, n)
	bb := new(big.Int)

	for round := range rounds {
		bb.Sqrt(b2)
		bb.Mul(bb, bb)
		if b2.Cmp(bb) == 0 {
			// b2 is a perfect square, so p and q are a plus and minus its root.
			bb.Sqrt(bb)
			p := new(big.Int).Add(a, bb)
			q := new(big.Int).Sub(a, bb)
			return fmt.Errorf("public modulus n = pq factored in %d rounds into p: %s and q: %s", round+1, p, q)
		}

		a.Add(a, one)
		b2.Mul(a, a)
		b2.Sub(b2, n)
	}
	return nil
}
