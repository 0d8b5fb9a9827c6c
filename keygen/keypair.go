package keygen

import (
	"crypto/rsa"
	"fmt"
	"math"
	"math/big"

	berrors "github.com/native-crypto/genrsa/errors"
)

// KeyPair holds the components of a generated RSA key. P is always the larger
// prime and Qi is the inverse of Q modulo P.
type KeyPair struct {
	N  *big.Int
	E  *big.Int
	D  *big.Int
	P  *big.Int
	Q  *big.Int
	Dp *big.Int
	Dq *big.Int
	Qi *big.Int
}

// ModulusBits returns the length of N.
func (kp *KeyPair) ModulusBits() int {
	return kp.N.BitLen()
}

// PublicKey returns the public half of the key. It fails when E does not fit
// in the int that crypto/rsa stores exponents in.
func (kp *KeyPair) PublicKey() (*rsa.PublicKey, error) {
	if !kp.E.IsInt64() || kp.E.Int64() > math.MaxInt {
		return nil, berrors.InvalidExponentError("public exponent %s is too large for crypto/rsa", kp.E)
	}
	return &rsa.PublicKey{N: new(big.Int).Set(kp.N), E: int(kp.E.Int64())}, nil
}

// PrivateKey returns the key as a crypto/rsa private key with its CRT values
// precomputed.
func (kp *KeyPair) PrivateKey() (*rsa.PrivateKey, error) {
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, err
	}
	priv := &rsa.PrivateKey{
		PublicKey: *pub,
		D:         new(big.Int).Set(kp.D),
		Primes:    []*big.Int{new(big.Int).Set(kp.P), new(big.Int).Set(kp.Q)},
	}
	priv.Precompute()
	return priv, nil
}

// Validate checks the arithmetic relations between the components.
func (kp *KeyPair) Validate() error {
	if kp.N == nil || kp.E == nil || kp.D == nil || kp.P == nil || kp.Q == nil ||
		kp.Dp == nil || kp.Dq == nil || kp.Qi == nil {
		return berrors.MalformedError("key pair is missing components")
	}
	if kp.P.Cmp(kp.Q) == 0 {
		return berrors.MalformedError("key pair primes are equal")
	}
	if new(big.Int).Mul(kp.P, kp.Q).Cmp(kp.N) != 0 {
		return berrors.MalformedError("modulus is not the product of the primes")
	}

	pm1 := new(big.Int).Sub(kp.P, one)
	qm1 := new(big.Int).Sub(kp.Q, one)
	phi := new(big.Int).Mul(pm1, qm1)
	ed := new(big.Int).Mul(kp.E, kp.D)
	if ed.Mod(ed, phi).Cmp(one) != 0 {
		return berrors.MalformedError("private exponent is not the inverse of e modulo phi(n)")
	}
	if new(big.Int).Mod(kp.D, pm1).Cmp(kp.Dp) != 0 {
		return berrors.MalformedError("dp is not d mod (p-1)")
	}
	if new(big.Int).Mod(kp.D, qm1).Cmp(kp.Dq) != 0 {
		return berrors.MalformedError("dq is not d mod (q-1)")
	}
	qqi := new(big.Int).Mul(kp.Q, kp.Qi)
	if qqi.Mod(qqi, kp.P).Cmp(one) != 0 {
		return berrors.MalformedError("qi is not the inverse of q modulo p")
	}
	return nil
}

// ExponentFromBytes reads a public exponent given as big-endian bytes, the
// way JWK and many key formats carry it. An empty slice means
// DefaultExponent.
func ExponentFromBytes(b []byte) (*big.Int, error) {
	if len(b) == 0 {
		return new(big.Int).Set(DefaultExponent), nil
	}
	e := new(big.Int).SetBytes(b)
	if e.Cmp(one) <= 0 || e.Bit(0) == 0 {
		return nil, berrors.InvalidExponentError("public exponent %s must be odd and greater than 1", e)
	}
	return e, nil
}

func (kp *KeyPair) String() string {
	return fmt.Sprintf("RSA-%d e=%s", kp.ModulusBits(), kp.E)
}
