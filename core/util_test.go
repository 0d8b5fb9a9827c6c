package core

import (
	"crypto/rand"
	"crypto/rsa"
	"math/big"
	"testing"

	"github.com/native-crypto/genrsa/test"
)

func TestKeyDigest(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	test.AssertNotError(t, err, "generating key")

	digest, err := KeyDigest(&key.PublicKey)
	test.AssertNotError(t, err, "digesting key")
	test.AssertEquals(t, len(digest), 44)

	hexDigest, err := KeyDigestHex(&key.PublicKey)
	test.AssertNotError(t, err, "digesting key")
	test.AssertEquals(t, len(hexDigest), 64)

	_, err = KeyDigest(struct{}{})
	test.AssertError(t, err, "digesting a non-key should fail")
}

func TestKeyDigestEquals(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 1024)
	test.AssertNotError(t, err, "generating key")
	copied := &rsa.PublicKey{N: new(big.Int).Set(key.N), E: key.E}

	test.Assert(t, KeyDigestEquals(&key.PublicKey, copied), "identical keys should have equal digests")
	test.Assert(t, !KeyDigestEquals(&key.PublicKey, &rsa.PublicKey{N: big.NewInt(15), E: 3}), "different keys should not match")
	test.Assert(t, !KeyDigestEquals(struct{}{}, struct{}{}), "non-keys should never match")
}

func TestBuildInfo(t *testing.T) {
	test.AssertEquals(t, GetBuildID(), "Unspecified")
	test.AssertEquals(t, GetBuildHost(), "Unspecified")
	test.AssertEquals(t, GetBuildTime(), "Unspecified")
	test.Assert(t, Command() != "", "Command should never be empty")
}
