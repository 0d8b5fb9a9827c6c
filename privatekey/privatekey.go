// Package privatekey loads RSA private keys from PEM files and checks that a
// private key actually matches its embedded public key.
package privatekey

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"hash"
	"os"
)

// verifyRSA is broken out of Verify for testing purposes.
func verifyRSA(privKey *rsa.PrivateKey, pubKey *rsa.PublicKey, msgHash hash.Hash) error {
	signatureRSA, err := rsa.SignPSS(rand.Reader, privKey, crypto.SHA256, msgHash.Sum(nil), nil)
	if err != nil {
		return fmt.Errorf("failed to sign using the provided RSA private key: %s", err)
	}

	err = rsa.VerifyPSS(pubKey, crypto.SHA256, msgHash.Sum(nil), signatureRSA, nil)
	if err != nil {
		return fmt.Errorf("the provided RSA private key failed signature verification: %s", err)
	}
	return nil
}

// Verify ensures that the embedded PublicKey of the provided privateKey is
// actually a match for the private key, by signing a fixed message and
// verifying the signature. For an example of private keys embedding a
// mismatched public key, see:
// https://blog.hboeck.de/archives/888-How-I-tricked-Symantec-with-a-Fake-Private-Key.html.
func Verify(privateKey *rsa.PrivateKey) error {
	if privateKey == nil {
		return fmt.Errorf("no private key provided")
	}
	msgHash := sha256.New()
	_, err := msgHash.Write([]byte("verifiable"))
	if err != nil {
		return fmt.Errorf("failed to hash 'verifiable' message: %s", err)
	}
	return verifyRSA(privateKey, &privateKey.PublicKey, msgHash)
}

// Load decodes and parses a private key from the provided file path. path is
// expected to be a PEM formatted RSA private key in a PKCS #1 or PKCS #8
// container.
func Load(path string) (*rsa.PrivateKey, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read key file %q", path)
	}
	key, err := Parse(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	return key, nil
}

// Parse decodes the first PEM block in keyBytes as an RSA private key.
func Parse(keyBytes []byte) (*rsa.PrivateKey, error) {
	keyDER, _ := pem.Decode(keyBytes)
	if keyDER == nil {
		return nil, fmt.Errorf("no PEM formatted block found")
	}

	// Attempt to parse the PEM block as a private key in a PKCS #8 container.
	signer, err := x509.ParsePKCS8PrivateKey(keyDER.Bytes)
	if err == nil {
		rsaSigner, ok := signer.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("PKCS #8 key is a %T, not an RSA key", signer)
		}
		return rsaSigner, nil
	}

	// Attempt to parse the PEM block as a private key in a PKCS #1 container.
	rsaSigner, err := x509.ParsePKCS1PrivateKey(keyDER.Bytes)
	if err == nil {
		return rsaSigner, nil
	}
	return nil, fmt.Errorf("unable to parse %s block as an RSA private key", keyDER.Type)
}
