// Package keyenc serializes generated key pairs as JSON Web Keys and PEM.
package keyenc

import (
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"

	"github.com/go-jose/go-jose/v4"

	"github.com/native-crypto/genrsa/keygen"
)

// Algorithm is the JWS algorithm advertised on generated JWKs.
const Algorithm = string(jose.RS256)

// JWK returns the public and private halves of kp as JSON Web Keys. Both
// carry an "ext": true member and the "key_ops" a WebCrypto import expects:
// ["verify"] for the public key and ["sign"] for the private key.
func JWK(kp *keygen.KeyPair) ([]byte, []byte, error) {
	priv, err := kp.PrivateKey()
	if err != nil {
		return nil, nil, err
	}

	privJWK := jose.JSONWebKey{Key: priv, Algorithm: Algorithm}
	if !privJWK.Valid() {
		return nil, nil, fmt.Errorf("private JWK is not valid")
	}
	pubJWK := privJWK.Public()

	pub, err := withKeyOps(pubJWK, "verify")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding public JWK: %w", err)
	}
	private, err := withKeyOps(privJWK, "sign")
	if err != nil {
		return nil, nil, fmt.Errorf("encoding private JWK: %w", err)
	}
	return pub, private, nil
}

// withKeyOps marshals k and merges the members go-jose does not know about.
func withKeyOps(k jose.JSONWebKey, op string) ([]byte, error) {
	raw, err := k.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var members map[string]interface{}
	err = json.Unmarshal(raw, &members)
	if err != nil {
		return nil, err
	}
	members["key_ops"] = []string{op}
	members["ext"] = true
	return json.Marshal(members)
}

// ParseJWK decodes a JWK produced by JWK. Unknown members are ignored.
func ParseJWK(data []byte) (*jose.JSONWebKey, error) {
	var k jose.JSONWebKey
	err := k.UnmarshalJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parsing JWK: %w", err)
	}
	return &k, nil
}

// PublicKeyDER returns the PKIX SubjectPublicKeyInfo encoding of kp.
func PublicKeyDER(kp *keygen.KeyPair) ([]byte, error) {
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, err
	}
	return x509.MarshalPKIXPublicKey(pub)
}

// PrivateKeyDER returns the PKCS #1 encoding of kp.
func PrivateKeyDER(kp *keygen.KeyPair) ([]byte, error) {
	priv, err := kp.PrivateKey()
	if err != nil {
		return nil, err
	}
	return x509.MarshalPKCS1PrivateKey(priv), nil
}

// PublicKeyPEM returns kp as a "PUBLIC KEY" PEM block.
func PublicKeyPEM(kp *keygen.KeyPair) ([]byte, error) {
	der, err := PublicKeyDER(kp)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// PrivateKeyPEM returns kp as an "RSA PRIVATE KEY" PEM block.
func PrivateKeyPEM(kp *keygen.KeyPair) ([]byte, error) {
	der, err := PrivateKeyDER(kp)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}), nil
}
