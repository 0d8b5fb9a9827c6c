package goodkey

import (
	"crypto"
	"errors"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/native-crypto/genrsa/core"
)

// blockedKeys is a type for maintaining a map of Base64 encoded SHA256 hashes
// of SubjectPublicKeyInfo's that should be considered blocked.
// blockedKeys are created by using loadBlockedKeysList.
type blockedKeys map[string]bool

// blocked checks if the given public key is considered administratively
// blocked based on a Base64 encoded SHA256 hash of the SubjectPublicKeyInfo.
func (b blockedKeys) blocked(key crypto.PublicKey) (bool, error) {
	hash, err := core.KeyDigest(key)
	if err != nil {
		// A key we can't compute the digest for is always blocked, even if a
		// caller discards the error.
		return true, err
	}
	return b[hash], nil
}

// loadBlockedKeysList creates a blockedKeys object that can be used to check if
// a key is blocked. It creates a lookup map from a list of Base64 encoded
// SHA256 hashes of SubjectPublicKeyInfo's in the input YAML file
// with the expected format:
//
//	blocked:
//	  - cuwGhNNI6nfob5aqY90e7BleU6l7rfxku4X3UTJ3Z7M=
//	  <snipped>
//	  - Qebc1V3SkX3izkYRGNJilm9Bcuvf0oox4U2Rn+b4JOE=
//
// If no hashes are found in the input YAML an error is returned.
func loadBlockedKeysList(filename string) (*blockedKeys, error) {
	yamlBytes, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var list struct {
		BlockedHashes []string `yaml:"blocked"`
	}
	err = yaml.Unmarshal(yamlBytes, &list)
	if err != nil {
		return nil, err
	}

	if len(list.BlockedHashes) == 0 {
		return nil, errors.New("no blocked hashes in YAML")
	}

	blockedKeys := make(blockedKeys, len(list.BlockedHashes))
	for _, hash := range list.BlockedHashes {
		blockedKeys[hash] = true
	}
	return &blockedKeys, nil
}
