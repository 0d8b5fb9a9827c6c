package goodkey

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/native-crypto/genrsa/core"
	"github.com/native-crypto/genrsa/test"
)

func writeBlockedList(t *testing.T, hashes []string) string {
	t.Helper()
	var list struct {
		BlockedHashes []string `yaml:"blocked"`
	}
	list.BlockedHashes = hashes
	yamlList, err := yaml.Marshal(&list)
	test.AssertNotError(t, err, "error marshaling test blockedKeys list")

	path := filepath.Join(t.TempDir(), "blocked-keys.yaml")
	err = os.WriteFile(path, yamlList, 0640)
	test.AssertNotError(t, err, "error writing test blockedKeys yaml file")
	return path
}

func TestBlockedKeys(t *testing.T) {
	// Trying to load an empty list should error
	_, err := loadBlockedKeysList(writeBlockedList(t, nil))
	test.AssertError(t, err, "expected error loading empty blockedKeys yaml file")

	key := generatedKey(t)
	digest, err := core.KeyDigest(key)
	test.AssertNotError(t, err, "computing key digest")

	path := writeBlockedList(t, []string{
		"cuwGhNNI6nfob5aqY90e7BleU6l7rfxku4X3UTJ3Z7M=",
		digest,
	})
	outList, err := loadBlockedKeysList(path)
	test.AssertNotError(t, err, "unexpected error loading blockedKeys yaml file")

	// The key is acceptable to a policy without the list...
	policy := newPolicy(t, nil)
	test.AssertNotError(t, policy.GoodKey(key), "test key was blocked by key policy without block list")

	// ...and forbidden once the list is in place.
	policy.blockedList = outList
	err = policy.GoodKey(key)
	assertRejected(t, err, "test key was not blocked by key policy with block list")
	test.AssertContains(t, err.Error(), "forbidden")

	// Loading through the config gives the same result.
	policy = newPolicy(t, &Config{BlockedKeyFile: path})
	assertRejected(t, policy.GoodKey(key), "test key was not blocked by configured block list")
}

func TestBlockedKeysMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked-keys.yaml")
	err := os.WriteFile(path, []byte("blocked: [unterminated"), 0640)
	test.AssertNotError(t, err, "error writing test blockedKeys yaml file")
	_, err = loadBlockedKeysList(path)
	test.AssertError(t, err, "malformed YAML should not load")
}
