// check-rsa loads an RSA private key from a PEM or JWK file, runs a
// sign/verify round trip with it, applies the key policy to its public half
// and prints the hex SHA-256 digest of its SubjectPublicKeyInfo.
package notmain

import (
	"crypto/rsa"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/native-crypto/genrsa/cmd"
	"github.com/native-crypto/genrsa/core"
	"github.com/native-crypto/genrsa/goodkey"
	"github.com/native-crypto/genrsa/keyenc"
	"github.com/native-crypto/genrsa/privatekey"
)

// loadKey reads path as a JWK when it ends in .json and as PEM otherwise.
func loadKey(path string) (*rsa.PrivateKey, error) {
	if strings.ToLower(filepath.Ext(path)) != ".json" {
		return privatekey.Load(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read key file %q", path)
	}
	jwk, err := keyenc.ParseJWK(data)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", path, err)
	}
	key, ok := jwk.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("loading %q: JWK holds a %T, not an RSA private key", path, jwk.Key)
	}
	return key, nil
}

// check loads the key at path, verifies it and applies the policy built from
// conf. It returns the key's SPKI digest.
func check(path string, conf *goodkey.Config) (string, error) {
	key, err := loadKey(path)
	if err != nil {
		return "", err
	}
	err = key.Validate()
	if err != nil {
		return "", fmt.Errorf("invalid key: %w", err)
	}
	err = privatekey.Verify(key)
	if err != nil {
		return "", fmt.Errorf("sign/verify self-test failed: %w", err)
	}
	policy, err := goodkey.NewPolicy(conf)
	if err != nil {
		return "", fmt.Errorf("loading key policy: %w", err)
	}
	err = policy.GoodKey(&key.PublicKey)
	if err != nil {
		return "", fmt.Errorf("key rejected by policy: %w", err)
	}
	return core.KeyDigestHex(&key.PublicKey)
}

func main() {
	keyPath := flag.String("key", "", "Path to a PEM or JWK (.json) RSA private key")
	weakKeys := flag.String("weak-keys", "", "Path to a JSON list of truncated weak key hashes")
	blockedKeys := flag.String("blocked-keys", "", "Path to a YAML list of blocked key digests")
	minBits := flag.Int("min-modulus-bits", 0, "Smallest acceptable modulus length (default 2048)")
	logLevel := flag.String("log-level", "info", "Stdout log level: error, warning, info or debug")
	flag.Parse()

	if *keyPath == "" {
		flag.Usage()
		os.Exit(1)
	}
	level, ok := cmd.LogLevels[*logLevel]
	if !ok {
		cmd.Fail(fmt.Sprintf("unknown --log-level %q", *logLevel))
	}
	logger := cmd.NewLogger(cmd.SyslogConfig{StdoutLevel: level, SyslogLevel: -1})
	logger.Debug(cmd.VersionString())

	digest, err := check(*keyPath, &goodkey.Config{
		WeakKeyFile:    *weakKeys,
		BlockedKeyFile: *blockedKeys,
		MinModulusBits: *minBits,
	})
	cmd.FailOnError(err, "Key check failed")
	logger.Infof("Key %q passed every check", *keyPath)
	fmt.Println(digest)
}

func init() {
	cmd.RegisterCommand("check-rsa", main, nil)
}
