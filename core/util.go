package core

import (
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"os"
	"path"
	"runtime"
	"strings"
)

// BuildID is set by the compiler (using -ldflags "-X core.BuildID $(git rev-parse --short HEAD)")
// and is used by GetBuildID
var BuildID string

// BuildHost is set by the compiler and is used by GetBuildHost
var BuildHost string

// BuildTime is set by the compiler and is used by GetBuildTime
var BuildTime string

// KeyDigest produces the SHA256 digest of a provided public key's
// SubjectPublicKeyInfo, base64 encoded.
func KeyDigest(key crypto.PublicKey) (string, error) {
	digest, err := KeyDigestBytes(key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(digest[:]), nil
}

// KeyDigestBytes produces the SHA256 digest of a provided public key's
// SubjectPublicKeyInfo.
func KeyDigestBytes(key crypto.PublicKey) ([sha256.Size]byte, error) {
	keyDER, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(keyDER), nil
}

// KeyDigestHex returns a lower-case hex SHA256 SPKI digest, suitable for use
// as a filename.
func KeyDigestHex(key crypto.PublicKey) (string, error) {
	digest, err := KeyDigestBytes(key)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(digest[:]), nil
}

// KeyDigestEquals determines whether two public keys have the same digest.
func KeyDigestEquals(j, k crypto.PublicKey) bool {
	digestJ, errJ := KeyDigest(j)
	digestK, errK := KeyDigest(k)
	// Keys that don't have a valid digest (due to marshalling problems)
	// are never equal. So, e.g. nil keys are not equal.
	if errJ != nil || errK != nil {
		return false
	}
	return digestJ == digestK
}

// Unspecified is reported for build details not set at link time.
const Unspecified = "Unspecified"

// GetBuildID identifies what build is running.
func GetBuildID() (retID string) {
	retID = BuildID
	if retID == "" {
		retID = Unspecified
	}
	return
}

// GetBuildTime identifies when this build was made
func GetBuildTime() (retID string) {
	retID = BuildTime
	if retID == "" {
		retID = Unspecified
	}
	return
}

// GetBuildHost identifies the building host
func GetBuildHost() (retID string) {
	retID = BuildHost
	if retID == "" {
		retID = Unspecified
	}
	return
}

// Command returns the name of the running binary, or of the subcommand when
// the binary was invoked through a symlink.
func Command() string {
	return path.Base(os.Args[0])
}

// GoVersion returns the version of the Go toolchain the binary was built with.
func GoVersion() string {
	return strings.TrimPrefix(runtime.Version(), "go")
}
