// Package storer writes generated key material to a local directory and
// uploads the public halves to S3.
package storer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/native-crypto/genrsa/core"
	"github.com/native-crypto/genrsa/keyenc"
	"github.com/native-crypto/genrsa/keygen"
	blog "github.com/native-crypto/genrsa/log"
)

// simpleS3 matches the subset of the s3.Client interface which we use, to
// allow simpler mocking in tests.
type simpleS3 interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// File is one serialization of a key.
type File struct {
	Name        string
	ContentType string
	Data        []byte
	// Public files are world-readable on disk and uploaded to S3.
	Public bool
}

// Bundle is every serialization of one key pair, named by the hex SHA-256
// digest of its SubjectPublicKeyInfo.
type Bundle struct {
	Digest string
	Bits   int
	Files  []File
}

// NewBundle serializes kp as private and public JWKs and PEM files.
func NewBundle(kp *keygen.KeyPair) (*Bundle, error) {
	pub, err := kp.PublicKey()
	if err != nil {
		return nil, err
	}
	digest, err := core.KeyDigestHex(pub)
	if err != nil {
		return nil, fmt.Errorf("computing key digest: %w", err)
	}

	pubJWK, privJWK, err := keyenc.JWK(kp)
	if err != nil {
		return nil, err
	}
	pubPEM, err := keyenc.PublicKeyPEM(kp)
	if err != nil {
		return nil, err
	}
	privPEM, err := keyenc.PrivateKeyPEM(kp)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		Digest: digest,
		Bits:   kp.ModulusBits(),
		Files: []File{
			{Name: digest + ".jwk.json", ContentType: "application/jwk+json", Data: privJWK},
			{Name: digest + ".pub.jwk.json", ContentType: "application/jwk+json", Data: pubJWK, Public: true},
			{Name: digest + ".key.pem", ContentType: "application/x-pem-file", Data: privPEM},
			{Name: digest + ".pub.pem", ContentType: "application/x-pem-file", Data: pubPEM, Public: true},
		},
	}, nil
}

// Storer persists Bundles. Either sink may be disabled: an empty directory
// skips local files and a nil S3 client skips uploads.
type Storer struct {
	dir              string
	s3Client         simpleS3
	s3Bucket         string
	sizeHistogram    *prometheus.HistogramVec
	latencyHistogram prometheus.Histogram
	log              blog.Logger
	clk              clock.Clock
}

func New(
	dir string,
	s3Client simpleS3,
	s3Bucket string,
	stats prometheus.Registerer,
	log blog.Logger,
	clk clock.Clock,
) (*Storer, error) {
	if s3Client != nil && s3Bucket == "" {
		return nil, errors.New("an S3 client requires a bucket")
	}
	if dir != "" {
		fi, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("checking output directory: %w", err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("output path %q is not a directory", dir)
		}
	}

	sizeHistogram := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rsa_key_storer_sizes",
		Help:    "A histogram of the sizes (in bytes) of key files written by the storer",
		Buckets: []float64{256, 512, 1024, 2048, 4096, 8192, 16384, 32768},
	}, []string{"visibility"})
	stats.MustRegister(sizeHistogram)

	latencyHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "rsa_key_storer_upload_times",
		Help:    "A histogram of the time (in seconds) it took the storer to upload public keys",
		Buckets: []float64{0.01, 0.2, 0.5, 1, 2, 5, 10, 20, 50, 100},
	})
	stats.MustRegister(latencyHistogram)

	return &Storer{
		dir:              dir,
		s3Client:         s3Client,
		s3Bucket:         s3Bucket,
		sizeHistogram:    sizeHistogram,
		latencyHistogram: latencyHistogram,
		log:              log,
		clk:              clk,
	}, nil
}

// Store writes every file in b to the output directory, never replacing an
// existing file, and then uploads the public files.
func (s *Storer) Store(ctx context.Context, b *Bundle) error {
	for _, f := range b.Files {
		visibility := "private"
		if f.Public {
			visibility = "public"
		}
		s.sizeHistogram.WithLabelValues(visibility).Observe(float64(len(f.Data)))
	}

	if s.dir != "" {
		for _, f := range b.Files {
			err := s.writeFile(f)
			if err != nil {
				return err
			}
		}
		s.log.AuditInfof("Key written: digest=[%s] bits=[%d] dir=[%s]", b.Digest, b.Bits, s.dir)
	}

	if s.s3Client == nil {
		return nil
	}
	start := s.clk.Now()
	for _, f := range b.Files {
		if !f.Public {
			continue
		}
		err := s.upload(ctx, b, f)
		if err != nil {
			s.log.AuditErrf("Public key upload failed: digest=[%s] object=[%s] err=[%v]", b.Digest, f.Name, err)
			return err
		}
	}
	s.latencyHistogram.Observe(s.clk.Since(start).Seconds())
	s.log.AuditInfof("Public key uploaded: digest=[%s] bits=[%d] bucket=[%s]", b.Digest, b.Bits, s.s3Bucket)
	return nil
}

func (s *Storer) writeFile(f File) error {
	perm := os.FileMode(0600)
	if f.Public {
		perm = 0644
	}
	path := filepath.Join(s.dir, f.Name)
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("creating %q: %w", path, err)
	}
	_, err = out.Write(f.Data)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("writing %q: %w", path, err)
	}
	return out.Close()
}

// upload puts f in the bucket unless an object of the same name exists.
func (s *Storer) upload(ctx context.Context, b *Bundle, f File) error {
	_, err := s.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &s.s3Bucket,
		Key:    &f.Name,
	})
	if err == nil {
		return fmt.Errorf("object %q already exists in bucket %q", f.Name, s.s3Bucket)
	}
	var smithyErr *smithyhttp.ResponseError
	if !errors.As(err, &smithyErr) || smithyErr.HTTPStatusCode() != http.StatusNotFound {
		return fmt.Errorf("checking for object %q: %w", f.Name, err)
	}

	checksum := sha256.Sum256(f.Data)
	checksumb64 := base64.StdEncoding.EncodeToString(checksum[:])
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            &s.s3Bucket,
		Key:               &f.Name,
		Body:              bytes.NewReader(f.Data),
		ChecksumAlgorithm: types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    &checksumb64,
		ContentType:       &f.ContentType,
		Metadata:          map[string]string{"spkiSHA256": b.Digest, "modulusBits": fmt.Sprint(b.Bits)},
	})
	if err != nil {
		return fmt.Errorf("uploading %q: %w", f.Name, err)
	}
	return nil
}
