// gen-rsa generates RSA key pairs in software. Candidate bytes come from
// crypto/rand or, when configured, from an HSM's PKCS#11 C_GenerateRandom.
// Every key is checked against the key policy and a sign/verify round trip
// before it is written to the output directory as JWK and PEM files. The
// public halves are optionally uploaded to an S3 bucket.
package notmain

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	awsl "github.com/aws/smithy-go/logging"
	"golang.org/x/term"

	"github.com/native-crypto/genrsa/cmd"
	"github.com/native-crypto/genrsa/config"
	"github.com/native-crypto/genrsa/dedup"
	"github.com/native-crypto/genrsa/features"
	"github.com/native-crypto/genrsa/goodkey"
	"github.com/native-crypto/genrsa/keygen"
	blog "github.com/native-crypto/genrsa/log"
	"github.com/native-crypto/genrsa/pkcs11helpers"
	"github.com/native-crypto/genrsa/privatekey"
	"github.com/native-crypto/genrsa/redis"
	"github.com/native-crypto/genrsa/storer"
)

const (
	defaultModulusBits = 4096
	defaultExponent    = 65537
)

type Config struct {
	GenRSA struct {
		// ModulusBits is the length of every generated modulus. Defaults to
		// 4096.
		ModulusBits int `yaml:"modulusBits" validate:"omitempty,min=512,max=16384"`
		// PublicExponent defaults to 65537.
		PublicExponent int64 `yaml:"publicExponent" validate:"omitempty,min=3"`
		// Count is the number of key pairs to generate. Defaults to 1.
		Count int `yaml:"count" validate:"min=0"`
		// Timeout bounds the whole run. Zero means no limit.
		Timeout config.Duration `yaml:"timeout" validate:"-"`

		SieveLimit        uint32 `yaml:"sieveLimit" validate:"omitempty,min=3"`
		MillerRabinRounds int    `yaml:"millerRabinRounds" validate:"min=0"`
		YieldAfter        int    `yaml:"yieldAfter" validate:"min=0"`
		MaxCandidates     int    `yaml:"maxCandidates" validate:"min=0"`

		// OutputDirectory must exist. Files are never overwritten.
		OutputDirectory string `yaml:"outputDirectory" validate:"required"`

		S3         *S3Config         `yaml:"s3" validate:"omitempty"`
		RedisDedup *RedisDedupConfig `yaml:"redisDedup" validate:"omitempty"`
		PKCS11     *cmd.PKCS11Config `yaml:"pkcs11" validate:"omitempty"`
		GoodKey    goodkey.Config    `yaml:"goodKey"`
		Features   map[string]bool   `yaml:"features"`
	} `yaml:"genRSA"`

	Syslog        cmd.SyslogConfig        `yaml:"syslog"`
	OpenTelemetry cmd.OpenTelemetryConfig `yaml:"openTelemetry"`
	DebugAddr     string                  `yaml:"debugAddr" validate:"omitempty,hostname_port"`
}

// S3Config describes the bucket public keys are uploaded to.
type S3Config struct {
	// Endpoint is the URL at which the S3-API-compatible object storage
	// service can be reached. It should be left blank when using AWS.
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	Region   string `yaml:"region" validate:"required"`
	// Bucket must be created, with appropriate permissions, beforehand.
	Bucket string `yaml:"bucket" validate:"required"`
	// CredsFile is the path to a file on disk containing AWS credentials.
	// The format of the credentials file is specified at
	// https://docs.aws.amazon.com/sdkref/latest/guide/file-format.html.
	CredsFile string `yaml:"credsFile" validate:"required"`
}

// RedisDedupConfig points the prime dedup set at a Redis set shared by every
// generator in the fleet.
type RedisDedupConfig struct {
	redis.Config `yaml:",inline"`
	Key          string `yaml:"key" validate:"required"`
}

// awsLogger implements the github.com/aws/smithy-go/logging.Logger interface.
type awsLogger struct {
	blog.Logger
}

func (log awsLogger) Logf(c awsl.Classification, format string, v ...interface{}) {
	switch c {
	case awsl.Debug:
		log.Debugf(format, v...)
	case awsl.Warn:
		log.Warningf(format, v...)
	}
}

// keyStorer is satisfied by *storer.Storer.
type keyStorer interface {
	Store(ctx context.Context, b *storer.Bundle) error
}

// checkKey re-validates the arithmetic of kp, applies the key policy to its
// public half, and runs a sign/verify round trip with its private half.
func checkKey(kp *keygen.KeyPair, policy *goodkey.KeyPolicy) error {
	err := kp.Validate()
	if err != nil {
		return err
	}
	pub, err := kp.PublicKey()
	if err != nil {
		return err
	}
	err = policy.GoodKey(pub)
	if err != nil {
		return fmt.Errorf("key rejected by policy: %w", err)
	}
	priv, err := kp.PrivateKey()
	if err != nil {
		return err
	}
	err = privatekey.Verify(priv)
	if err != nil {
		return fmt.Errorf("sign/verify self-test failed: %w", err)
	}
	return nil
}

// run generates count keys and stores each one that passes checkKey. It
// returns the digests of the stored keys.
func run(ctx context.Context, gen *keygen.Generator, policy *goodkey.KeyPolicy, st keyStorer, bits int, e *big.Int, count int, logger blog.Logger) ([]string, error) {
	var digests []string
	for i := 1; i <= count; i++ {
		kp, err := gen.Generate(ctx, bits, e)
		if err != nil {
			return digests, fmt.Errorf("generating key %d of %d: %w", i, count, err)
		}
		err = checkKey(kp, policy)
		if err != nil {
			return digests, fmt.Errorf("checking key %d of %d: %w", i, count, err)
		}
		bundle, err := storer.NewBundle(kp)
		if err != nil {
			return digests, fmt.Errorf("encoding key %d of %d: %w", i, count, err)
		}
		err = st.Store(ctx, bundle)
		if err != nil {
			return digests, fmt.Errorf("storing key %d of %d: %w", i, count, err)
		}
		logger.AuditInfof("Stored key %d of %d: %s digest=[%s]", i, count, kp, bundle.Digest)
		digests = append(digests, bundle.Digest)
	}
	return digests, nil
}

// readPIN returns the contents of pinFile, or prompts for the PIN on the
// terminal when pinFile is empty.
func readPIN(pinFile string, in *os.File, prompt io.Writer) (string, error) {
	if pinFile != "" {
		pc := cmd.PasswordConfig{PasswordFile: pinFile}
		return pc.Pass()
	}
	if !term.IsTerminal(int(in.Fd())) {
		return "", fmt.Errorf("no pinFile configured and %s is not a terminal", in.Name())
	}
	fmt.Fprint(prompt, "HSM PIN: ")
	pin, err := term.ReadPassword(int(in.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("reading PIN: %w", err)
	}
	return string(pin), nil
}

// entropySource returns the reader candidate bytes are drawn from and a func
// that releases it.
func entropySource(conf *cmd.PKCS11Config, logger blog.Logger) (io.Reader, func(), error) {
	if conf == nil {
		return rand.Reader, func() {}, nil
	}
	pin, err := readPIN(conf.PINFile, os.Stdin, os.Stderr)
	if err != nil {
		return nil, nil, err
	}
	ctx, session, err := pkcs11helpers.Initialize(conf.Module, conf.Slot, pin)
	if err != nil {
		return nil, nil, fmt.Errorf("opening PKCS#11 session: %w", err)
	}
	logger.Infof("Drawing candidate bytes from PKCS#11 module %q slot %d", conf.Module, conf.Slot)
	return pkcs11helpers.NewRandReader(ctx, session), func() {
		err := pkcs11helpers.Close(ctx, session)
		if err != nil {
			logger.Warningf("Closing PKCS#11 session: %s", err)
		}
	}, nil
}

func newS3Client(ctx context.Context, conf *S3Config, logger blog.Logger) (*s3.Client, error) {
	// Load the "default" AWS configuration, but override the set of config files
	// it reads from to be the empty set, and override the set of credentials
	// files it reads from to be just the one file specified in the Config. This
	// helps stop us from accidentally loading unexpected or undesired config.
	// Note that it *will* still load configuration from environment variables.
	awsConfig, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithSharedConfigFiles([]string{}),
		awsconfig.WithSharedCredentialsFiles([]string{conf.CredsFile}),
		awsconfig.WithRegion(conf.Region),
		awsconfig.WithHTTPClient(new(http.Client)),
		awsconfig.WithLogger(awsLogger{logger}),
		awsconfig.WithClientLogMode(aws.LogRequestEventMessage|aws.LogResponseEventMessage),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	s3opts := make([]func(*s3.Options), 0)
	if conf.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(conf.Endpoint)
			o.UsePathStyle = true
		})
	}
	return s3.NewFromConfig(awsConfig, s3opts...), nil
}

func main() {
	configFile := flag.String("config", "", "File path to the configuration file for this run")
	flag.Parse()
	if *configFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	var c Config
	err := cmd.ReadConfigFile(*configFile, &c)
	cmd.FailOnError(err, "Reading config file into config structure")

	err = features.Set(c.GenRSA.Features)
	cmd.FailOnError(err, "Failed to set feature flags")

	stats, logger, oTelShutdown := cmd.StatsAndLogging(c.Syslog, c.OpenTelemetry, c.DebugAddr)
	defer oTelShutdown(context.Background())
	logger.Info(cmd.VersionString())
	clk := cmd.Clock()

	bits := c.GenRSA.ModulusBits
	if bits == 0 {
		bits = defaultModulusBits
	}
	e := c.GenRSA.PublicExponent
	if e == 0 {
		e = defaultExponent
	}
	count := c.GenRSA.Count
	if count == 0 {
		count = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if c.GenRSA.Timeout.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.GenRSA.Timeout.Duration)
		defer cancel()
	}
	go cmd.CatchSignals(cancel)

	random, closeEntropy, err := entropySource(c.GenRSA.PKCS11, logger)
	cmd.FailOnError(err, "Failed to set up entropy source")
	defer closeEntropy()

	var seen dedup.Set
	if c.GenRSA.RedisDedup != nil {
		ring, err := c.GenRSA.RedisDedup.NewRing(stats)
		cmd.FailOnError(err, "Failed to create Redis ring")
		defer ring.Close()
		seen = dedup.NewRedis(ring, c.GenRSA.RedisDedup.Key, stats)
	}

	policy, err := goodkey.NewPolicy(&c.GenRSA.GoodKey)
	cmd.FailOnError(err, "Failed to load key policy")

	gen, err := keygen.New(keygen.Config{
		SieveLimit:        c.GenRSA.SieveLimit,
		MillerRabinRounds: c.GenRSA.MillerRabinRounds,
		YieldAfter:        c.GenRSA.YieldAfter,
		MaxCandidates:     c.GenRSA.MaxCandidates,
		Rand:              random,
	}, seen, stats, logger, clk)
	cmd.FailOnError(err, "Failed to create key generator")

	var st *storer.Storer
	if c.GenRSA.S3 != nil {
		s3client, err := newS3Client(ctx, c.GenRSA.S3, logger)
		cmd.FailOnError(err, "Failed to create S3 client")
		st, err = storer.New(c.GenRSA.OutputDirectory, s3client, c.GenRSA.S3.Bucket, stats, logger, clk)
		cmd.FailOnError(err, "Failed to create key storer")
	} else {
		st, err = storer.New(c.GenRSA.OutputDirectory, nil, "", stats, logger, clk)
		cmd.FailOnError(err, "Failed to create key storer")
	}

	digests, err := run(ctx, gen, &policy, st, bits, big.NewInt(e), count, logger)
	cmd.FailOnError(err, "Key generation run failed")
	for _, d := range digests {
		fmt.Println(d)
	}
}

func init() {
	cmd.RegisterCommand("gen-rsa", main, &cmd.ConfigValidator{Config: &Config{}})
}
