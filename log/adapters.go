package log

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"strings"

	"github.com/go-logr/stdr"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc/grpclog"
)

// InitAdapters routes the internal logging of the libraries we depend on
// through the given Logger.
func InitAdapters(logger Logger) {
	grpclog.SetLoggerV2(grpcLogger{logger})
	stdlog.SetOutput(logWriter{logger})
	redis.SetLogger(redisLogger{logger})
	otel.SetLogger(stdr.New(logOutput{logger}))
}

// grpcLogger implements the grpclog.LoggerV2 interface. gRPC is only present
// as the transport of the OpenTelemetry exporter.
type grpcLogger struct {
	Logger
}

// Ensure that fatal logs exit, because we use neither the gRPC default logger
// nor the stdlib default logger, both of which would call os.Exit(1) for us.
func (log grpcLogger) Fatal(args ...interface{}) {
	log.Error(args...)
	os.Exit(1)
}
func (log grpcLogger) Fatalf(format string, args ...interface{}) {
	log.Errorf(format, args...)
	os.Exit(1)
}
func (log grpcLogger) Fatalln(args ...interface{}) {
	log.Errorln(args...)
	os.Exit(1)
}

func (log grpcLogger) Error(args ...interface{}) {
	log.Logger.Err(fmt.Sprint(args...))
}
func (log grpcLogger) Errorf(format string, args ...interface{}) {
	log.Logger.Errf(format, args...)
}
func (log grpcLogger) Errorln(args ...interface{}) {
	log.Logger.Err(fmt.Sprintln(args...))
}

func (log grpcLogger) Warning(args ...interface{}) {
	log.Logger.Warning(fmt.Sprint(args...))
}
func (log grpcLogger) Warningf(format string, args ...interface{}) {
	log.Logger.Warningf(format, args...)
}
func (log grpcLogger) Warningln(args ...interface{}) {
	log.Logger.Warning(fmt.Sprintln(args...))
}

// Don't log any INFO-level gRPC stuff. In practice this is all noise.
func (log grpcLogger) Info(args ...interface{})                 {}
func (log grpcLogger) Infof(format string, args ...interface{}) {}
func (log grpcLogger) Infoln(args ...interface{})               {}

func (log grpcLogger) V(l int) bool {
	return false
}

// redisLogger implements the redis internal.Logging interface.
type redisLogger struct {
	Logger
}

func (rl redisLogger) Printf(ctx context.Context, format string, v ...interface{}) {
	rl.Infof(format, v...)
}

// logWriter implements the io.Writer interface.
type logWriter struct {
	Logger
}

func (lw logWriter) Write(p []byte) (int, error) {
	// Lines received by logWriter will always have a trailing newline.
	lw.Logger.Info(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// logOutput implements the log.Logger interface's Output method for use with logr
type logOutput struct {
	Logger
}

func (l logOutput) Output(calldepth int, logline string) error {
	l.Logger.Info(logline)
	return nil
}
