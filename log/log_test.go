package log

import (
	"bytes"
	"log/syslog"
	"strings"
	"testing"
	"time"

	"github.com/jmhodges/clock"

	"github.com/native-crypto/genrsa/test"
)

func setupStdout(t *testing.T, level int) (*impl, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	clk := clock.NewFake()
	clk.Set(time.Date(2026, time.October, 19, 12, 0, 0, 0, time.UTC))
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	return &impl{&stdoutWriter{
		prefix:    "host dc keytool[1]: ",
		level:     level,
		clkFormat: "15:04:05",
		clk:       clk,
		stdout:    stdout,
		stderr:    stderr,
	}}, stdout, stderr
}

func TestStdoutLevels(t *testing.T) {
	logger, stdout, stderr := setupStdout(t, int(syslog.LOG_INFO))

	logger.Debug("hidden")
	test.AssertEquals(t, stdout.String(), "")

	logger.Infof("generated %d-bit key", 2048)
	line := stdout.String()
	test.AssertContains(t, line, "12:00:00 host dc keytool[1]: 6 ")
	test.AssertContains(t, line, "generated 2048-bit key")

	logger.Warning("careful")
	test.AssertContains(t, stderr.String(), "4 ")
	test.AssertContains(t, stderr.String(), "careful")

	logger.AuditErr("bad thing")
	test.AssertContains(t, stderr.String(), "[AUDIT] bad thing")
}

func TestStdoutChecksum(t *testing.T) {
	logger, stdout, _ := setupStdout(t, int(syslog.LOG_DEBUG))
	logger.Info("multi\nline")

	line := strings.TrimSuffix(stdout.String(), "\n")
	test.AssertContains(t, line, `multi\nline`)

	// Everything after the level field is "<checksum> <message>".
	_, rest, found := strings.Cut(line, "keytool[1]: 6 ")
	test.Assert(t, found, "level field not found")
	test.AssertNotError(t, ValidateLine(rest), "checksum should validate")
	test.AssertError(t, ValidateLine("AAAAAA "+`multi\nline`), "corrupted checksum should not validate")
	test.AssertError(t, ValidateLine("nochecksum"), "line without checksum should not validate")
}

func TestNoFormattingWithoutArgs(t *testing.T) {
	logger, stdout, _ := setupStdout(t, int(syslog.LOG_DEBUG))
	logger.Info("100% done")
	test.AssertContains(t, stdout.String(), "100% done")
}

func TestMock(t *testing.T) {
	m := NewMock()
	m.Infof("prime found after %d candidates", 12)
	m.AuditInfo("key generated")
	m.Err("oops")

	test.AssertDeepEquals(t, m.GetAll(), []string{
		"INFO: prime found after 12 candidates",
		"INFO: [AUDIT] key generated",
		"ERR: [AUDIT] oops",
	})
	test.AssertEquals(t, len(m.GetAllMatching("AUDIT")), 2)
	test.AssertNotError(t, m.ExpectMatch("prime found"), "expected match")
	test.AssertError(t, m.ExpectMatch("never logged"), "unexpected match")

	m.Clear()
	test.AssertEquals(t, len(m.GetAll()), 0)
}

func TestAuditObject(t *testing.T) {
	m := NewMock()
	m.AuditObject("key", map[string]int{"bits": 2048})
	test.AssertDeepEquals(t, m.GetAll(), []string{`INFO: [AUDIT] key JSON={"bits":2048}`})

	m.Clear()
	m.AuditObject("bad", make(chan int))
	test.AssertEquals(t, len(m.GetAllMatching("could not be serialized")), 1)
}

func TestLogLineChecksum(t *testing.T) {
	test.AssertEquals(t, len(LogLineChecksum("hello")), 6)
	test.AssertEquals(t, LogLineChecksum("hello"), LogLineChecksum("hello"))
	test.AssertNotEquals(t, LogLineChecksum("hello"), LogLineChecksum("hellp"))
}
