package pkcs11helpers

import (
	"errors"
	"io"
	"testing"

	"github.com/miekg/pkcs11"

	"github.com/native-crypto/genrsa/primes"
	"github.com/native-crypto/genrsa/test"
)

func TestRandReader(t *testing.T) {
	ctx := MockCtx{}
	var calls []int

	// test a token that returns everything asked for
	ctx.GenerateRandomFunc = func(_ pkcs11.SessionHandle, n int) ([]byte, error) {
		calls = append(calls, n)
		b := make([]byte, n)
		for i := range b {
			b[i] = 0xAA
		}
		return b, nil
	}
	buf := make([]byte, 32)
	n, err := NewRandReader(ctx, 1).Read(buf)
	test.AssertNotError(t, err, "Read failed")
	test.AssertEquals(t, n, 32)
	test.AssertEquals(t, buf[31], byte(0xAA))
	test.AssertDeepEquals(t, calls, []int{32})

	// test a token that returns at most 5 bytes per call
	calls = nil
	ctx.GenerateRandomFunc = func(_ pkcs11.SessionHandle, n int) ([]byte, error) {
		calls = append(calls, n)
		return make([]byte, min(n, 5)), nil
	}
	n, err = io.ReadFull(NewRandReader(ctx, 1), make([]byte, 12))
	test.AssertNotError(t, err, "short reads should be retried")
	test.AssertEquals(t, n, 12)
	test.AssertDeepEquals(t, calls, []int{12, 7, 2})

	// test a token that returns nothing
	ctx.GenerateRandomFunc = func(pkcs11.SessionHandle, int) ([]byte, error) {
		return nil, nil
	}
	_, err = NewRandReader(ctx, 1).Read(buf)
	test.AssertError(t, err, "Read didn't fail on empty response")

	// test GenerateRandom failing
	ctx.GenerateRandomFunc = func(pkcs11.SessionHandle, int) ([]byte, error) {
		return nil, errors.New("yup")
	}
	_, err = NewRandReader(ctx, 1).Read(buf)
	test.AssertError(t, err, "Read didn't fail on GenerateRandom error")
	test.AssertContains(t, err.Error(), "yup")
}

func TestRandReaderCandidate(t *testing.T) {
	ctx := MockCtx{
		GenerateRandomFunc: func(_ pkcs11.SessionHandle, n int) ([]byte, error) {
			return make([]byte, n), nil
		},
	}
	c, err := primes.Candidate(NewRandReader(ctx, 1), 16)
	test.AssertNotError(t, err, "drawing candidate from token")
	test.AssertEquals(t, c.Int64(), int64(1<<15|3))
}

func TestClose(t *testing.T) {
	var closed bool
	ctx := MockCtx{
		LogoutFunc: func(pkcs11.SessionHandle) error { return nil },
		CloseSessionFunc: func(pkcs11.SessionHandle) error {
			closed = true
			return nil
		},
	}
	test.AssertNotError(t, Close(ctx, 1), "Close failed")
	test.Assert(t, closed, "session was not closed")

	ctx.LogoutFunc = func(pkcs11.SessionHandle) error { return errors.New("not logged in") }
	closed = false
	test.AssertError(t, Close(ctx, 1), "Close didn't fail on Logout error")
	test.Assert(t, !closed, "session should not be closed after Logout failure")

	ctx.LogoutFunc = func(pkcs11.SessionHandle) error { return nil }
	ctx.CloseSessionFunc = func(pkcs11.SessionHandle) error { return errors.New("bad session") }
	test.AssertError(t, Close(ctx, 1), "Close didn't fail on CloseSession error")
}
