// Package pkcs11helpers draws random bytes from a PKCS#11 token so that key
// generation can use an HSM as its entropy source.
package pkcs11helpers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/miekg/pkcs11"
)

// PKCtx is the subset of *pkcs11.Ctx used here.
type PKCtx interface {
	GenerateRandom(pkcs11.SessionHandle, int) ([]byte, error)
	Logout(pkcs11.SessionHandle) error
	CloseSession(pkcs11.SessionHandle) error
}

// Initialize loads the module, opens a read-only session on slot and logs in
// with pin.
func Initialize(module string, slot uint, pin string) (PKCtx, pkcs11.SessionHandle, error) {
	ctx := pkcs11.New(module)
	if ctx == nil {
		return nil, 0, errors.New("failed to load module")
	}
	err := ctx.Initialize()
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't initialize context: %s", err)
	}

	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't open session: %s", err)
	}

	err = ctx.Login(session, pkcs11.CKU_USER, pin)
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't login: %s", err)
	}

	return ctx, session, nil
}

// Close logs out of and closes session.
func Close(ctx PKCtx, session pkcs11.SessionHandle) error {
	err := ctx.Logout(session)
	if err != nil {
		return fmt.Errorf("couldn't logout: %s", err)
	}
	err = ctx.CloseSession(session)
	if err != nil {
		return fmt.Errorf("couldn't close session: %s", err)
	}
	return nil
}

// RandReader is an io.Reader backed by C_GenerateRandom. A PKCS#11 session
// must not be used from two threads at once, so reads are serialized.
type RandReader struct {
	mu      sync.Mutex
	ctx     PKCtx
	session pkcs11.SessionHandle
}

// NewRandReader returns a RandReader drawing from session.
func NewRandReader(ctx PKCtx, session pkcs11.SessionHandle) *RandReader {
	return &RandReader{
		ctx:     ctx,
		session: session,
	}
}

// Read fills p completely or returns an error.
func (hrr *RandReader) Read(p []byte) (int, error) {
	hrr.mu.Lock()
	defer hrr.mu.Unlock()

	n := 0
	for n < len(p) {
		r, err := hrr.ctx.GenerateRandom(hrr.session, len(p)-n)
		if err != nil {
			return n, fmt.Errorf("generating random bytes: %w", err)
		}
		if len(r) == 0 {
			return n, errors.New("token returned no random bytes")
		}
		n += copy(p[n:], r)
	}
	return n, nil
}

type MockCtx struct {
	GenerateRandomFunc func(pkcs11.SessionHandle, int) ([]byte, error)
	LogoutFunc         func(pkcs11.SessionHandle) error
	CloseSessionFunc   func(pkcs11.SessionHandle) error
}

func (mc MockCtx) GenerateRandom(s pkcs11.SessionHandle, c int) ([]byte, error) {
	return mc.GenerateRandomFunc(s, c)
}

func (mc MockCtx) Logout(s pkcs11.SessionHandle) error {
	return mc.LogoutFunc(s)
}

func (mc MockCtx) CloseSession(s pkcs11.SessionHandle) error {
	return mc.CloseSessionFunc(s)
}
