// Package errors provides internal-facing error types for use in key
// generation. They are used to tell callers which class of failure occurred
// without resorting to string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrorType provides a coarse category for KeyGenErrors. It implements the
// error interface so that it can be used as a target for errors.Is.
type ErrorType int

const (
	// InternalServer is the fallback category.
	InternalServer ErrorType = iota
	// Malformed indicates a key that was rejected by policy.
	Malformed
	NotFound
	// InvalidExponent indicates a public exponent that is even or <= 1.
	InvalidExponent
	// InvalidBitLength indicates a modulus length outside the accepted range.
	InvalidBitLength
	// SearchExhausted indicates a prime search that hit its candidate cap.
	SearchExhausted
	// ArithmeticInvariant indicates that a value which must exist (for
	// example a modular inverse after a successful coprimality check) does
	// not. It is only ever raised with panic.
	ArithmeticInvariant
)

func (ErrorType) Error() string {
	return "urn:genrsa:error"
}

func (t ErrorType) String() string {
	switch t {
	case InternalServer:
		return "internalServer"
	case Malformed:
		return "malformed"
	case NotFound:
		return "notFound"
	case InvalidExponent:
		return "invalidExponent"
	case InvalidBitLength:
		return "invalidBitLength"
	case SearchExhausted:
		return "searchExhausted"
	case ArithmeticInvariant:
		return "arithmeticInvariant"
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

// KeyGenError represents an error with a category attached.
type KeyGenError struct {
	Type   ErrorType
	Detail string
}

func (ke *KeyGenError) Error() string {
	return ke.Detail
}

// Unwrap returns the category so that errors.Is(err, berrors.Malformed) works
// on wrapped errors.
func (ke *KeyGenError) Unwrap() error {
	return ke.Type
}

// New is a convenience function for creating a new KeyGenError.
func New(errType ErrorType, msg string, args ...interface{}) error {
	return &KeyGenError{
		Type:   errType,
		Detail: fmt.Sprintf(msg, args...),
	}
}

// Is is a convenience function for testing the internal type of a
// KeyGenError anywhere in err's chain.
func Is(err error, errType ErrorType) bool {
	var kErr *KeyGenError
	if !errors.As(err, &kErr) {
		return false
	}
	return kErr.Type == errType
}

func InternalServerError(msg string, args ...interface{}) error {
	return New(InternalServer, msg, args...)
}

func MalformedError(msg string, args ...interface{}) error {
	return New(Malformed, msg, args...)
}

func NotFoundError(msg string, args ...interface{}) error {
	return New(NotFound, msg, args...)
}

func InvalidExponentError(msg string, args ...interface{}) error {
	return New(InvalidExponent, msg, args...)
}

func InvalidBitLengthError(msg string, args ...interface{}) error {
	return New(InvalidBitLength, msg, args...)
}

func SearchExhaustedError(msg string, args ...interface{}) error {
	return New(SearchExhausted, msg, args...)
}

func ArithmeticInvariantError(msg string, args ...interface{}) error {
	return New(ArithmeticInvariant, msg, args...)
}
