package rlp

import "errors"

var (
	// ErrCanonSize is returned when a length prefix is not the shortest
	// possible encoding of the content size.
	ErrCanonSize = errors.New("rlp: non-canonical size information")

	// ErrValueTooShort is returned when the input ends before the announced
	// content size.
	ErrValueTooShort = errors.New("rlp: value size exceeds available input")

	// ErrExpectedString is returned when a list is found where a string
	// was required.
	ErrExpectedString = errors.New("rlp: expected string or byte")

	// ErrExpectedList is returned when a string is found where a list
	// was required.
	ErrExpectedList = errors.New("rlp: expected list")

	// ErrUintOverflow is returned when an integer does not fit in 64 bits.
	ErrUintOverflow = errors.New("rlp: uint overflow")

	// ErrUnsupportedType is returned by the encoder for values it cannot
	// represent.
	ErrUnsupportedType = errors.New("rlp: unsupported type")

	// ErrNegativeBigInt is returned when encoding a negative big integer.
	ErrNegativeBigInt = errors.New("rlp: cannot encode negative big.Int")

	// ErrTrailingBytes is returned by Parse when input continues past the
	// first top-level item.
	ErrTrailingBytes = errors.New("rlp: input contains trailing bytes")
)
