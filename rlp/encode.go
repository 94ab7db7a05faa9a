// Package rlp implements the canonical Recursive Length Prefix encoding
// used by all Ethereum wire and hashing formats. Integers are encoded as
// minimal big-endian byte strings (zero is the empty string); strings of
// up to 55 bytes carry a one-byte 0x80+len prefix, longer strings a
// 0xb7+len(len) prefix; lists use 0xc0/0xf7 analogously.
package rlp

import (
	"io"
	"math/big"
	"reflect"
)

// Encode writes the RLP encoding of val to w.
// val must be a supported type: bool, uint8/16/32/64, *big.Int,
// []byte, [N]byte, string, slice/array, or struct (exported fields only).
func Encode(w io.Writer, val interface{}) error {
	b, err := EncodeToBytes(val)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// EncodeToBytes returns the RLP encoding of val.
func EncodeToBytes(val interface{}) ([]byte, error) {
	return encodeValue(reflect.ValueOf(val))
}

// RawValue is spliced into the output verbatim; it must already be valid
// RLP.
type RawValue []byte

func encodeValue(v reflect.Value) ([]byte, error) {
	// Unwrap interfaces and pointers. A nil pointer encodes as the empty
	// string, matching the convention for optional fields (e.g. contract
	// creation "to").
	for v.Kind() == reflect.Interface || v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return []byte{0x80}, nil
		}
		v = v.Elem()
	}

	if v.Type() == reflect.TypeOf(RawValue(nil)) {
		return v.Bytes(), nil
	}

	if v.Type() == reflect.TypeOf(big.Int{}) {
		bi := v.Addr().Interface().(*big.Int)
		return encodeBigInt(bi)
	}

	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			return []byte{0x01}, nil
		}
		return []byte{0x80}, nil

	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return AppendUint(nil, v.Uint()), nil

	case reflect.String:
		return encodeString([]byte(v.String())), nil

	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return encodeString(v.Bytes()), nil
		}
		return encodeList(v)

	case reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			return encodeString(b), nil
		}
		return encodeList(v)

	case reflect.Struct:
		return encodeStruct(v)

	case reflect.Invalid:
		return []byte{0x80}, nil

	default:
		return nil, ErrUnsupportedType
	}
}

// AppendUint appends the RLP encoding of a uint64 to buf. Zero encodes as
// the empty string 0x80; values below 128 encode as themselves.
func AppendUint(buf []byte, u uint64) []byte {
	switch {
	case u == 0:
		return append(buf, 0x80)
	case u < 128:
		return append(buf, byte(u))
	default:
		b := putUintBigEndian(u)
		return append(append(buf, byte(0x80+len(b))), b...)
	}
}

// AppendString appends the RLP encoding of a byte string to buf.
func AppendString(buf, s []byte) []byte {
	return append(buf, encodeString(s)...)
}

func encodeBigInt(i *big.Int) ([]byte, error) {
	if i.Sign() < 0 {
		return nil, ErrNegativeBigInt
	}
	if i.Sign() == 0 {
		return []byte{0x80}, nil
	}
	b := i.Bytes()
	if len(b) == 1 && b[0] < 128 {
		return []byte{b[0]}, nil
	}
	return encodeString(b), nil
}

// EncodeBigInt returns the RLP encoding of a non-negative big integer.
// A nil value encodes as zero.
func EncodeBigInt(i *big.Int) ([]byte, error) {
	if i == nil {
		return []byte{0x80}, nil
	}
	return encodeBigInt(i)
}

func encodeString(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return b
	}
	return append(lengthPrefix(uint64(len(b)), 0x80), b...)
}

func encodeList(v reflect.Value) ([]byte, error) {
	var payload []byte
	for i := 0; i < v.Len(); i++ {
		item, err := encodeValue(v.Index(i))
		if err != nil {
			return nil, err
		}
		payload = append(payload, item...)
	}
	return WrapList(payload), nil
}

func encodeStruct(v reflect.Value) ([]byte, error) {
	var payload []byte
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if !t.Field(i).IsExported() {
			continue
		}
		item, err := encodeValue(v.Field(i))
		if err != nil {
			return nil, err
		}
		payload = append(payload, item...)
	}
	return WrapList(payload), nil
}

// WrapList prefixes an already-encoded concatenation of items with the
// appropriate list header.
func WrapList(payload []byte) []byte {
	return append(lengthPrefix(uint64(len(payload)), 0xc0), payload...)
}

// lengthPrefix returns the RLP length prefix for a payload of the given
// size. offset is 0x80 for strings, 0xc0 for lists.
func lengthPrefix(size uint64, offset byte) []byte {
	if size <= 55 {
		return []byte{offset + byte(size)}
	}
	b := putUintBigEndian(size)
	return append([]byte{offset + 55 + byte(len(b))}, b...)
}

// putUintBigEndian returns the minimal big-endian representation of u.
func putUintBigEndian(u uint64) []byte {
	var b [8]byte
	n := 0
	for i := 7; i >= 0; i-- {
		b[7-i] = byte(u >> (uint(i) * 8))
	}
	for n < 8 && b[n] == 0 {
		n++
	}
	return b[n:]
}
