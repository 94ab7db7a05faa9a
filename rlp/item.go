package rlp

import (
	"io"
	"math/big"
)

// Kind represents the type of an RLP value.
type Kind int

const (
	String Kind = iota // RLP string, including single bytes and the empty string.
	List               // RLP list.
)

// Item is a decoded RLP value: either a byte string or a list of items.
// Raw holds the complete encoding of the item including its prefix.
type Item struct {
	Kind    Kind
	Payload []byte  // content bytes when Kind == String
	Items   []*Item // children when Kind == List
	Raw     []byte
}

// Parse decodes a complete RLP item tree from b. Trailing bytes after the
// top-level item are an error.
func Parse(b []byte) (*Item, error) {
	item, n, err := Split(b)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, ErrTrailingBytes
	}
	return item, nil
}

// Split decodes the first RLP item from b and returns it together with the
// number of bytes consumed. Length prefixes must be canonical; the content
// of integer-valued strings is not checked here (peers are loose about
// leading zeros, tolerated by the Uint64/BigInt accessors).
func Split(b []byte) (*Item, int, error) {
	if len(b) == 0 {
		return nil, 0, io.ErrUnexpectedEOF
	}
	prefix := b[0]

	switch {
	case prefix <= 0x7f:
		// Single byte encodes itself.
		return &Item{Kind: String, Payload: b[0:1], Raw: b[0:1]}, 1, nil

	case prefix <= 0xb7:
		// Short string, 0-55 bytes.
		size := int(prefix - 0x80)
		if len(b) < 1+size {
			return nil, 0, ErrValueTooShort
		}
		if size == 1 && b[1] <= 0x7f {
			return nil, 0, ErrCanonSize
		}
		return &Item{Kind: String, Payload: b[1 : 1+size], Raw: b[:1+size]}, 1 + size, nil

	case prefix <= 0xbf:
		// Long string.
		size, hdr, err := longSize(b, prefix-0xb7)
		if err != nil {
			return nil, 0, err
		}
		if size <= 55 {
			return nil, 0, ErrCanonSize
		}
		if len(b) < hdr+size {
			return nil, 0, ErrValueTooShort
		}
		return &Item{Kind: String, Payload: b[hdr : hdr+size], Raw: b[:hdr+size]}, hdr + size, nil

	case prefix <= 0xf7:
		// Short list.
		size := int(prefix - 0xc0)
		if len(b) < 1+size {
			return nil, 0, ErrValueTooShort
		}
		items, err := splitAll(b[1 : 1+size])
		if err != nil {
			return nil, 0, err
		}
		return &Item{Kind: List, Items: items, Raw: b[:1+size]}, 1 + size, nil

	default:
		// Long list.
		size, hdr, err := longSize(b, prefix-0xf7)
		if err != nil {
			return nil, 0, err
		}
		if size <= 55 {
			return nil, 0, ErrCanonSize
		}
		if len(b) < hdr+size {
			return nil, 0, ErrValueTooShort
		}
		items, err := splitAll(b[hdr : hdr+size])
		if err != nil {
			return nil, 0, err
		}
		return &Item{Kind: List, Items: items, Raw: b[:hdr+size]}, hdr + size, nil
	}
}

// longSize reads a multi-byte content size. Returns the size and the total
// header length (tag byte plus size bytes).
func longSize(b []byte, lenOfLen byte) (int, int, error) {
	n := int(lenOfLen)
	if len(b) < 1+n {
		return 0, 0, ErrValueTooShort
	}
	if b[1] == 0 {
		return 0, 0, ErrCanonSize
	}
	if n > 8 {
		return 0, 0, ErrUintOverflow
	}
	var size uint64
	for _, c := range b[1 : 1+n] {
		size = size<<8 | uint64(c)
	}
	if size > uint64(int(^uint(0)>>1)) {
		return 0, 0, ErrUintOverflow
	}
	return int(size), 1 + n, nil
}

func splitAll(b []byte) ([]*Item, error) {
	var items []*Item
	for len(b) > 0 {
		item, n, err := Split(b)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		b = b[n:]
	}
	return items, nil
}

// Bytes returns the item's content as a byte string.
func (it *Item) Bytes() ([]byte, error) {
	if it.Kind != String {
		return nil, ErrExpectedString
	}
	return it.Payload, nil
}

// Uint64 interprets the item's content as a big-endian unsigned integer.
// Leading zero bytes are tolerated for peer compatibility.
func (it *Item) Uint64() (uint64, error) {
	if it.Kind != String {
		return 0, ErrExpectedString
	}
	b := it.Payload
	for len(b) > 0 && b[0] == 0 {
		b = b[1:]
	}
	if len(b) > 8 {
		return 0, ErrUintOverflow
	}
	var u uint64
	for _, c := range b {
		u = u<<8 | uint64(c)
	}
	return u, nil
}

// BigInt interprets the item's content as a big-endian unsigned integer of
// arbitrary size.
func (it *Item) BigInt() (*big.Int, error) {
	if it.Kind != String {
		return nil, ErrExpectedString
	}
	return new(big.Int).SetBytes(it.Payload), nil
}

// At returns the i-th child of a list item.
func (it *Item) At(i int) (*Item, error) {
	if it.Kind != List {
		return nil, ErrExpectedList
	}
	if i < 0 || i >= len(it.Items) {
		return nil, ErrValueTooShort
	}
	return it.Items[i], nil
}

// Len returns the number of children of a list item, or -1 for strings.
func (it *Item) Len() int {
	if it.Kind != List {
		return -1
	}
	return len(it.Items)
}
