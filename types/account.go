// Package types holds the basic value types shared by the scheduling
// packages: account keys, transactions and execution outcomes. Everything
// here is immutable after construction so values can cross goroutines
// freely.
package types

import (
	"bytes"
	"encoding/hex"
)

// AccountKeyLength is the fixed byte length of an account key.
const AccountKeyLength = 32

// AccountKey is an opaque fixed-size account identifier. The scheduler only
// ever uses it as a map key and for ordering; it carries no internal
// structure.
type AccountKey [AccountKeyLength]byte

// BytesToAccountKey sets b to an AccountKey, left-truncating or zero-padding
// on the left as needed.
func BytesToAccountKey(b []byte) AccountKey {
	var k AccountKey
	if len(b) > AccountKeyLength {
		b = b[len(b)-AccountKeyLength:]
	}
	copy(k[AccountKeyLength-len(b):], b)
	return k
}

// Bytes returns the key as a byte slice.
func (k AccountKey) Bytes() []byte { return k[:] }

// String returns the key as a 0x-prefixed hex string.
func (k AccountKey) String() string { return "0x" + hex.EncodeToString(k[:]) }

// Cmp compares two keys lexicographically, returning -1, 0 or 1.
func (k AccountKey) Cmp(other AccountKey) int { return bytes.Compare(k[:], other[:]) }

// Less reports whether k orders before other. Used by ordered collections.
func (k AccountKey) Less(other AccountKey) bool { return k.Cmp(other) < 0 }
