package types

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Hash is the 32-byte blake2b digest identifying a transaction.
type Hash [32]byte

// String returns the hash as a 0x-prefixed hex string.
func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

// Transaction is one sanitized unit of work handed to the scheduler. The
// account lists are already resolved into read/write intent by the admission
// layer; the payload is opaque to scheduling and only interpreted by the
// execution callback. Transactions are immutable after construction.
type Transaction struct {
	payload  []byte
	writable []AccountKey
	readonly []AccountKey
	priority uint64
	hash     Hash
}

// NewTransaction builds a transaction from an opaque payload, its resolved
// writable/readonly account lists and a fee-derived priority. The account
// slices are copied; the hash commits to every field.
func NewTransaction(payload []byte, writable, readonly []AccountKey, priority uint64) *Transaction {
	tx := &Transaction{
		payload:  append([]byte(nil), payload...),
		writable: append([]AccountKey(nil), writable...),
		readonly: append([]AccountKey(nil), readonly...),
		priority: priority,
	}
	tx.hash = tx.computeHash()
	return tx
}

func (tx *Transaction) computeHash() Hash {
	h, _ := blake2b.New256(nil)
	var scratch [8]byte

	binary.BigEndian.PutUint64(scratch[:], uint64(len(tx.payload)))
	h.Write(scratch[:])
	h.Write(tx.payload)

	binary.BigEndian.PutUint64(scratch[:], uint64(len(tx.writable)))
	h.Write(scratch[:])
	for _, key := range tx.writable {
		h.Write(key[:])
	}

	binary.BigEndian.PutUint64(scratch[:], uint64(len(tx.readonly)))
	h.Write(scratch[:])
	for _, key := range tx.readonly {
		h.Write(key[:])
	}

	binary.BigEndian.PutUint64(scratch[:], tx.priority)
	h.Write(scratch[:])

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Hash returns the transaction digest.
func (tx *Transaction) Hash() Hash { return tx.hash }

// Priority returns the fee-derived priority supplied at admission.
func (tx *Transaction) Priority() uint64 { return tx.priority }

// Payload returns the opaque instruction payload.
func (tx *Transaction) Payload() []byte { return tx.payload }

// WritableAccounts returns the accounts this transaction writes. The
// returned slice must not be mutated.
func (tx *Transaction) WritableAccounts() []AccountKey { return tx.writable }

// ReadonlyAccounts returns the accounts this transaction reads. The returned
// slice must not be mutated.
func (tx *Transaction) ReadonlyAccounts() []AccountKey { return tx.readonly }

// AccountCount returns the total number of accounts the transaction touches.
func (tx *Transaction) AccountCount() int { return len(tx.writable) + len(tx.readonly) }
