// Package crdtdoc defines the replicated-document boundary of the
// collaboration core. The core never inspects document content; it only
// merges opaque update bytes and encodes full state for new replicas.
package crdtdoc

// Document is one replica of a collaboratively edited document.
//
// Merge must be commutative, associative, and idempotent across any delivery
// order and any number of redundant deliveries; the room layer relies on this
// to relay updates without ordering or acknowledgement.
//
// Callers serialize access. A Document is exclusively owned by one room,
// which holds its own lock across every Merge and EncodeState call.
type Document interface {
	// Merge applies an opaque update produced by any replica of the same
	// document. A failed merge leaves the document unchanged.
	Merge(update []byte) error

	// EncodeState encodes the full document state. The encoded bytes are a
	// valid update: merging them into a fresh replica reproduces the
	// document.
	EncodeState() ([]byte, error)
}

// Factory creates the replica for a newly opened document id.
type Factory func(docID string) (Document, error)
