package crdtdoc

import (
	"fmt"

	"github.com/gpestana/rdoc"
)

// JSONDocument implements Document on top of rdoc, a JSON CRDT. Updates are
// JSON-patch-shaped operation sets; rdoc resolves concurrent edits so that
// replicas converge regardless of delivery order.
type JSONDocument struct {
	doc *rdoc.Doc
}

// NewJSONDocument creates an empty replica. The replica id feeds rdoc's
// operation identifiers and must differ between concurrently editing
// replicas; the server uses one replica per document id.
func NewJSONDocument(replicaID string) *JSONDocument {
	return &JSONDocument{doc: rdoc.Init(replicaID)}
}

// NewFactory returns a Factory producing a server-side rdoc replica per
// document.
func NewFactory() Factory {
	return func(docID string) (Document, error) {
		return NewJSONDocument("server:" + docID), nil
	}
}

// Merge applies an update from another replica.
func (d *JSONDocument) Merge(update []byte) error {
	if err := d.doc.Apply(update); err != nil {
		return fmt.Errorf("failed to apply update: %w", err)
	}
	return nil
}

// EncodeState encodes the full operation history of the document. Applying
// the result to a fresh replica reproduces the current state.
func (d *JSONDocument) EncodeState() ([]byte, error) {
	ops, err := d.doc.Operations()
	if err != nil {
		return nil, fmt.Errorf("failed to encode document state: %w", err)
	}
	return ops, nil
}

// Content returns the document rendered as plain JSON. Used by tests to
// check replica convergence; the collaboration core itself never calls it.
func (d *JSONDocument) Content() ([]byte, error) {
	data, err := d.doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return data, nil
}
