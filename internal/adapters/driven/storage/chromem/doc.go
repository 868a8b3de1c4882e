// Package chromem provides a RecordStore backed by chromem-go, an embedded
// vector database persisted as one file per document under a directory.
//
// chromem-go has no notion of a source, so the store keeps a JSON sidecar
// (collections.json) with each collection's dimensionality and the record
// count, origin and update time of every source. Record fields that are not
// plain metadata travel in reserved "_"-prefixed metadata keys.
//
// chromem-go normalises embeddings on insert, so returned records carry
// unit-length vectors. Cosine scores are unaffected.
package chromem
