// Package domain defines the core business entities for ragpipe.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - RawDocument: Bytes fetched from a source reference
//   - Document: Normalised text of one fetched unit
//   - Chunk: A bounded slice of a document's text
//   - Record: A chunk plus its embedding as persisted in a collection
//   - SourceKind: The closed set of source variants
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
