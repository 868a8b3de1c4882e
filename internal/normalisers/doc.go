// Package normalisers turns fetched bytes into normalised text, one
// implementation per source kind. Registry dispatches on the kind decided
// at fetch time and stamps provenance onto the resulting document.
package normalisers
