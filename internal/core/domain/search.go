package domain

import (
	"math"
	"sort"
)

// Default and maximum result counts for similarity queries.
const (
	DefaultTopK = 5
	MaxTopK     = 50
)

// Filter restricts a search to records whose metadata matches.
// The zero value matches everything.
type Filter struct {
	// Source restricts results to one document location.
	Source string `json:"source,omitempty"`

	// Metadata requires exact equality on each listed key.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsEmpty returns true if the filter has no constraints.
func (f Filter) IsEmpty() bool {
	return f.Source == "" && len(f.Metadata) == 0
}

// Matches reports whether a record satisfies the filter.
func (f Filter) Matches(r *Record) bool {
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	for k, v := range f.Metadata {
		if r.Metadata[k] != v {
			return false
		}
	}
	return true
}

// ClampK normalises a requested result count: zero or negative means the
// default, and values above MaxTopK are capped.
func ClampK(k, def int) int {
	if def <= 0 {
		def = DefaultTopK
	}
	if k <= 0 {
		k = def
	}
	if k > MaxTopK {
		k = MaxTopK
	}
	return k
}

// ScoredRecord is a record with its similarity to the query.
type ScoredRecord struct {
	Record

	// Score is the cosine similarity to the query embedding.
	Score float64 `json:"score"`

	// Rank is the 1-based position in the result.
	Rank int `json:"rank"`
}

// QueryResult is an ordered sequence of records ranked by similarity.
type QueryResult struct {
	// Query is the original query text.
	Query string `json:"query"`

	// Collection is the searched collection.
	Collection string `json:"collection"`

	// K is the result-count cap that was applied.
	K int `json:"k"`

	// QueryEmbedding is the embedding of Query.
	QueryEmbedding []float32 `json:"-"`

	// Matches holds at most K records, best first. Empty is a valid outcome.
	Matches []ScoredRecord `json:"matches"`
}

// Empty reports whether the query matched nothing.
func (q *QueryResult) Empty() bool {
	return len(q.Matches) == 0
}

// ContextBlock is ranked context assembled for insertion into an LLM prompt.
type ContextBlock struct {
	// Query is the original query text.
	Query string `json:"query"`

	// Collection is the searched collection.
	Collection string `json:"collection"`

	// Matches are the records the text was built from, in rank order.
	Matches []ScoredRecord `json:"matches"`

	// Text is the rendered context.
	Text string `json:"text"`
}

// Answer is an LLM response grounded on a context block.
type Answer struct {
	// Question is the user's question.
	Question string `json:"question"`

	// Text is the generated answer.
	Text string `json:"text"`

	// Model is the LLM model that produced Text.
	Model string `json:"model"`

	// Context is the retrieved context the answer was based on.
	Context *ContextBlock `json:"context"`
}

// SourceInfo summarises the records stored for one source.
type SourceInfo struct {
	// Source is the document location.
	Source string `json:"source"`

	// Origin is the ingestion reference the source was found through.
	Origin string `json:"origin,omitempty"`

	// Records is the number of stored chunks.
	Records int `json:"records"`

	// UpdatedAt is when the source was last replaced.
	UpdatedAt string `json:"updated_at"`
}

// CollectionInfo summarises a collection.
type CollectionInfo struct {
	// Name is the collection identifier.
	Name string `json:"name"`

	// Dimensions is the embedding size shared by every record.
	Dimensions int `json:"dimensions"`

	// Sources is the number of distinct sources.
	Sources int `json:"sources"`

	// Records is the total number of records.
	Records int `json:"records"`
}

// Cosine returns the cosine similarity of a and b. Vectors of different
// length or with zero magnitude score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// RankRecords orders records by descending score, breaking ties by chunk
// index then source, keeps at most k and assigns 1-based ranks.
func RankRecords(records []ScoredRecord, k int) []ScoredRecord {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := &records[i], &records[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.ChunkIndex != b.ChunkIndex {
			return a.ChunkIndex < b.ChunkIndex
		}
		return a.Source < b.Source
	})
	if k >= 0 && len(records) > k {
		records = records[:k]
	}
	for i := range records {
		records[i].Rank = i + 1
	}
	return records
}
