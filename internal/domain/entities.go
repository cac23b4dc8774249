package domain

import "time"

// Document is a single fetched source. RawText is the extractor output,
// Text is filled in by the normalizer before embedding.
type Document struct {
	URL       string
	Title     string
	Kind      ContentKind
	RawText   string
	Text      string
	FetchedAt time.Time
}

// SourceType returns the label stored alongside the record.
func (d Document) SourceType() string {
	if d.Kind == ContentPDF {
		return "pdf"
	}
	return "webpage"
}

type Source struct {
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	SourceType  string    `json:"source_type"`
	ContentHash string    `json:"content_hash,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EmbeddedRecord is what gets written to the knowledge store.
type EmbeddedRecord struct {
	ID     string
	Text   string
	Vector []float32
	Source Source
}

type ScoredRecord struct {
	Record EmbeddedRecord
	Score  float64
}

// Distance is the similarity metric a collection is created with.
type Distance string

const (
	DistanceCosine    Distance = "cosine"
	DistanceDot       Distance = "dot"
	DistanceEuclidean Distance = "l2-squared"
)

func (d Distance) Valid() bool {
	switch d {
	case DistanceCosine, DistanceDot, DistanceEuclidean:
		return true
	}
	return false
}

// Answer is the result of one pass of the retrieval loop.
type Answer struct {
	Question string    `json:"question"`
	Empty    bool      `json:"empty"`
	Fetched  int       `json:"fetched"`
	Stored   int       `json:"stored"`
	Snippets []Snippet `json:"snippets"`
	Text     string    `json:"text"`
}

type Snippet struct {
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}
