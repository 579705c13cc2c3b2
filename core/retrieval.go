package core

// RetrievalSource distinguishes where a retrieved snippet came from.
type RetrievalSource string

const (
	// SourceKnowledgeBase marks results from the curated vector store.
	SourceKnowledgeBase RetrievalSource = "knowledge_base"
	// SourceWeb marks results from live web search.
	SourceWeb RetrievalSource = "web"
)

// RetrievalResult is one context snippet handed to a specialist agent.
type RetrievalResult struct {
	Content string `json:"content"`
	Source  RetrievalSource `json:"source"`

	// Relevance is normalized to [0,1]; higher is better.
	Relevance float64 `json:"relevance_score"`

	// Provenance is a document id for knowledge-base results or a URL for
	// web results.
	Provenance string `json:"provenance"`
}
