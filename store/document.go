package store

// Document owns an ordered run of memory chunks produced by one ingestion.
// It is created with the first chunk and never updated afterwards.
type Document struct {
	ID        string
	Source    string
	Tenant    TenantScope
	CreatedTs int64
}

// DocumentSummary is a read-only rollup of one document's memories.
type DocumentSummary struct {
	DocID       string `json:"doc_id"`
	Source      string `json:"source"`
	MemoryCount int64  `json:"memory_count"`
	Preview     string `json:"preview"` // text of the first chunk
	CreatedTs   int64  `json:"created_ts"`
}
