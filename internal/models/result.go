package models

import "time"

// RetrievalResult is a chunk with its similarity to a query. Never persisted.
type RetrievalResult struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}

// Citation points from an answer back to the chunk that supported it.
type Citation struct {
	Marker       int     `json:"marker"`
	DocumentName string  `json:"document_name"`
	Excerpt      string  `json:"excerpt"`
	Score        float64 `json:"score"`
}

// Exchange is the single question/answer turn a scope's session retains.
type Exchange struct {
	ID        string     `json:"id"`
	Scope     string     `json:"scope"`
	Question  string     `json:"question"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	FollowUps []string   `json:"follow_ups"`
	// Complete is false when generation was interrupted; Answer then ends with a failure notice.
	Complete bool `json:"complete"`
	// Notices lists degraded-path messages (keyword fallback, failed expansion, ...).
	Notices   []string  `json:"notices,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
