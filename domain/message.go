package domain

import (
	"math"
	"time"
)

type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
	SystemRole    Role = "system"
)

// Message is one entry of a conversation. Assistant messages start empty
// and grow while Streaming is true; after that the content is final.
type Message struct {
	ID              string           `json:"id"`
	Role            Role             `json:"role"`
	Content         string           `json:"content"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	MatchCount      int              `json:"match_count,omitempty"`
	Streaming       bool             `json:"streaming"`
	CreatedAt       time.Time        `json:"created_at"`
}

func (m Message) Clone() Message {
	out := m
	if m.Recommendations != nil {
		out.Recommendations = make([]Recommendation, len(m.Recommendations))
		for i, r := range m.Recommendations {
			out.Recommendations[i] = r.clone()
		}
	}
	return out
}

// Recommendation is a scored category match sent by the backend.
type Recommendation struct {
	CategoryID      string   `json:"category_id"`
	CategoryName    string   `json:"category_name"`
	Description     string   `json:"description"`
	ProgramName     string   `json:"program_name"`
	ProgramCode     string   `json:"program_code,omitempty"`
	SimilarityScore float64  `json:"similarity_score"`
	MatchReasons    []string `json:"match_reasons"`
	IsFree          bool     `json:"is_free"`
}

const (
	DefaultTopRecommendations = 10
	DefaultTopReasons         = 3
)

// MatchPercent is the similarity score as a whole percentage, clamped to 0..100.
func (r Recommendation) MatchPercent() int {
	p := int(math.Round(r.SimilarityScore * 100))
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

func (r Recommendation) TopReasons(n int) []string {
	if n <= 0 || n >= len(r.MatchReasons) {
		return r.MatchReasons
	}
	return r.MatchReasons[:n]
}

func (r Recommendation) clone() Recommendation {
	out := r
	if r.MatchReasons != nil {
		out.MatchReasons = append([]string(nil), r.MatchReasons...)
	}
	return out
}

// TopRecommendations returns at most n leading recommendations. The
// input is never reordered or modified.
func TopRecommendations(recs []Recommendation, n int) []Recommendation {
	if n <= 0 || n >= len(recs) {
		return recs
	}
	return recs[:n]
}
